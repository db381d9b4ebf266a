package control

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobboyms/inkwell/pkg/delta"
	"github.com/bobboyms/inkwell/pkg/kvfile"
)

func newTestBody(t *testing.T) *BodyControl {
	t.Helper()
	f, err := kvfile.Open(kvfile.Options{Dir: t.TempDir(), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { f.Close() })

	bc := NewBodyControl(f, zerolog.Nop())
	if err := bc.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return bc
}

func TestBodyUpdateFastPathInsertsSequentially(t *testing.T) {
	ctx := context.Background()
	bc := newTestBody(t)

	out, err := bc.Update(ctx, Change[delta.Body]{RevNum: 1, Delta: delta.Body{Ops: []delta.Op{{Insert: "Hello"}}}})
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	if out.RevNum != 1 || !out.Delta.IsEmpty() {
		t.Fatalf("first update = %+v, want rev 1 with empty correction", out)
	}

	out, err = bc.Update(ctx, Change[delta.Body]{RevNum: 2, Delta: delta.Body{Ops: []delta.Op{{Retain: 5}, {Insert: " World"}}}})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if out.RevNum != 2 {
		t.Fatalf("second update rev = %d, want 2", out.RevNum)
	}

	snap, err := bc.GetSnapshot(ctx, nil)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if len(snap.Contents.Ops) != 1 || snap.Contents.Ops[0].Insert != "Hello World" {
		t.Fatalf("snapshot = %+v, want single insert \"Hello World\"", snap.Contents)
	}
}

// TestBodyUpdateRebasesAConcurrentClient exercises a "two clients edit
// concurrently, no data lost" scenario: both clients start from
// revision 1 ("Hello"), one inserts at the end, the other at the
// start, and the second commit must carry a correction that folds the
// first client's insert into what the second client sees.
func TestBodyUpdateRebasesAConcurrentClient(t *testing.T) {
	ctx := context.Background()
	bc := newTestBody(t)

	if _, err := bc.Update(ctx, Change[delta.Body]{RevNum: 1, Delta: delta.Body{Ops: []delta.Op{{Insert: "Hello"}}}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	clientA := Change[delta.Body]{RevNum: 2, Delta: delta.Body{Ops: []delta.Op{{Retain: 5}, {Insert: "!"}}}}
	if _, err := bc.Update(ctx, clientA); err != nil {
		t.Fatalf("client A update: %v", err)
	}

	clientB := Change[delta.Body]{RevNum: 2, Delta: delta.Body{Ops: []delta.Op{{Insert: ">> "}}}}
	out, err := bc.Update(ctx, clientB)
	if err != nil {
		t.Fatalf("client B update: %v", err)
	}
	if out.RevNum != 3 {
		t.Fatalf("client B committed at rev %d, want 3", out.RevNum)
	}

	snap, err := bc.GetSnapshot(ctx, nil)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if len(snap.Contents.Ops) != 1 || snap.Contents.Ops[0].Insert != ">> Hello!" {
		t.Fatalf("snapshot = %+v, want single insert \">> Hello!\"", snap.Contents)
	}
}

func TestBodyUpdateRejectsOutOfRangeRevNum(t *testing.T) {
	ctx := context.Background()
	bc := newTestBody(t)

	_, err := bc.Update(ctx, Change[delta.Body]{RevNum: 5, Delta: delta.Body{Ops: []delta.Op{{Insert: "x"}}}})
	if err == nil {
		t.Fatal("expected an error for a revision far beyond current")
	}
}

func TestBodyUpdateEmptyDeltaIsANoop(t *testing.T) {
	ctx := context.Background()
	bc := newTestBody(t)

	out, err := bc.Update(ctx, Change[delta.Body]{RevNum: 1, Delta: delta.Body{}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if out.RevNum != 0 {
		t.Fatalf("empty update returned rev %d, want 0 (unchanged)", out.RevNum)
	}
	current, err := bc.CurrentRevNum(ctx)
	if err != nil || current != 0 {
		t.Fatalf("CurrentRevNum = %d, %v, want 0 unchanged", current, err)
	}
}

func TestBodyGetChangeAfterSuspendsUntilNextRevision(t *testing.T) {
	ctx := context.Background()
	bc := newTestBody(t)

	done := make(chan Change[delta.Body], 1)
	go func() {
		ch, err := bc.GetChangeAfter(ctx, 0)
		if err != nil {
			t.Errorf("GetChangeAfter: %v", err)
			return
		}
		done <- ch
	}()

	if _, err := bc.Update(ctx, Change[delta.Body]{RevNum: 1, Delta: delta.Body{Ops: []delta.Op{{Insert: "x"}}}}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	select {
	case ch := <-done:
		if ch.RevNum != 1 {
			t.Fatalf("GetChangeAfter returned rev %d, want 1", ch.RevNum)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GetChangeAfter did not resume after the revision advanced")
	}
}
