package control

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobboyms/inkwell/pkg/kvfile"
)

func newTestCaret(t *testing.T) *CaretControl {
	t.Helper()
	f, err := kvfile.Open(kvfile.Options{Dir: t.TempDir(), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { f.Close() })

	cc := NewCaretControl(f, zerolog.Nop())
	if err := cc.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var clock int64 = 1_000
	cc.Clock = func() int64 { return clock }
	return cc
}

func TestCaretApplyClientUpdateBeginsThenMoves(t *testing.T) {
	ctx := context.Background()
	cc := newTestCaret(t)

	if _, err := cc.ApplyClientUpdate(ctx, "s1", 0, 0, 0); err != nil {
		t.Fatalf("begin s1: %v", err)
	}
	if _, err := cc.ApplyClientUpdate(ctx, "s2", 0, 3, 0); err != nil {
		t.Fatalf("begin s2: %v", err)
	}

	snap, err := cc.GetSnapshot(ctx, nil)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if len(snap.Contents) != 2 {
		t.Fatalf("expected 2 live sessions, got %d", len(snap.Contents))
	}
	if snap.Contents["s1"].Color == snap.Contents["s2"].Color {
		t.Fatalf("expected distinct colors, both got %q", snap.Contents["s1"].Color)
	}

	if _, err := cc.ApplyClientUpdate(ctx, "s1", 0, 7, 2); err != nil {
		t.Fatalf("move s1: %v", err)
	}
	snap, err = cc.GetSnapshot(ctx, nil)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	s1 := snap.Contents["s1"]
	if s1.Index != 7 || s1.Length != 2 {
		t.Fatalf("s1 = %+v, want index 7 length 2", s1)
	}
	if s1.Color == "" {
		t.Fatalf("color should be preserved across a move, got empty")
	}
}

func TestCaretReapRemovesSession(t *testing.T) {
	ctx := context.Background()
	cc := newTestCaret(t)

	if _, err := cc.ApplyClientUpdate(ctx, "s1", 0, 0, 0); err != nil {
		t.Fatalf("begin: %v", err)
	}
	cc.Reap(ctx, "s1")

	snap, err := cc.GetSnapshot(ctx, nil)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if len(snap.Contents) != 0 {
		t.Fatalf("expected no live sessions after Reap, got %+v", snap.Contents)
	}
}

func TestCaretReapOnUnknownSessionIsANoop(t *testing.T) {
	ctx := context.Background()
	cc := newTestCaret(t)
	cc.Reap(ctx, "ghost") // must not panic or error visibly
}

// TestCaretIdleSweepEndsStaleSessions exercises the caret session
// idle-sweep scenario: a session that hasn't updated in over
// MaxSessionIdle gets reaped by the sweeper while a recently active one
// survives.
func TestCaretIdleSweepEndsStaleSessions(t *testing.T) {
	ctx := context.Background()
	cc := newTestCaret(t)

	var clock int64 = 0
	cc.Clock = func() int64 { return clock }

	if _, err := cc.ApplyClientUpdate(ctx, "stale", 0, 0, 0); err != nil {
		t.Fatalf("begin stale: %v", err)
	}

	clock = MaxSessionIdle.Milliseconds() - 1
	if _, err := cc.ApplyClientUpdate(ctx, "fresh", 0, 0, 0); err != nil {
		t.Fatalf("begin fresh: %v", err)
	}

	clock = MaxSessionIdle.Milliseconds() + 1
	if err := cc.sweepOnce(ctx, clock); err != nil {
		t.Fatalf("sweepOnce: %v", err)
	}

	snap, err := cc.base.GetSnapshot(ctx, nil)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if _, ok := snap.Contents["stale"]; ok {
		t.Fatalf("expected stale session reaped, got %+v", snap.Contents)
	}
	if _, ok := snap.Contents["fresh"]; !ok {
		t.Fatalf("expected fresh session to survive, got %+v", snap.Contents)
	}
}

func TestCaretGetSnapshotSchedulesSweepAtInterval(t *testing.T) {
	ctx := context.Background()
	cc := newTestCaret(t)

	var clock int64 = 0
	cc.Clock = func() int64 { return clock }

	if _, err := cc.ApplyClientUpdate(ctx, "stale", 0, 0, 0); err != nil {
		t.Fatalf("begin stale: %v", err)
	}

	clock = MaxSessionIdle.Milliseconds() + 1
	if _, err := cc.GetSnapshot(ctx, nil); err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		snap, err := cc.base.GetSnapshot(ctx, nil)
		if err != nil {
			t.Fatalf("GetSnapshot: %v", err)
		}
		if _, ok := snap.Contents["stale"]; !ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected the lazily-scheduled sweep to have reaped the stale session")
}
