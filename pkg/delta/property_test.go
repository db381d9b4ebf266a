package delta

import "testing"

func TestPropertyApplySetAndClear(t *testing.T) {
	base := EmptyPropSnapshot()
	d := PropertyDelta{Ops: []PropOp{{Key: "title", Value: "Untitled"}}}
	snap := d.Apply(base)
	if snap["title"] != "Untitled" {
		t.Fatalf("expected title set, got %+v", snap)
	}

	clear := PropertyDelta{Ops: []PropOp{{Key: "title", Clear: true}}}
	snap = clear.Apply(snap)
	if _, ok := snap["title"]; ok {
		t.Fatalf("expected title cleared, got %+v", snap)
	}
}

func TestPropertyLastWriteWins(t *testing.T) {
	d := PropertyDelta{Ops: []PropOp{
		{Key: "locale", Value: "en-US"},
		{Key: "locale", Value: "pt-BR"},
	}}
	snap := d.Apply(EmptyPropSnapshot())
	if snap["locale"] != "pt-BR" {
		t.Fatalf("expected last write to win, got %v", snap["locale"])
	}
}

func TestDiffPropertyRoundTrips(t *testing.T) {
	from := PropSnapshot{"title": "A", "locked": true}
	to := PropSnapshot{"title": "B", "locale": "en-US"}

	d := DiffProperty(from, to)
	got := d.Apply(from)

	if got["title"] != "B" {
		t.Fatalf("expected title updated, got %+v", got)
	}
	if _, ok := got["locked"]; ok {
		t.Fatalf("expected locked cleared, got %+v", got)
	}
	if got["locale"] != "en-US" {
		t.Fatalf("expected locale added, got %+v", got)
	}
	if len(got) != 2 {
		t.Fatalf("expected exactly 2 keys, got %+v", got)
	}
}
