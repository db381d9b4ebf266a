package delta

import "testing"

func TestCaretApplyBeginUpdateEnd(t *testing.T) {
	base := EmptyCaretSnapshot()

	begin := CaretDelta{Ops: []CaretOp{{
		Kind:      CaretBegin,
		SessionID: "s1",
		Begin:     &Caret{SessionID: "s1", Color: "#ff0000", DocRevNum: 1},
	}}}
	snap := begin.Apply(base)
	if len(snap) != 1 || snap["s1"].Color != "#ff0000" {
		t.Fatalf("expected session s1 with color assigned, got %+v", snap)
	}

	update := CaretDelta{Ops: []CaretOp{{
		Kind: CaretUpdate, SessionID: "s1", Field: FieldIndex, Value: int64(42),
	}}}
	snap = update.Apply(snap)
	if snap["s1"].Index != 42 {
		t.Fatalf("expected index updated to 42, got %+v", snap["s1"])
	}
	if snap["s1"].Color != "#ff0000" {
		t.Fatalf("color must survive an update op, got %q", snap["s1"].Color)
	}

	end := CaretDelta{Ops: []CaretOp{{Kind: CaretEnd, SessionID: "s1"}}}
	snap = end.Apply(snap)
	if len(snap) != 0 {
		t.Fatalf("expected session removed, got %+v", snap)
	}
}

func TestCaretUpdateOnEndedSessionIsIgnored(t *testing.T) {
	base := Snapshot{"s1": {SessionID: "s1", Color: "#00ff00"}}
	d := CaretDelta{Ops: []CaretOp{{Kind: CaretUpdate, SessionID: "ghost", Field: FieldIndex, Value: int64(1)}}}
	got := d.Apply(base)
	if len(got) != 1 {
		t.Fatalf("expected update against unknown session to be a no-op, got %+v", got)
	}
}

func TestDiffCaretRoundTrips(t *testing.T) {
	from := Snapshot{
		"s1": {SessionID: "s1", Color: "#ff0000", Index: 3},
	}
	to := Snapshot{
		"s1": {SessionID: "s1", Color: "#ff0000", Index: 9},
		"s2": {SessionID: "s2", Color: "#00ff00", Index: 0},
	}

	d := DiffCaret(from, to)
	got := d.Apply(from)

	if len(got) != 2 {
		t.Fatalf("expected two sessions after replay, got %+v", got)
	}
	if got["s1"].Index != 9 {
		t.Fatalf("expected s1.Index == 9, got %d", got["s1"].Index)
	}
	if got["s2"].Color != "#00ff00" {
		t.Fatalf("expected s2 reconstructed with its color, got %+v", got["s2"])
	}
}

func TestDiffCaretEndedSession(t *testing.T) {
	from := Snapshot{"s1": {SessionID: "s1"}}
	to := Snapshot{}

	d := DiffCaret(from, to)
	got := d.Apply(from)
	if len(got) != 0 {
		t.Fatalf("expected session ended, got %+v", got)
	}
}
