package delta

// Caret is one session's presence record: where its cursor/selection
// sits in the body, which server revision it was computed against, and
// the color it was assigned at session start. Color is set once at
// Begin and never appears in an UpdateField op: a session's color is
// part of its identity, not a field a client ever edits.
type Caret struct {
	SessionID  string `bson:"sessionId"`
	Color      string `bson:"color"`
	DocRevNum  int64  `bson:"docRevNum"`
	Index      int    `bson:"index"`
	Length     int    `bson:"length"`
	LastActive int64  `bson:"lastActive"` // unix millis
}

func (c Caret) clone() Caret { return c }

// CaretField names the mutable fields an UpdateField op may touch.
type CaretField string

const (
	FieldDocRevNum  CaretField = "docRevNum"
	FieldIndex      CaretField = "index"
	FieldLength     CaretField = "length"
	FieldLastActive CaretField = "lastActive"
)

// CaretOpKind distinguishes the three caret op shapes.
type CaretOpKind int

const (
	CaretBegin CaretOpKind = iota
	CaretUpdate
	CaretEnd
)

// CaretOp is one operation against the caret snapshot (a map keyed by
// session ID). Exactly the fields relevant to Kind are populated.
type CaretOp struct {
	Kind      CaretOpKind `bson:"kind"`
	SessionID string      `bson:"sessionId"`
	Begin     *Caret      `bson:"begin,omitempty"`
	Field     CaretField  `bson:"field,omitempty"`
	Value     any         `bson:"value,omitempty"`
}

// CaretDelta is an ordered list of CaretOps. Unlike Body, a CaretDelta is
// never itself a snapshot: the snapshot is the map CaretDelta.Apply
// produces.
type CaretDelta struct {
	Ops []CaretOp `bson:"ops,omitempty"`
}

// Snapshot is the materialized caret state: one record per live session.
type Snapshot = map[string]Caret

// EmptyCaretSnapshot is the revision-0 caret state: no sessions.
func EmptyCaretSnapshot() Snapshot { return Snapshot{} }

// Apply runs d's ops against base in order, returning the resulting
// snapshot. base is not mutated.
func (d CaretDelta) Apply(base Snapshot) Snapshot {
	out := make(Snapshot, len(base))
	for k, v := range base {
		out[k] = v
	}
	for _, op := range d.Ops {
		switch op.Kind {
		case CaretBegin:
			if op.Begin != nil {
				out[op.SessionID] = op.Begin.clone()
			}
		case CaretUpdate:
			c, ok := out[op.SessionID]
			if !ok {
				continue // session already ended elsewhere in the batch
			}
			applyField(&c, op.Field, op.Value)
			out[op.SessionID] = c
		case CaretEnd:
			delete(out, op.SessionID)
		}
	}
	return out
}

func applyField(c *Caret, field CaretField, v any) {
	switch field {
	case FieldDocRevNum:
		if n, ok := toInt64(v); ok {
			c.DocRevNum = n
		}
	case FieldIndex:
		if n, ok := toInt64(v); ok {
			c.Index = int(n)
		}
	case FieldLength:
		if n, ok := toInt64(v); ok {
			c.Length = int(n)
		}
	case FieldLastActive:
		if n, ok := toInt64(v); ok {
			c.LastActive = n
		}
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// IsEmptyCaret reports whether a caret delta has no ops at all: caret
// deltas never carry a dead trailing op the way body retains do, so
// emptiness is just the absence of ops.
func IsEmptyCaret(d CaretDelta) bool { return len(d.Ops) == 0 }

// ComposeCaret combines two caret deltas into one with the same net
// effect as applying a then b: per (session, field) the later op wins,
// and a session ended by a is reborn if b begins it again.
func ComposeCaret(a, b CaretDelta) CaretDelta {
	ops := make([]CaretOp, 0, len(a.Ops)+len(b.Ops))
	ops = append(ops, a.Ops...)
	ops = append(ops, b.Ops...)
	return CaretDelta{Ops: ops}
}

// TransformCaret rebases other to apply after d. Per-session ops never
// touch another session's state, so the only conflicts are same-session,
// same-field races, which resolve last-writer-wins: other always stands
// as given, since it is by construction the op that will be applied
// after d's effects are already in the base snapshot.
func TransformCaret(d, other CaretDelta, aFirst bool) CaretDelta {
	return other
}

// DiffCaret returns a delta that turns from into to: ended sessions
// present in from but absent from to, new sessions present in to but
// absent from from (via Begin), and field-level updates for sessions
// present in both whose fields differ.
func DiffCaret(from, to Snapshot) CaretDelta {
	var ops []CaretOp

	for id, fc := range from {
		if _, ok := to[id]; !ok {
			ops = append(ops, CaretOp{Kind: CaretEnd, SessionID: id})
		}
		_ = fc
	}

	for id, tc := range to {
		fc, existed := from[id]
		if !existed {
			begin := tc
			ops = append(ops, CaretOp{Kind: CaretBegin, SessionID: id, Begin: &begin})
			continue
		}
		if fc.DocRevNum != tc.DocRevNum {
			ops = append(ops, CaretOp{Kind: CaretUpdate, SessionID: id, Field: FieldDocRevNum, Value: tc.DocRevNum})
		}
		if fc.Index != tc.Index {
			ops = append(ops, CaretOp{Kind: CaretUpdate, SessionID: id, Field: FieldIndex, Value: int64(tc.Index)})
		}
		if fc.Length != tc.Length {
			ops = append(ops, CaretOp{Kind: CaretUpdate, SessionID: id, Field: FieldLength, Value: int64(tc.Length)})
		}
		if fc.LastActive != tc.LastActive {
			ops = append(ops, CaretOp{Kind: CaretUpdate, SessionID: id, Field: FieldLastActive, Value: tc.LastActive})
		}
	}

	return CaretDelta{Ops: ops}
}
