package delta

// PropSnapshot is the materialized property state: a flat string-keyed
// map of scalar values (document title, read-only flag, locale, ...).
type PropSnapshot = map[string]any

// EmptyPropSnapshot is the revision-0 property state: no keys set.
func EmptyPropSnapshot() PropSnapshot { return PropSnapshot{} }

// PropOp sets or clears a single key. With Clear set, Apply deletes the
// key outright; otherwise the key is set to Value (a nil Value is stored
// as nil). Unlike body attrs, where a nil value is a clear marker kept
// through composition, clearing is carried by the Clear flag alone.
type PropOp struct {
	Key   string `bson:"key"`
	Value any    `bson:"value,omitempty"`
	Clear bool   `bson:"clear,omitempty"`
}

// PropertyDelta is an ordered list of PropOps.
type PropertyDelta struct {
	Ops []PropOp `bson:"ops,omitempty"`
}

// IsEmptyProperty reports whether the delta touches anything at all.
func IsEmptyProperty(d PropertyDelta) bool { return len(d.Ops) == 0 }

// Apply runs d's ops against base in order, last write per key wins.
func (d PropertyDelta) Apply(base PropSnapshot) PropSnapshot {
	out := make(PropSnapshot, len(base))
	for k, v := range base {
		out[k] = v
	}
	for _, op := range d.Ops {
		if op.Clear {
			delete(out, op.Key)
			continue
		}
		out[op.Key] = op.Value
	}
	return out
}

// ComposeProperty combines two property deltas into one with the same
// net effect as applying a then b.
func ComposeProperty(a, b PropertyDelta) PropertyDelta {
	ops := make([]PropOp, 0, len(a.Ops)+len(b.Ops))
	ops = append(ops, a.Ops...)
	ops = append(ops, b.Ops...)
	return PropertyDelta{Ops: ops}
}

// TransformProperty rebases other to apply after d. Same key conflicts
// resolve last-writer-wins; since other is by construction the delta
// meant to apply after d's effects land, it passes through unchanged.
func TransformProperty(d, other PropertyDelta, aFirst bool) PropertyDelta {
	return other
}

// DiffProperty returns a delta that turns from into to: a Clear op for
// every key present in from but absent from to, and a set op for every
// key whose value differs (or is newly present) in to.
func DiffProperty(from, to PropSnapshot) PropertyDelta {
	var ops []PropOp

	for k := range from {
		if _, ok := to[k]; !ok {
			ops = append(ops, PropOp{Key: k, Clear: true})
		}
	}
	for k, tv := range to {
		if fv, ok := from[k]; !ok || fv != tv {
			ops = append(ops, PropOp{Key: k, Value: tv})
		}
	}

	return PropertyDelta{Ops: ops}
}
