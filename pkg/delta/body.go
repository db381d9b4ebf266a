// Package delta implements the three hard-coded OT algebras the control
// layer runs on: rich-text body deltas (insert/retain/delete with
// attributes), caret/selection deltas (per-session presence ops), and
// key-value property deltas. None of this is generic OT machinery: a
// general-purpose transform library would have to handle arbitrary op
// sequences and attribute schemas, which this document model never
// needs, so each algebra is its own small, concrete type, in the spirit
// of pkg/types.Comparable: a narrow interface with a handful of
// value-type implementations, not a framework.
package delta

import (
	"unicode/utf8"
)

// Attrs is a rich-text attribute map (bold, italic, link, ...). A key
// present with a nil value means "explicitly clear this attribute" when
// composed onto an existing retain/insert; StripNil removes such markers
// once a delta has been fully folded into a materialized snapshot.
type Attrs map[string]any

func (a Attrs) clone() Attrs {
	if len(a) == 0 {
		return nil
	}
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

func attrsEqual(a, b Attrs) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if v == nil || bv == nil {
			if v != bv {
				return false
			}
			continue
		}
		if v != bv {
			return false
		}
	}
	return true
}

// composeAttrs merges b over a; b's keys win, including explicit nils.
func composeAttrs(a, b Attrs) Attrs {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(Attrs, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// StripNilAttrs drops explicit-clear markers, for use when materializing
// a final snapshot (a document should never expose "cleared" markers,
// only the absence of the key).
func StripNilAttrs(d Body) Body {
	out := make([]Op, 0, len(d.Ops))
	for _, op := range d.Ops {
		op.Attrs = stripOne(op.Attrs)
		out = append(out, op)
	}
	return Body{Ops: out}
}

func stripOne(a Attrs) Attrs {
	if len(a) == 0 {
		return nil
	}
	var out Attrs
	for k, v := range a {
		if v == nil {
			continue
		}
		if out == nil {
			out = make(Attrs, len(a))
		}
		out[k] = v
	}
	return out
}

// Op is a single body delta operation. Exactly one of Insert/Retain/Delete
// is "set": Insert != nil for an insert, Delete > 0 for a delete,
// otherwise it's a retain of length Retain (Retain may legitimately be 0
// only transiently inside the iterator; a well-formed delta never stores
// a zero-length op).
type Op struct {
	Insert any   `bson:"insert,omitempty"` // string, or an opaque embed value
	Retain int   `bson:"retain,omitempty"`
	Delete int   `bson:"delete,omitempty"`
	Attrs  Attrs `bson:"attrs,omitempty"`
}

func (op Op) isInsert() bool { return op.Insert != nil }
func (op Op) isDelete() bool { return !op.isInsert() && op.Delete > 0 }
func (op Op) isRetain() bool { return !op.isInsert() && op.Delete == 0 }

func (op Op) length() int {
	switch {
	case op.isInsert():
		if s, ok := op.Insert.(string); ok {
			return utf8.RuneCountInString(s)
		}
		return 1 // embed: a single opaque unit
	case op.isDelete():
		return op.Delete
	default:
		return op.Retain
	}
}

// Body is the rich-text delta: an ordered sequence of retain/insert/delete
// ops. A Body with only Insert ops also serves as a document snapshot's
// contents, since composing a change onto empty contents is itself just
// that change's Insert ops in order, so the same type plays both roles:
// change-delta and materialized document.
type Body struct {
	Ops []Op `bson:"ops,omitempty"`
}

// IsEmpty reports whether the delta contributes nothing once zero-length
// ops (including empty-string inserts) are dropped and a trailing bare
// retain (no attributes) is chopped off.
func (d Body) IsEmpty() bool {
	b := &builder{}
	for _, op := range d.Ops {
		b.push(op)
	}
	return len(b.build().chop().Ops) == 0
}

func (d Body) chop() Body {
	if n := len(d.Ops); n > 0 {
		last := d.Ops[n-1]
		if last.isRetain() && len(last.Attrs) == 0 {
			return Body{Ops: d.Ops[:n-1]}
		}
	}
	return d
}

// builder normalizes a sequence of pushed ops the way quill-style delta
// libraries do: merges adjacent compatible ops and keeps inserts ahead of
// deletes at the same position so the result has one canonical shape.
type builder struct {
	ops []Op
}

func (b *builder) push(op Op) {
	if op.length() == 0 && !(op.isInsert() && op.Insert == "") {
		// zero-length retain/delete contribute nothing; a zero-length
		// string insert is also a no-op.
		if op.length() == 0 {
			return
		}
	}
	if op.isInsert() {
		if s, ok := op.Insert.(string); ok && s == "" {
			return
		}
	}

	n := len(b.ops)
	if n > 0 {
		last := &b.ops[n-1]

		// Canonical order: inserts precede deletes at the same position.
		if last.isDelete() && op.isInsert() {
			deleted := *last
			b.ops = b.ops[:n-1]
			b.push(op)
			b.push(deleted)
			return
		}

		if last.isDelete() && op.isDelete() {
			last.Delete += op.Delete
			return
		}

		if attrsEqual(last.Attrs, op.Attrs) {
			if last.isInsert() && op.isInsert() {
				ls, lok := last.Insert.(string)
				os_, ook := op.Insert.(string)
				if lok && ook {
					last.Insert = ls + os_
					return
				}
			} else if last.isRetain() && op.isRetain() {
				last.Retain += op.Retain
				return
			}
		}
	}
	b.ops = append(b.ops, op)
}

func (b *builder) build() Body {
	return Body{Ops: b.ops}
}

// iterator walks a Body's ops, able to split an op mid-way so compose and
// transform can walk two deltas in lockstep.
type iterator struct {
	ops    []Op
	index  int
	offset int
}

func newIterator(ops []Op) *iterator { return &iterator{ops: ops} }

func (it *iterator) hasNext() bool { return it.index < len(it.ops) }

// peekLength returns how much of the current op remains; an exhausted
// iterator behaves as an infinite retain, matching quill-delta semantics.
func (it *iterator) peekLength() int {
	if it.index >= len(it.ops) {
		return 1<<31 - 1
	}
	return it.ops[it.index].length() - it.offset
}

type opKind int

const (
	kindRetain opKind = iota
	kindInsert
	kindDelete
)

func (it *iterator) peekKind() opKind {
	if it.index >= len(it.ops) {
		return kindRetain
	}
	op := it.ops[it.index]
	switch {
	case op.isInsert():
		return kindInsert
	case op.isDelete():
		return kindDelete
	default:
		return kindRetain
	}
}

// next consumes up to length units (the whole rest of the current op if
// length < 0 or length >= what remains) and returns the resulting sub-op.
func (it *iterator) next(length int) Op {
	if it.index >= len(it.ops) {
		if length < 0 {
			length = 0
		}
		return Op{Retain: length}
	}

	op := it.ops[it.index]
	remaining := op.length() - it.offset
	if length < 0 || length > remaining {
		length = remaining
	}

	var result Op
	switch {
	case op.isDelete():
		result = Op{Delete: length}
	case op.isInsert():
		if s, ok := op.Insert.(string); ok {
			runes := []rune(s)
			result = Op{Insert: string(runes[it.offset : it.offset+length]), Attrs: op.Attrs.clone()}
		} else {
			result = Op{Insert: op.Insert, Attrs: op.Attrs.clone()}
		}
	default:
		result = Op{Retain: length, Attrs: op.Attrs.clone()}
	}

	if length == remaining {
		it.index++
		it.offset = 0
	} else {
		it.offset += length
	}
	return result
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Compose returns the delta equivalent to applying d then other in
// sequence: applying Compose(d, other) to a document yields the same
// result as applying d and then other. When d is itself a document
// (pure inserts), this is exactly how a change is materialized onto a
// snapshot.
func Compose(d, other Body) Body {
	it1 := newIterator(d.Ops)
	it2 := newIterator(other.Ops)
	b := &builder{}

	for it1.hasNext() || it2.hasNext() {
		switch {
		case it2.peekKind() == kindInsert:
			b.push(it2.next(-1))
		case it1.peekKind() == kindDelete:
			b.push(it1.next(-1))
		default:
			length := min(it1.peekLength(), it2.peekLength())
			op1 := it1.next(length)
			op2 := it2.next(length)

			switch {
			case op2.isDelete():
				if op1.isInsert() {
					// Deleting freshly inserted content cancels out.
					continue
				}
				b.push(Op{Delete: length})
			default: // op2 is retain (or the implicit infinite retain)
				attrs := composeAttrs(op1.Attrs, op2.Attrs)
				if op1.isInsert() {
					b.push(Op{Insert: op1.Insert, Attrs: attrs})
				} else {
					b.push(Op{Retain: length, Attrs: attrs})
				}
			}
		}
	}

	return b.build().chop()
}

// Transform rebases other to apply after d. aFirst controls the tiebreak
// when both deltas insert at the same position: aFirst=true means d's
// (the "a" operand's) insert is considered to already be there, so
// other's insert is pushed past it. Attribute conflicts on an
// overlapping retain always resolve in other's favor, independent of
// aFirst, since other is always the side being rebased forward and
// should win the last word on formatting it touched.
func Transform(d, other Body, aFirst bool) Body {
	it1 := newIterator(d.Ops)
	it2 := newIterator(other.Ops)
	b := &builder{}

	for it1.hasNext() || it2.hasNext() {
		if it1.peekKind() == kindInsert && (aFirst || it2.peekKind() != kindInsert) {
			op1 := it1.next(-1)
			b.push(Op{Retain: op1.length()})
			continue
		}
		if it2.peekKind() == kindInsert {
			b.push(it2.next(-1))
			continue
		}

		length := min(it1.peekLength(), it2.peekLength())
		op1 := it1.next(length)
		op2 := it2.next(length)

		switch {
		case op1.isDelete():
			// d already removed this span; other's op on it is moot.
			continue
		case op2.isDelete():
			b.push(Op{Delete: length})
		default:
			b.push(Op{Retain: length, Attrs: op2.Attrs.clone()})
		}
	}

	return b.build().chop()
}

// Diff returns a delta such that Compose(from, Diff(from, to)) == to.
// from and to are documents (pure-insert Bodies). This does not attempt
// a minimal diff, only a correct one: trim the common prefix/suffix of
// insert "atoms" (rune-or-embed plus its attributes) and replace the
// remaining middle span wholesale.
func Diff(from, to Body) Body {
	a := atoms(from)
	c := atoms(to)

	prefix := 0
	for prefix < len(a) && prefix < len(c) && a[prefix].equal(c[prefix]) {
		prefix++
	}

	suffix := 0
	for suffix < len(a)-prefix && suffix < len(c)-prefix &&
		a[len(a)-1-suffix].equal(c[len(c)-1-suffix]) {
		suffix++
	}

	b := &builder{}
	if prefix > 0 {
		b.push(Op{Retain: prefix})
	}
	if mid := len(a) - prefix - suffix; mid > 0 {
		b.push(Op{Delete: mid})
	}
	for _, at := range c[prefix : len(c)-suffix] {
		b.push(Op{Insert: at.value, Attrs: at.attrs.clone()})
	}
	if suffix > 0 {
		b.push(Op{Retain: suffix})
	}
	return b.build().chop()
}

type atom struct {
	value any
	attrs Attrs
}

func (x atom) equal(y atom) bool {
	return x.value == y.value && attrsEqual(x.attrs, y.attrs)
}

// atoms flattens a pure-insert Body into one atom per rune (or one per
// embed), the unit Diff compares over.
func atoms(d Body) []atom {
	out := make([]atom, 0, len(d.Ops))
	for _, op := range d.Ops {
		if !op.isInsert() {
			continue
		}
		if s, ok := op.Insert.(string); ok {
			for _, r := range s {
				out = append(out, atom{value: string(r), attrs: op.Attrs})
			}
		} else {
			out = append(out, atom{value: op.Insert, attrs: op.Attrs})
		}
	}
	return out
}

// Length returns the document length (in runes/embeds) a Body of pure
// inserts represents, or the number of units a change delta "covers" on
// its input side (retain+delete), whichever is meaningful for the op.
func Length(d Body) int {
	n := 0
	for _, op := range d.Ops {
		if op.isInsert() {
			n += op.length()
		}
	}
	return n
}

// Empty is the revision-0 document: no content.
func Empty() Body { return Body{} }
