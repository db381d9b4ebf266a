// Package control implements the per-part control layer: Base's shared
// update/rebase/retry engine, specialized per part by an Algebra and a
// Rebase function, with BodyControl, CaretControl, and PropertyControl
// built on top of it.
package control

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobboyms/inkwell/pkg/codec"
	"github.com/bobboyms/inkwell/pkg/ierrors"
	"github.com/bobboyms/inkwell/pkg/kvfile"
	"github.com/bobboyms/inkwell/pkg/snapshot"
)

// Retry tuning for the fast-path/rebase-path loop in Update: a lost
// race backs off exponentially, bounded by MaxAppendTime overall so a
// client stuck behind a busy document fails loudly instead of hanging.
const (
	InitialAppendRetry = 50 * time.Millisecond
	RetryBackoffFactor = 5
	MaxAppendTime      = 20 * time.Second
)

// errLostRace is appendChange's internal signal that a transaction's
// preconditions were violated by a concurrent committer, never
// returned to a control's caller, always converted into a rebase-and-
// retry iteration by update.
var errLostRace = errors.New("control: lost the append race")

// Status is the outcome of a control's validation pass: whether the
// part's stored state is usable as-is, needs a schema migration, is
// missing entirely, or is corrupt.
type Status int

const (
	StatusOk Status = iota
	StatusNotFound
	StatusMigrate
	StatusError
)

// changeReadBatch bounds how many change paths get read back in one
// transact call while walking history during validation: a document
// with thousands of revisions must validate in bounded-size slices
// rather than one transaction spanning its entire history.
const changeReadBatch = 20

// schemaVersionPath is shared by every part's Validate: the schema
// version lives at one key for the whole file, not one per part.
const schemaVersionPath = "/schema_version"

// lookaheadGuard is how many revisions past the recorded current one
// validation checks for orphaned changes, a leftover from a crash that
// wrote change/<n> but never advanced revision_number to match.
const lookaheadGuard = 10

// Snapshot pairs a materialized content value with the revision it was
// built at.
type Snapshot[C any] struct {
	RevNum   int64
	Contents C
}

// Change is a change as seen by a control's callers: the revision it
// targets (on the way in, the base revision the client edited from; on
// the way out, the revision it was actually accepted at), the delta
// itself, and provenance.
type Change[D any] struct {
	RevNum    int64
	Delta     D
	Timestamp int64
	AuthorID  string
}

// Algebra is the OT algebra a control runs its part's delta/content
// types through. Apply/Compose/Diff/IsEmpty/Empty mirror pkg/delta's
// free functions for the part in question; Transform is only
// non-trivial for body (caret/property pass other through unchanged,
// per pkg/delta's TransformCaret/TransformProperty).
type Algebra[C, D any] struct {
	Apply     func(base C, d D) C
	Compose   func(a, b D) D
	Transform func(a, b D, aFirst bool) D
	Diff      func(from, to C) D
	IsEmpty   func(d D) bool
	Empty     func() D
	EmptyC    func() C
}

// RebaseFn computes the delta a control should actually append at
// currentSnap.RevNum+1 when a client's change was based on a revision
// that is no longer current. BodyRebase and SimpleRebase are the two
// implementations below.
type RebaseFn[C, D any] func(ctx context.Context, b *Base[C, D], change Change[D], baseSnap, expectedSnap, currentSnap Snapshot[C]) (D, error)

// Base is the shared engine behind BodyControl/CaretControl/
// PropertyControl: everything that doesn't depend on which rebase
// algorithm a part uses.
type Base[C, D any] struct {
	Part    string // "body", "caret", "prop"; used in paths and errors
	File    *kvfile.File
	Mgr     *snapshot.Manager[C]
	Algebra Algebra[C, D]
	Rebase  RebaseFn[C, D]
	Log     zerolog.Logger
}

func (b *Base[C, D]) revisionPath() string { return "/" + b.Part + "/revision_number" }
func (b *Base[C, D]) changePath(rev int64) string {
	return "/" + b.Part + "/change/" + strconv.FormatInt(rev, 10)
}

// CurrentRevNum returns the part's current revision number.
func (b *Base[C, D]) CurrentRevNum(ctx context.Context) (int64, error) {
	res, err := b.File.Transact(ctx, []kvfile.Op{kvfile.ReadPath(b.revisionPath())})
	if err != nil {
		return 0, err
	}
	raw, ok := res.Reads[b.revisionPath()]
	if !ok {
		return 0, &ierrors.BadDataError{Path: b.revisionPath(), Reason: "revision number missing"}
	}
	n, err := codec.DecodeScalar[int64](raw)
	if err != nil {
		return 0, &ierrors.BadDataError{Path: b.revisionPath(), Reason: "revision number not decodable: " + err.Error()}
	}
	return n, nil
}

// GetChange reads back the stored change at revision n.
func (b *Base[C, D]) GetChange(ctx context.Context, n int64) (Change[D], error) {
	var zero Change[D]
	current, err := b.CurrentRevNum(ctx)
	if err != nil {
		return zero, err
	}
	if n > current || n < 0 {
		return zero, &ierrors.RevisionNotAvailableError{Part: b.Part, Requested: n, CurrentRev: current}
	}
	path := b.changePath(n)
	res, err := b.File.Transact(ctx, []kvfile.Op{kvfile.ReadPath(path)})
	if err != nil {
		return zero, err
	}
	raw, ok := res.Reads[path]
	if !ok {
		// A change slot inside the recorded revision range is missing:
		// the stored history was truncated or damaged.
		return zero, &ierrors.RevisionNotAvailableError{Part: b.Part, Requested: n, CurrentRev: current}
	}
	stored, err := codec.DecodeChange[D](raw)
	if err != nil {
		return zero, &ierrors.BadDataError{Path: path, Reason: "change not decodable: " + err.Error()}
	}
	return Change[D]{RevNum: stored.RevNum, Delta: stored.Delta, Timestamp: stored.Timestamp, AuthorID: stored.AuthorID}, nil
}

// GetChangeAfter blocks until a revision beyond baseRevNum exists, then
// returns a synthetic change whose delta is the composition of every
// change from baseRevNum+1 through the (new) current revision. A
// storage-layer wait timeout just means nothing changed in that window
// and is retried silently rather than surfaced as an error to the
// caller, who is only waiting for the next real update.
func (b *Base[C, D]) GetChangeAfter(ctx context.Context, baseRevNum int64) (Change[D], error) {
	var zero Change[D]
	for {
		current, err := b.CurrentRevNum(ctx)
		if err != nil {
			return zero, err
		}
		if baseRevNum > current {
			return zero, &ierrors.RevisionNotAvailableError{Part: b.Part, Requested: baseRevNum, CurrentRev: current}
		}
		if baseRevNum < current {
			composed, err := b.GetComposedChanges(ctx, b.Algebra.Empty(), baseRevNum+1, current+1)
			if err != nil {
				return zero, err
			}
			return Change[D]{RevNum: current, Delta: composed}, nil
		}

		revBytes, err := codec.EncodeScalar(current)
		if err != nil {
			return zero, err
		}
		_, err = b.File.Transact(ctx, []kvfile.Op{kvfile.WhenPathNot(b.revisionPath(), revBytes)})
		if err != nil {
			if errors.Is(err, kvfile.ErrTimedOut) {
				b.Log.Debug().Str("part", b.Part).Msg("getChangeAfter wait timed out, retrying")
				continue
			}
			return zero, err
		}
		// Revision changed; loop re-reads current and returns.
	}
}

// GetComposedChanges folds the change deltas at revisions
// [startIncl, endExcl) onto base via Algebra.Compose, in order, giving
// one composed delta. GetChangeAfter and BodyRebase call it with
// base = Algebra.Empty(); snapshot contents are materialized separately
// by composedContents.
func (b *Base[C, D]) GetComposedChanges(ctx context.Context, base D, startIncl, endExcl int64) (D, error) {
	acc := base
	for r := startIncl; r < endExcl; r++ {
		ch, err := b.GetChange(ctx, r)
		if err != nil {
			return acc, err
		}
		acc = b.Algebra.Compose(acc, ch.Delta)
	}
	return acc, nil
}

// composedContents is GetComposedChanges specialized to folding changes
// onto a materialized content value (C, not D) via Algebra.Apply, the
// shape snapshot materialization and the caret/property "simple"
// rebase both need, as distinct from body's delta-level fold above.
func (b *Base[C, D]) composedContents(ctx context.Context, base C, startIncl, endExcl int64) (C, error) {
	acc := base
	for r := startIncl; r < endExcl; r++ {
		ch, err := b.GetChange(ctx, r)
		if err != nil {
			return acc, err
		}
		acc = b.Algebra.Apply(acc, ch.Delta)
	}
	return acc, nil
}

// GetSnapshot materializes the part's content at revNum (or, if nil,
// the current revision), via the snapshot manager's nearest-cached-base
// scan plus a forward fold over the remaining changes.
func (b *Base[C, D]) GetSnapshot(ctx context.Context, revNum *int64) (Snapshot[C], error) {
	var zero Snapshot[C]
	current, err := b.CurrentRevNum(ctx)
	if err != nil {
		return zero, err
	}
	target := current
	if revNum != nil {
		target = *revNum
		if target > current {
			return zero, &ierrors.RevisionNotAvailableError{Part: b.Part, Requested: target, CurrentRev: current}
		}
	}

	baseRev, baseContents, ok := b.Mgr.Nearest(target)
	if !ok {
		baseRev, baseContents = 0, b.Algebra.EmptyC()
	}
	if baseRev == target {
		return Snapshot[C]{RevNum: target, Contents: baseContents}, nil
	}

	switch {
	case !ok:
		b.Log.Info().Str("part", b.Part).Int64("rev", target).Msg("snapshot materialized from empty")
	case target-baseRev == 1:
		b.Log.Info().Str("part", b.Part).Int64("rev", target).Int64("base", baseRev).
			Msg("snapshot materialized from a single adjacent change")
	default:
		b.Log.Info().Str("part", b.Part).Int64("rev", target).Int64("base", baseRev).
			Msg("snapshot materialized across a multi-change span")
	}

	contents, err := b.Mgr.Get(ctx, target, func(ctx context.Context) (C, error) {
		return b.composedContents(ctx, baseContents, baseRev+1, target+1)
	})
	if err != nil {
		return zero, err
	}
	return Snapshot[C]{RevNum: target, Contents: contents}, nil
}

// appendChange runs a four-op transaction: guard the change slot is
// free, guard the revision counter is still where the caller expects,
// then write both. A lost race (either guard failing) is reported as
// errLostRace so Update can rebase and retry.
func (b *Base[C, D]) appendChange(ctx context.Context, rev int64, d D, timestamp int64, authorID string) error {
	payload, err := codec.EncodeChange(codec.Change[D]{RevNum: rev, Delta: d, Timestamp: timestamp, AuthorID: authorID})
	if err != nil {
		return err
	}
	prevRevBytes, err := codec.EncodeScalar(rev - 1)
	if err != nil {
		return err
	}
	newRevBytes, err := codec.EncodeScalar(rev)
	if err != nil {
		return err
	}

	changePath := b.changePath(rev)
	_, err = b.File.Transact(ctx, []kvfile.Op{
		kvfile.CheckPathAbsent(changePath),
		kvfile.CheckPathIs(b.revisionPath(), prevRevBytes),
		kvfile.WritePath(changePath, payload),
		kvfile.WritePath(b.revisionPath(), newRevBytes),
	})
	if err != nil {
		if errors.Is(err, kvfile.ErrPathNotEmpty) || errors.Is(err, kvfile.ErrPathMismatch) {
			return errLostRace
		}
		return err
	}
	return nil
}

// InitZero writes the revision-0 bootstrap entries every part needs: an
// empty change and a revision counter of 0. Revision 0 is defined to be
// the empty change over empty contents for every part, so a client
// that has never seen a real edit still has a well-formed base to diff
// and rebase against.
func (b *Base[C, D]) InitZero(ctx context.Context) error {
	revBytes, err := codec.EncodeScalar(int64(0))
	if err != nil {
		return err
	}
	changeBytes, err := codec.EncodeChange(codec.Change[D]{RevNum: 0, Delta: b.Algebra.Empty()})
	if err != nil {
		return err
	}
	_, err = b.File.Transact(ctx, []kvfile.Op{
		kvfile.WritePath(b.revisionPath(), revBytes),
		kvfile.WritePath(b.changePath(0), changeBytes),
	})
	return err
}

// Validate confirms the schema version and revision counter are
// present and decodable, walks every change from 0 through the current
// revision checking each one decodes, and makes sure nothing is
// recorded past the current revision (a sign of a crash mid-commit
// that wrote a change but never advanced the counter to match).
// PropertyControl reuses this unchanged; CaretControl layers its own
// stored_snapshot check on top of it.
func (b *Base[C, D]) Validate(ctx context.Context, schemaVersion string) (Status, error) {
	res, err := b.File.Transact(ctx, []kvfile.Op{kvfile.ReadPath(schemaVersionPath), kvfile.ReadPath(b.revisionPath())})
	if err != nil {
		return StatusError, err
	}
	verRaw, verOk := res.Reads[schemaVersionPath]
	revRaw, revOk := res.Reads[b.revisionPath()]
	if !verOk && !revOk {
		return StatusNotFound, nil
	}
	if !verOk || !revOk {
		return StatusError, nil
	}

	ver, err := codec.DecodeScalar[string](verRaw)
	if err != nil {
		return StatusError, nil
	}
	if ver != schemaVersion {
		return StatusMigrate, nil
	}

	rev, err := codec.DecodeScalar[int64](revRaw)
	if err != nil {
		return StatusError, nil
	}

	for start := int64(0); start <= rev; start += changeReadBatch {
		end := start + changeReadBatch
		if end > rev+1 {
			end = rev + 1
		}
		ops := make([]kvfile.Op, 0, end-start)
		for r := start; r < end; r++ {
			ops = append(ops, kvfile.ReadPath(b.changePath(r)))
		}
		res, err := b.File.Transact(ctx, ops)
		if err != nil {
			return StatusError, err
		}
		for r := start; r < end; r++ {
			raw, ok := res.Reads[b.changePath(r)]
			if !ok {
				return StatusError, nil
			}
			if _, err := codec.DecodeChange[D](raw); err != nil {
				return StatusError, nil
			}
		}
	}

	lookahead := make([]kvfile.Op, 0, lookaheadGuard)
	for r := rev + 1; r <= rev+lookaheadGuard; r++ {
		lookahead = append(lookahead, kvfile.ReadPath(b.changePath(r)))
	}
	res, err = b.File.Transact(ctx, lookahead)
	if err != nil {
		return StatusError, err
	}
	for r := rev + 1; r <= rev+lookaheadGuard; r++ {
		if _, ok := res.Reads[b.changePath(r)]; ok {
			return StatusError, nil
		}
	}

	return StatusOk, nil
}

// Update runs a client's change through the fast-path/rebase/retry loop
// and returns the correction the client must apply to reconcile its
// local state with what was actually recorded.
func (b *Base[C, D]) Update(ctx context.Context, change Change[D]) (Change[D], error) {
	var zero Change[D]
	if change.RevNum < 1 {
		return zero, &ierrors.BadValueError{Name: "change.RevNum", Reason: "must be at least 1"}
	}
	if b.Algebra.IsEmpty(change.Delta) {
		return Change[D]{RevNum: change.RevNum - 1, Delta: b.Algebra.Empty()}, nil
	}

	baseRev := change.RevNum - 1
	baseChange, err := b.GetChange(ctx, baseRev)
	if err != nil {
		return zero, err
	}
	if change.Timestamp < baseChange.Timestamp {
		return zero, &ierrors.BadValueError{
			Name:   "change.Timestamp",
			Reason: "must be monotone non-decreasing relative to the base revision's timestamp",
		}
	}

	baseSnap, err := b.GetSnapshot(ctx, &baseRev)
	if err != nil {
		return zero, err
	}
	expectedSnap := Snapshot[C]{RevNum: change.RevNum, Contents: b.Algebra.Apply(baseSnap.Contents, change.Delta)}

	deadline := time.Now().Add(MaxAppendTime)
	backoff := InitialAppendRetry

	for {
		currentSnap, err := b.GetSnapshot(ctx, nil)
		if err != nil {
			return zero, err
		}

		var toAppend D
		if currentSnap.RevNum == baseSnap.RevNum {
			toAppend = change.Delta
		} else {
			toAppend, err = b.Rebase(ctx, b, change, baseSnap, expectedSnap, currentSnap)
			if err != nil {
				return zero, err
			}
			if b.Algebra.IsEmpty(toAppend) {
				return Change[D]{RevNum: currentSnap.RevNum, Delta: b.Algebra.Empty()}, nil
			}
		}

		rev := currentSnap.RevNum + 1
		err = b.appendChange(ctx, rev, toAppend, change.Timestamp, change.AuthorID)
		if err == nil {
			finalSnap, err := b.GetSnapshot(ctx, &rev)
			if err != nil {
				return zero, err
			}
			correction := b.Algebra.Diff(expectedSnap.Contents, finalSnap.Contents)
			return Change[D]{RevNum: rev, Delta: correction, Timestamp: change.Timestamp, AuthorID: change.AuthorID}, nil
		}
		if !errors.Is(err, errLostRace) {
			return zero, err
		}

		if time.Now().After(deadline) {
			return zero, &ierrors.AbortedError{Reason: "update: exhausted retry budget against concurrent writers"}
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= RetryBackoffFactor
	}
}

// BodyRebase implements body's rebase algorithm: the client's delta is
// transformed against the composed server-side changes since the
// client's base (server changes taking insert priority), giving the
// delta to append on top of the current revision.
func BodyRebase[C, D any](ctx context.Context, b *Base[C, D], change Change[D], baseSnap, expectedSnap, currentSnap Snapshot[C]) (D, error) {
	dServer, err := b.GetComposedChanges(ctx, b.Algebra.Empty(), baseSnap.RevNum+1, currentSnap.RevNum+1)
	if err != nil {
		var zero D
		return zero, err
	}
	return b.Algebra.Transform(dServer, change.Delta, true), nil
}

// SimpleRebase implements the simpler rebase scheme used by caret and
// property, where transform isn't meaningful: fold every revision since
// the base onto the client's expected snapshot, then diff that result
// against the current snapshot to get the delta to append.
func SimpleRebase[C, D any](ctx context.Context, b *Base[C, D], change Change[D], baseSnap, expectedSnap, currentSnap Snapshot[C]) (D, error) {
	finalContents, err := b.composedContents(ctx, expectedSnap.Contents, baseSnap.RevNum+1, currentSnap.RevNum+1)
	if err != nil {
		var zero D
		return zero, err
	}
	return b.Algebra.Diff(currentSnap.Contents, finalContents), nil
}
