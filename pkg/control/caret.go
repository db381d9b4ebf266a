package control

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/bobboyms/inkwell/pkg/caretcolor"
	"github.com/bobboyms/inkwell/pkg/delta"
	"github.com/bobboyms/inkwell/pkg/kvfile"
	"github.com/bobboyms/inkwell/pkg/snapshot"
)

// MaxSessionIdle is how long a caret session may go without an update
// before the sweeper ends it. SweepInterval (MAX_SESSION_IDLE/4, ~75s at
// the 5-minute default) governs how often getSnapshot schedules a sweep.
const (
	MaxSessionIdle = 5 * time.Minute
	SweepInterval  = MaxSessionIdle / 4
)

const storedSnapshotPath = "/caret/stored_snapshot"

var caretAlgebra = Algebra[delta.Snapshot, delta.CaretDelta]{
	Apply:     func(base delta.Snapshot, d delta.CaretDelta) delta.Snapshot { return d.Apply(base) },
	Compose:   delta.ComposeCaret,
	Transform: delta.TransformCaret,
	Diff:      delta.DiffCaret,
	IsEmpty:   delta.IsEmptyCaret,
	Empty:     func() delta.CaretDelta { return delta.CaretDelta{} },
	EmptyC:    delta.EmptyCaretSnapshot,
}

// storedSnapshotDoc is the envelope CaretControl.Validate checks at
// /caret/stored_snapshot when present.
type storedSnapshotDoc struct {
	RevNum   int64          `bson:"revNum"`
	Contents delta.Snapshot `bson:"contents"`
}

// CaretControl owns the ephemeral, per-session caret/presence state.
// Clock lets tests control wall-clock time; it defaults to time.Now in
// NewCaretControl.
type CaretControl struct {
	base  *Base[delta.Snapshot, delta.CaretDelta]
	Clock func() int64

	mu            sync.Mutex
	nextIdleCheck int64
}

func NewCaretControl(file *kvfile.File, log zerolog.Logger) *CaretControl {
	return &CaretControl{
		base: &Base[delta.Snapshot, delta.CaretDelta]{
			Part:    "caret",
			File:    file,
			Mgr:     snapshot.New[delta.Snapshot](log),
			Algebra: caretAlgebra,
			Rebase:  SimpleRebase[delta.Snapshot, delta.CaretDelta],
			Log:     log,
		},
		Clock: func() int64 { return time.Now().UnixMilli() },
	}
}

func (c *CaretControl) Init(ctx context.Context) error { return c.base.InitZero(ctx) }

func (c *CaretControl) CurrentRevNum(ctx context.Context) (int64, error) {
	return c.base.CurrentRevNum(ctx)
}

func (c *CaretControl) GetChange(ctx context.Context, n int64) (Change[delta.CaretDelta], error) {
	return c.base.GetChange(ctx, n)
}

func (c *CaretControl) GetChangeAfter(ctx context.Context, baseRevNum int64) (Change[delta.CaretDelta], error) {
	return c.base.GetChangeAfter(ctx, baseRevNum)
}

// GetSnapshot materializes the caret state and piggybacks a soft-timer
// idle-sweep check on every call: if wall-clock time has reached
// nextIdleCheck, it kicks off a sweep in the background (never blocking
// this call) and reschedules. Riding along on GetSnapshot means idle
// sessions get reaped without a dedicated background poller per
// document.
func (c *CaretControl) GetSnapshot(ctx context.Context, revNum *int64) (Snapshot[delta.Snapshot], error) {
	snap, err := c.base.GetSnapshot(ctx, revNum)
	if err != nil {
		return snap, err
	}
	c.maybeScheduleSweep()
	return snap, nil
}

func (c *CaretControl) maybeScheduleSweep() {
	now := c.Clock()
	c.mu.Lock()
	if now < c.nextIdleCheck {
		c.mu.Unlock()
		return
	}
	c.nextIdleCheck = now + SweepInterval.Milliseconds()
	c.mu.Unlock()

	go func() {
		if err := c.sweepOnce(context.Background(), c.Clock()); err != nil {
			c.base.Log.Warn().Err(err).Msg("caret idle sweep failed")
		}
	}()
}

// ApplyClientUpdate turns a client's (sessionId, docRevNum, index,
// length) report into a change: begin a new session (assigning a
// color) if none exists yet for sessionId, or else emit a field-wise
// diff against the session's prior state, preserving its color. Either
// way the result is submitted through the usual update path so rebase
// reconciles it with whatever other sessions changed concurrently.
func (c *CaretControl) ApplyClientUpdate(ctx context.Context, sessionID string, docRevNum int64, index, length int) (Change[delta.CaretDelta], error) {
	now := c.Clock()
	snap, err := c.base.GetSnapshot(ctx, nil)
	if err != nil {
		return Change[delta.CaretDelta]{}, err
	}

	oldCaret, existed := snap.Contents[sessionID]

	var d delta.CaretDelta
	if !existed {
		inUse := make([]string, 0, len(snap.Contents))
		for _, car := range snap.Contents {
			inUse = append(inUse, car.Color)
		}
		newCaret := delta.Caret{
			SessionID:  sessionID,
			Color:      caretcolor.Assign(inUse),
			DocRevNum:  docRevNum,
			Index:      index,
			Length:     length,
			LastActive: now,
		}
		d = delta.CaretDelta{Ops: []delta.CaretOp{{Kind: delta.CaretBegin, SessionID: sessionID, Begin: &newCaret}}}
	} else {
		newCaret := oldCaret
		newCaret.DocRevNum = docRevNum
		newCaret.Index = index
		newCaret.Length = length
		newCaret.LastActive = now
		d = delta.DiffCaret(delta.Snapshot{sessionID: oldCaret}, delta.Snapshot{sessionID: newCaret})
	}

	change := Change[delta.CaretDelta]{RevNum: snap.RevNum + 1, Delta: d, Timestamp: now, AuthorID: sessionID}
	return c.update(ctx, change)
}

// Reap removes a session whose owning connection the (out-of-scope)
// session layer has reclaimed, if it is still present. Lost races and
// timeouts are logged and swallowed rather than returned: another
// server may have already removed the same session, and the idle
// sweeper will finish the job either way.
func (c *CaretControl) Reap(ctx context.Context, sessionID string) {
	snap, err := c.base.GetSnapshot(ctx, nil)
	if err != nil {
		c.base.Log.Warn().Err(err).Str("sessionId", sessionID).Msg("caret session reap: snapshot failed")
		return
	}
	if _, ok := snap.Contents[sessionID]; !ok {
		return
	}

	d := delta.CaretDelta{Ops: []delta.CaretOp{{Kind: delta.CaretEnd, SessionID: sessionID}}}
	change := Change[delta.CaretDelta]{RevNum: snap.RevNum + 1, Delta: d, Timestamp: c.Clock()}
	if _, err := c.update(ctx, change); err != nil {
		c.base.Log.Info().Err(err).Str("sessionId", sessionID).
			Msg("caret session reap lost the race or timed out, leaving it to the idle sweeper")
	}
}

func (c *CaretControl) sweepOnce(ctx context.Context, nowMillis int64) error {
	snap, err := c.base.GetSnapshot(ctx, nil)
	if err != nil {
		return err
	}

	minTime := nowMillis - MaxSessionIdle.Milliseconds()
	var ops []delta.CaretOp
	for id, car := range snap.Contents {
		if car.LastActive < minTime {
			ops = append(ops, delta.CaretOp{Kind: delta.CaretEnd, SessionID: id})
		}
	}
	if len(ops) == 0 {
		return nil
	}

	d := delta.CaretDelta{Ops: ops}
	change := Change[delta.CaretDelta]{RevNum: snap.RevNum + 1, Delta: d, Timestamp: nowMillis}
	if _, err := c.update(ctx, change); err != nil {
		// A concurrent reap of the same sessions is absorbed by update's
		// rebase; any error that still reaches here is returned for the
		// caller to log.
		return err
	}
	c.base.Log.Info().Int("reaped", len(ops)).Msg("caret idle sweep ended stale sessions")
	return nil
}

// update runs change through the generic engine. Unlike Body/Property,
// caret changes are always constructed by this control itself (from a
// client report or housekeeping), so there is no separate client-facing
// validation layer beyond what ApplyClientUpdate/Reap/sweepOnce already
// guarantee by construction.
func (c *CaretControl) update(ctx context.Context, change Change[delta.CaretDelta]) (Change[delta.CaretDelta], error) {
	return c.base.Update(ctx, change)
}

// Validate runs the shared history-walk protocol and then additionally
// tolerates and checks an optional /caret/stored_snapshot: if present
// it must decode as a well-formed caret snapshot whose revision does
// not exceed the current one.
func (c *CaretControl) Validate(ctx context.Context, schemaVersion string) (Status, error) {
	status, err := c.base.Validate(ctx, schemaVersion)
	if err != nil || status != StatusOk {
		return status, err
	}

	res, err := c.base.File.Transact(ctx, []kvfile.Op{kvfile.ReadPath(storedSnapshotPath)})
	if err != nil {
		return StatusError, err
	}
	raw, ok := res.Reads[storedSnapshotPath]
	if !ok {
		return StatusOk, nil
	}

	var stored storedSnapshotDoc
	if err := bson.Unmarshal(raw, &stored); err != nil {
		return StatusError, nil
	}
	current, err := c.base.CurrentRevNum(ctx)
	if err != nil {
		return StatusError, err
	}
	if stored.RevNum > current {
		return StatusError, nil
	}
	return StatusOk, nil
}
