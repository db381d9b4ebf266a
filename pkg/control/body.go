package control

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/bobboyms/inkwell/pkg/delta"
	"github.com/bobboyms/inkwell/pkg/ierrors"
	"github.com/bobboyms/inkwell/pkg/kvfile"
	"github.com/bobboyms/inkwell/pkg/snapshot"
)

// bodyAlgebra wires pkg/delta's Body functions into the generic Algebra
// shape Base needs. Content and delta are the same type for body: a
// Body is both a document (pure-insert ops) and a change (mixed
// retain/insert/delete ops). Compose treats the former as a prior
// document being folded forward by the latter.
var bodyAlgebra = Algebra[delta.Body, delta.Body]{
	Apply:     delta.Compose,
	Compose:   delta.Compose,
	Transform: delta.Transform,
	Diff:      delta.Diff,
	IsEmpty:   delta.Body.IsEmpty,
	Empty:     delta.Empty,
	EmptyC:    delta.Empty,
}

// BodyControl owns the body part's revision history: the rich-text
// document itself, as a sequence of OT changes.
type BodyControl struct {
	base *Base[delta.Body, delta.Body]
}

// NewBodyControl wires a BodyControl against an already-open file.
// Bootstrap is responsible for writing the initial body/revision_number
// and body/change/0 entries before any control method is called.
func NewBodyControl(file *kvfile.File, log zerolog.Logger) *BodyControl {
	return &BodyControl{base: &Base[delta.Body, delta.Body]{
		Part:    "body",
		File:    file,
		Mgr:     snapshot.New[delta.Body](log),
		Algebra: bodyAlgebra,
		Rebase:  BodyRebase[delta.Body, delta.Body],
		Log:     log,
	}}
}

func (c *BodyControl) CurrentRevNum(ctx context.Context) (int64, error) { return c.base.CurrentRevNum(ctx) }

func (c *BodyControl) GetChange(ctx context.Context, n int64) (Change[delta.Body], error) {
	return c.base.GetChange(ctx, n)
}

func (c *BodyControl) GetChangeAfter(ctx context.Context, baseRevNum int64) (Change[delta.Body], error) {
	return c.base.GetChangeAfter(ctx, baseRevNum)
}

func (c *BodyControl) GetSnapshot(ctx context.Context, revNum *int64) (Snapshot[delta.Body], error) {
	return c.base.GetSnapshot(ctx, revNum)
}

// Update validates the incoming change before handing it to the shared
// update engine: a body change's ops must be a structurally well-formed
// delta (enforced by pkg/delta's own construction, so the only thing
// left to check here is the declared base revision).
func (c *BodyControl) Update(ctx context.Context, change Change[delta.Body]) (Change[delta.Body], error) {
	current, err := c.base.CurrentRevNum(ctx)
	if err != nil {
		return Change[delta.Body]{}, err
	}
	if change.RevNum < 1 || change.RevNum > current+1 {
		return Change[delta.Body]{}, &ierrors.BadValueError{
			Name:   "change.RevNum",
			Reason: "must be between 1 and current+1",
		}
	}
	return c.base.Update(ctx, change)
}

// Validate runs the validation protocol against the stored body
// history.
func (c *BodyControl) Validate(ctx context.Context, schemaVersion string) (Status, error) {
	return c.base.Validate(ctx, schemaVersion)
}

// Init writes the revision-0 bootstrap entries a fresh document needs.
func (c *BodyControl) Init(ctx context.Context) error {
	return c.base.InitZero(ctx)
}
