package control

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/bobboyms/inkwell/pkg/delta"
	"github.com/bobboyms/inkwell/pkg/ierrors"
	"github.com/bobboyms/inkwell/pkg/kvfile"
	"github.com/bobboyms/inkwell/pkg/snapshot"
)

var propertyAlgebra = Algebra[delta.PropSnapshot, delta.PropertyDelta]{
	Apply:     func(base delta.PropSnapshot, d delta.PropertyDelta) delta.PropSnapshot { return d.Apply(base) },
	Compose:   delta.ComposeProperty,
	Transform: delta.TransformProperty,
	Diff:      delta.DiffProperty,
	IsEmpty:   delta.IsEmptyProperty,
	Empty:     func() delta.PropertyDelta { return delta.PropertyDelta{} },
	EmptyC:    delta.EmptyPropSnapshot,
}

// PropertyControl owns the document's flat key/value property map
// (title, read-only flag, locale, ...), structurally a mirror of
// BodyControl but over the simpler property algebra and the
// caret/property "simple" rebase scheme.
type PropertyControl struct {
	base *Base[delta.PropSnapshot, delta.PropertyDelta]
}

func NewPropertyControl(file *kvfile.File, log zerolog.Logger) *PropertyControl {
	return &PropertyControl{base: &Base[delta.PropSnapshot, delta.PropertyDelta]{
		Part:    "prop",
		File:    file,
		Mgr:     snapshot.New[delta.PropSnapshot](log),
		Algebra: propertyAlgebra,
		Rebase:  SimpleRebase[delta.PropSnapshot, delta.PropertyDelta],
		Log:     log,
	}}
}

func (c *PropertyControl) Init(ctx context.Context) error { return c.base.InitZero(ctx) }

func (c *PropertyControl) CurrentRevNum(ctx context.Context) (int64, error) {
	return c.base.CurrentRevNum(ctx)
}

func (c *PropertyControl) GetChange(ctx context.Context, n int64) (Change[delta.PropertyDelta], error) {
	return c.base.GetChange(ctx, n)
}

func (c *PropertyControl) GetChangeAfter(ctx context.Context, baseRevNum int64) (Change[delta.PropertyDelta], error) {
	return c.base.GetChangeAfter(ctx, baseRevNum)
}

func (c *PropertyControl) GetSnapshot(ctx context.Context, revNum *int64) (Snapshot[delta.PropSnapshot], error) {
	return c.base.GetSnapshot(ctx, revNum)
}

// Validate mirrors BodyControl's validation protocol.
func (c *PropertyControl) Validate(ctx context.Context, schemaVersion string) (Status, error) {
	return c.base.Validate(ctx, schemaVersion)
}

func (c *PropertyControl) Update(ctx context.Context, change Change[delta.PropertyDelta]) (Change[delta.PropertyDelta], error) {
	current, err := c.base.CurrentRevNum(ctx)
	if err != nil {
		return Change[delta.PropertyDelta]{}, err
	}
	if change.RevNum < 1 || change.RevNum > current+1 {
		return Change[delta.PropertyDelta]{}, &ierrors.BadValueError{
			Name:   "change.RevNum",
			Reason: "must be between 1 and current+1",
		}
	}
	for _, op := range change.Delta.Ops {
		if op.Key == "" {
			return Change[delta.PropertyDelta]{}, &ierrors.BadValueError{Name: "change.Delta", Reason: "op with empty key"}
		}
	}
	return c.base.Update(ctx, change)
}
