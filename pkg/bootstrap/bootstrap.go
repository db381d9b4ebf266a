package bootstrap

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bobboyms/inkwell/pkg/control"
	"github.com/bobboyms/inkwell/pkg/delta"
	"github.com/bobboyms/inkwell/pkg/ierrors"
	"github.com/bobboyms/inkwell/pkg/kvfile"
)

// Preamble text chosen by FileBootstrap depending on why the file
// needed (re)initialization. The normal-default case is deliberately
// the empty string: what a brand new document's initial contents
// should be is a product decision, not this system's to make, so a
// fresh document gets no generated greeting. Only the Migrate and
// Error cases, which a user otherwise wouldn't notice happened at all,
// get an explanatory note.
const (
	PreambleNew       = ""
	PreambleMigrated  = "This document was migrated to a newer schema version.\n"
	PreambleRecovered = "This document was recovered after an error.\n"
)

// FileBootstrap orchestrates first-access setup for one document file
// under a single-entry mutex, so init runs at most once concurrently
// per file.
type FileBootstrap struct {
	file   *kvfile.File
	schema *SchemaHandler
	body   *control.BodyControl
	caret  *control.CaretControl
	prop   *control.PropertyControl
	log    zerolog.Logger

	mu          sync.Mutex
	initialized bool
	initErr     error
}

// New wires a FileBootstrap against an already-open file. It does not
// touch the file until Init is called.
func New(file *kvfile.File, schemaVersion string, log zerolog.Logger) *FileBootstrap {
	return &FileBootstrap{
		file:   file,
		schema: NewSchemaHandler(file, schemaVersion),
		body:   control.NewBodyControl(file, log),
		caret:  control.NewCaretControl(file, log),
		prop:   control.NewPropertyControl(file, log),
		log:    log,
	}
}

// Init runs the bootstrap orchestration if it hasn't already succeeded.
// Concurrent callers are serialized on the same mutex. Once one call
// succeeds, later calls return nil without doing the work again; if a
// call fails, the next caller runs the orchestration afresh.
func (fb *FileBootstrap) Init(ctx context.Context) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.initialized {
		return nil
	}
	err := fb.init(ctx)
	if err == nil {
		fb.initialized = true
	}
	fb.initErr = err
	return err
}

func (fb *FileBootstrap) init(ctx context.Context) error {
	schemaStatus, err := fb.schema.Validate(ctx)
	if err != nil {
		return err
	}

	overall := schemaStatus
	if schemaStatus == control.StatusOk {
		bodyStatus, err := fb.body.Validate(ctx, fb.schema.Version)
		if err != nil {
			return err
		}
		overall = bodyStatus
	}

	if overall == control.StatusOk {
		fb.log.Debug().Msg("bootstrap: schema and body already valid, nothing to do")
		return nil
	}

	preamble := preambleFor(overall)
	fb.log.Info().Str("status", statusName(overall)).Msg("bootstrap: (re)initializing file")

	if _, err := fb.file.Transact(ctx, []kvfile.Op{kvfile.DeleteAll()}); err != nil {
		return err
	}
	if err := fb.schema.Init(ctx); err != nil {
		return err
	}
	if err := fb.body.Init(ctx); err != nil {
		return err
	}
	if err := fb.caret.Init(ctx); err != nil {
		return err
	}
	if err := fb.prop.Init(ctx); err != nil {
		return err
	}

	// An empty preamble (the normal-default/NotFound case) makes this a
	// no-op update: Update short-circuits on an empty delta and leaves
	// the body at revision 0, which is correct here since there is no
	// preamble content to record as revision 1.
	_, err = fb.body.Update(ctx, control.Change[delta.Body]{
		RevNum: 1,
		Delta:  delta.Body{Ops: []delta.Op{{Insert: preamble}}},
	})
	return err
}

func preambleFor(status control.Status) string {
	switch status {
	case control.StatusNotFound:
		return PreambleNew
	case control.StatusMigrate:
		return PreambleMigrated
	default:
		return PreambleRecovered
	}
}

func statusName(s control.Status) string {
	switch s {
	case control.StatusNotFound:
		return "not_found"
	case control.StatusMigrate:
		return "migrate"
	case control.StatusError:
		return "error"
	default:
		return "ok"
	}
}

// Body returns the body control, once bootstrap has completed.
func (fb *FileBootstrap) Body() (*control.BodyControl, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if !fb.initialized {
		return nil, &ierrors.BadUseError{Reason: "body control accessed before bootstrap completed"}
	}
	return fb.body, nil
}

// Caret returns the caret control, once bootstrap has completed.
func (fb *FileBootstrap) Caret() (*control.CaretControl, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if !fb.initialized {
		return nil, &ierrors.BadUseError{Reason: "caret control accessed before bootstrap completed"}
	}
	return fb.caret, nil
}

// Property returns the property control, once bootstrap has completed.
func (fb *FileBootstrap) Property() (*control.PropertyControl, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if !fb.initialized {
		return nil, &ierrors.BadUseError{Reason: "property control accessed before bootstrap completed"}
	}
	return fb.prop, nil
}
