// Package docserver implements FileComplex and DocServer: the
// per-document bootstrap wrapper and the process-wide,
// weak-reference-cached registry of open documents.
package docserver

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/bobboyms/inkwell/pkg/bootstrap"
	"github.com/bobboyms/inkwell/pkg/control"
	"github.com/bobboyms/inkwell/pkg/kvfile"
)

// FileComplex owns one document's FileBootstrap and the three controls
// it lazily exposes. It has no mutable state of its own beyond what
// FileBootstrap already tracks.
type FileComplex struct {
	file *kvfile.File
	boot *bootstrap.FileBootstrap
}

func newFileComplex(dir, schemaVersion string, log zerolog.Logger) (*FileComplex, error) {
	f, err := kvfile.Open(kvfile.Options{Dir: dir, Logger: log})
	if err != nil {
		return nil, err
	}
	return &FileComplex{file: f, boot: bootstrap.New(f, schemaVersion, log)}, nil
}

// Body forces bootstrap and returns the body control.
func (fc *FileComplex) Body(ctx context.Context) (*control.BodyControl, error) {
	if err := fc.boot.Init(ctx); err != nil {
		return nil, err
	}
	return fc.boot.Body()
}

// Caret forces bootstrap and returns the caret control.
func (fc *FileComplex) Caret(ctx context.Context) (*control.CaretControl, error) {
	if err := fc.boot.Init(ctx); err != nil {
		return nil, err
	}
	return fc.boot.Caret()
}

// Property forces bootstrap and returns the property control.
func (fc *FileComplex) Property(ctx context.Context) (*control.PropertyControl, error) {
	if err := fc.boot.Init(ctx); err != nil {
		return nil, err
	}
	return fc.boot.Property()
}

// Close releases the underlying file. Safe to call more than once.
func (fc *FileComplex) Close() error {
	return fc.file.Close()
}
