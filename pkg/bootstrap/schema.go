// Package bootstrap implements SchemaHandler and FileBootstrap:
// first-access setup that brings a document file to a usable state
// before any control is handed to a caller.
package bootstrap

import (
	"context"

	"github.com/bobboyms/inkwell/pkg/codec"
	"github.com/bobboyms/inkwell/pkg/control"
	"github.com/bobboyms/inkwell/pkg/kvfile"
)

const schemaVersionPath = "/schema_version"

// SchemaHandler owns the schema version key shared by the whole file.
type SchemaHandler struct {
	File    *kvfile.File
	Version string
}

func NewSchemaHandler(file *kvfile.File, version string) *SchemaHandler {
	return &SchemaHandler{File: file, Version: version}
}

// Validate reports NotFound if the key has never been written, Migrate
// if it holds a different version than this build expects, Error if
// present but undecodable, or Ok.
func (s *SchemaHandler) Validate(ctx context.Context) (control.Status, error) {
	res, err := s.File.Transact(ctx, []kvfile.Op{kvfile.ReadPath(schemaVersionPath)})
	if err != nil {
		return control.StatusError, err
	}
	raw, ok := res.Reads[schemaVersionPath]
	if !ok {
		return control.StatusNotFound, nil
	}
	ver, err := codec.DecodeScalar[string](raw)
	if err != nil {
		return control.StatusError, nil
	}
	if ver != s.Version {
		return control.StatusMigrate, nil
	}
	return control.StatusOk, nil
}

// Init writes the current schema version.
func (s *SchemaHandler) Init(ctx context.Context) error {
	verBytes, err := codec.EncodeScalar(s.Version)
	if err != nil {
		return err
	}
	_, err = s.File.Transact(ctx, []kvfile.Op{kvfile.WritePath(schemaVersionPath, verBytes)})
	return err
}
