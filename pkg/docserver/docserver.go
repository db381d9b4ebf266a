package docserver

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"weak"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobboyms/inkwell/pkg/control"
	"github.com/bobboyms/inkwell/pkg/kvfile"
)

// GenerateDocID mints a new document identifier, the way the teacher's
// own ID-generation helper does it, but with a time-ordered UUID so
// document directories sort roughly by creation order.
func GenerateDocID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// DocServer is the process-wide registry of open documents: a
// weak-valued cache so a FileComplex nobody holds a strong reference to
// is reclaimed by the garbage collector rather than pinned forever.
// Reclaiming only drops the cache entry; the document's kvfile.File
// (its WAL and checkpoint files) is not closed.
type DocServer struct {
	baseDir       string
	schemaVersion string
	log           zerolog.Logger

	mu    sync.Mutex
	cache map[string]weak.Pointer[FileComplex]
}

// New constructs a DocServer rooted at baseDir, one subdirectory per
// document id.
func New(baseDir, schemaVersion string, log zerolog.Logger) *DocServer {
	return &DocServer{
		baseDir:       baseDir,
		schemaVersion: schemaVersion,
		log:           log,
		cache:         make(map[string]weak.Pointer[FileComplex]),
	}
}

func (s *DocServer) dirFor(docID string) string {
	return filepath.Join(s.baseDir, docID)
}

// getFileComplex returns the cached FileComplex for docID, constructing
// one on a cache miss or after the previous one was reclaimed.
func (s *DocServer) getFileComplex(docID string) (*FileComplex, error) {
	s.mu.Lock()
	if wp, ok := s.cache[docID]; ok {
		if fc := wp.Value(); fc != nil {
			s.mu.Unlock()
			return fc, nil
		}
		delete(s.cache, docID)
	}
	s.mu.Unlock()

	fc, err := newFileComplex(s.dirFor(docID), s.schemaVersion, s.log)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[docID] = weak.Make(fc)
	s.mu.Unlock()

	runtime.AddCleanup(fc, s.reclaim, docID)
	return fc, nil
}

// reclaim runs when the weak reference's target is collected: it drops
// the now-dangling cache entry so a future lookup constructs a fresh
// FileComplex instead of reusing a dead weak.Pointer.
func (s *DocServer) reclaim(docID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wp, ok := s.cache[docID]; ok && wp.Value() == nil {
		delete(s.cache, docID)
	}
}

// GetDoc forces bootstrap and returns the body control for docID,
// creating the document if it doesn't already exist.
func (s *DocServer) GetDoc(ctx context.Context, docID string) (*control.BodyControl, error) {
	fc, err := s.getFileComplex(docID)
	if err != nil {
		return nil, err
	}
	return fc.Body(ctx)
}

// GetDocOrNull is GetDoc but returns (nil, nil) instead of creating a
// document when the underlying file doesn't exist yet.
func (s *DocServer) GetDocOrNull(ctx context.Context, docID string) (*control.BodyControl, error) {
	if !kvfile.Exists(s.dirFor(docID)) {
		return nil, nil
	}
	return s.GetDoc(ctx, docID)
}

// Caret forces bootstrap and returns the caret control for docID.
func (s *DocServer) Caret(ctx context.Context, docID string) (*control.CaretControl, error) {
	fc, err := s.getFileComplex(docID)
	if err != nil {
		return nil, err
	}
	return fc.Caret(ctx)
}

// Property forces bootstrap and returns the property control for docID.
func (s *DocServer) Property(ctx context.Context, docID string) (*control.PropertyControl, error) {
	fc, err := s.getFileComplex(docID)
	if err != nil {
		return nil, err
	}
	return fc.Property(ctx)
}
