package docserver

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) *DocServer {
	t.Helper()
	return New(t.TempDir(), "v1", zerolog.Nop())
}

func TestGetDocOrNullOnMissingDocReturnsNil(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)

	body, err := s.GetDocOrNull(ctx, "does-not-exist")
	if err != nil {
		t.Fatalf("GetDocOrNull: %v", err)
	}
	if body != nil {
		t.Fatalf("expected nil body for a never-created doc, got %v", body)
	}
}

func TestGetDocCreatesThenGetDocOrNullFindsIt(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	docID := GenerateDocID()

	if _, err := s.GetDoc(ctx, docID); err != nil {
		t.Fatalf("GetDoc: %v", err)
	}

	body, err := s.GetDocOrNull(ctx, docID)
	if err != nil {
		t.Fatalf("GetDocOrNull: %v", err)
	}
	if body == nil {
		t.Fatal("expected a body control for a doc that was just created")
	}
}

func TestGetFileComplexReusesSameInstanceWhileHeld(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	docID := GenerateDocID()

	fc1, err := s.getFileComplex(docID)
	if err != nil {
		t.Fatalf("getFileComplex: %v", err)
	}
	fc2, err := s.getFileComplex(docID)
	if err != nil {
		t.Fatalf("getFileComplex: %v", err)
	}
	if fc1 != fc2 {
		t.Fatal("expected the same FileComplex while a strong reference is held")
	}

	if _, err := fc1.Body(ctx); err != nil {
		t.Fatalf("Body: %v", err)
	}
}

func TestGenerateDocIDsAreDistinct(t *testing.T) {
	a := GenerateDocID()
	b := GenerateDocID()
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
}
