package codec

import "testing"

type fakeDelta struct {
	Ops []string `bson:"ops"`
}

func TestChangeRoundTrip(t *testing.T) {
	c := Change[fakeDelta]{
		RevNum:    7,
		Delta:     fakeDelta{Ops: []string{"insert:hi", "retain:3"}},
		Timestamp: 1_700_000_000_000,
		AuthorID:  "session-abc",
	}

	data, err := EncodeChange(c)
	if err != nil {
		t.Fatalf("EncodeChange: %v", err)
	}

	got, err := DecodeChange[fakeDelta](data)
	if err != nil {
		t.Fatalf("DecodeChange: %v", err)
	}

	if got.RevNum != c.RevNum || got.Timestamp != c.Timestamp || got.AuthorID != c.AuthorID {
		t.Fatalf("DecodeChange() = %+v, want %+v", got, c)
	}
	if len(got.Delta.Ops) != 2 || got.Delta.Ops[0] != "insert:hi" {
		t.Fatalf("delta payload did not survive round trip: %+v", got.Delta)
	}
}

func TestChangeRoundTripNoAuthor(t *testing.T) {
	c := Change[fakeDelta]{RevNum: 1, Delta: fakeDelta{}, Timestamp: 5}

	data, err := EncodeChange(c)
	if err != nil {
		t.Fatalf("EncodeChange: %v", err)
	}
	got, err := DecodeChange[fakeDelta](data)
	if err != nil {
		t.Fatalf("DecodeChange: %v", err)
	}
	if got.AuthorID != "" {
		t.Fatalf("expected empty AuthorID, got %q", got.AuthorID)
	}
}

func TestScalarRoundTripInt64(t *testing.T) {
	data, err := EncodeScalar(int64(42))
	if err != nil {
		t.Fatalf("EncodeScalar: %v", err)
	}
	got, err := DecodeScalar[int64](data)
	if err != nil {
		t.Fatalf("DecodeScalar: %v", err)
	}
	if got != 42 {
		t.Fatalf("DecodeScalar() = %d, want 42", got)
	}
}

func TestScalarRoundTripString(t *testing.T) {
	data, err := EncodeScalar("inkwell/1")
	if err != nil {
		t.Fatalf("EncodeScalar: %v", err)
	}
	got, err := DecodeScalar[string](data)
	if err != nil {
		t.Fatalf("DecodeScalar: %v", err)
	}
	if got != "inkwell/1" {
		t.Fatalf("DecodeScalar() = %q, want %q", got, "inkwell/1")
	}
}
