// Package codec provides the deterministic, lossless encode/decode the
// control layer uses to turn changes and scalars into the opaque bytes
// kvfile stores at a path, and back. The teacher's pkg/storage used a
// hand-rolled binary row serializer (serializer.go) plus a protobuf wire
// format for values that needed schema evolution; neither survives here:
// there's no protoc available to regenerate a .proto, and BSON (already
// a direct dependency via go.mongodb.org/mongo-driver/v2/bson, used by
// the teacher itself in pkg/storage/bson.go) gives the same
// self-describing, schema-tolerant encoding the teacher reached for,
// without code generation.
package codec

import (
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Change is the stored envelope for one accepted update to a part: the
// revision it produced, the delta itself (opaque to this package, D is
// whatever delta type the calling control uses), when it was accepted,
// and who authored it, if the control tracks authorship.
type Change[D any] struct {
	RevNum    int64  `bson:"revNum"`
	Delta     D      `bson:"delta"`
	Timestamp int64  `bson:"timestamp"`
	AuthorID  string `bson:"authorId,omitempty"`
}

// EncodeChange serializes a Change to its stored byte representation.
func EncodeChange[D any](c Change[D]) ([]byte, error) {
	return bson.Marshal(c)
}

// DecodeChange is the inverse of EncodeChange.
func DecodeChange[D any](data []byte) (Change[D], error) {
	var c Change[D]
	err := bson.Unmarshal(data, &c)
	return c, err
}

// scalarDoc wraps a bare scalar so it can round-trip through BSON, which
// only marshals documents (structs, maps, bson.D), never a bare int64 or
// string at the top level.
type scalarDoc[T any] struct {
	V T `bson:"v"`
}

// EncodeScalar serializes a single value (a revision number, a schema
// version string, a timestamp) for storage at a scalar path.
func EncodeScalar[T any](v T) ([]byte, error) {
	return bson.Marshal(scalarDoc[T]{V: v})
}

// DecodeScalar is the inverse of EncodeScalar.
func DecodeScalar[T any](data []byte) (T, error) {
	var d scalarDoc[T]
	err := bson.Unmarshal(data, &d)
	return d.V, err
}
