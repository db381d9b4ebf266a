package kvfile

import "errors"

// Storage-level signals the control layer specifically watches for, the
// same way pkg/wal/reader.go (the teacher package this one reuses
// directly) exposes ErrInvalidMagic/ErrChecksumMismatch as sentinels
// rather than typed errors: these are plumbing-level conditions a
// caller branches on, not a user-facing error taxonomy (that's
// pkg/ierrors).
var (
	// ErrPathNotEmpty: op_checkPathAbsent found the path already set.
	ErrPathNotEmpty = errors.New("kvfile: path_not_empty")

	// ErrPathMismatch: op_checkPathPresent found no value, or
	// op_checkPathIs found a different value than expected.
	ErrPathMismatch = errors.New("kvfile: path_mismatch")

	// ErrTimedOut: a wait op (op_whenPathNot/op_whenChange) did not
	// resolve before its context deadline.
	ErrTimedOut = errors.New("kvfile: timed_out")

	// ErrClosed: the file was already closed.
	ErrClosed = errors.New("kvfile: closed")
)
