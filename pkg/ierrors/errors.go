// Package ierrors defines the error taxonomy shared by every control and
// the file-access layer. Each kind is its own exported struct type with
// an Error() method, the same shape pkg/errors (the teacher package this
// one supersedes) used for table/index failures.
package ierrors

import "fmt"

// NotFoundError: the file (or a required path) does not exist.
// Surfaced from validation only.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %q", e.Path)
}

// RevisionNotAvailableError: a requested revision is out of range,
// either beyond current or (for an ephemeral part) below the earliest
// retained revision.
type RevisionNotAvailableError struct {
	Part       string
	Requested  int64
	CurrentRev int64
}

func (e *RevisionNotAvailableError) Error() string {
	return fmt.Sprintf("revision %d not available for %s (current=%d)", e.Requested, e.Part, e.CurrentRev)
}

// BadDataError: a stored value failed structural validation.
type BadDataError struct {
	Path   string
	Reason string
}

func (e *BadDataError) Error() string {
	return fmt.Sprintf("bad data at %q: %s", e.Path, e.Reason)
}

// BadValueError: an argument violated a declared constraint.
type BadValueError struct {
	Name   string
	Reason string
}

func (e *BadValueError) Error() string {
	return fmt.Sprintf("bad value for %q: %s", e.Name, e.Reason)
}

// BadUseError: a caller invoked an operation outside its allowed
// lifecycle (read before bootstrap, re-instantiation of a singleton...).
type BadUseError struct {
	Reason string
}

func (e *BadUseError) Error() string {
	return fmt.Sprintf("bad use: %s", e.Reason)
}

// AbortedError: an operation exhausted its retry budget.
type AbortedError struct {
	Reason string
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("aborted: %s", e.Reason)
}

// TimedOutError: propagated only from the storage layer on explicit
// timeouts. The control layer converts storage timeouts inside
// getChangeAfter into iteration, never surfacing this to callers of
// getChangeAfter itself; other callers of the file layer may still see it.
type TimedOutError struct {
	Reason string
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("timed out: %s", e.Reason)
}

// WtfError: an internal invariant failed. Treated as a programming bug.
type WtfError struct {
	Reason string
}

func (e *WtfError) Error() string {
	return fmt.Sprintf("wtf: internal invariant violated: %s", e.Reason)
}
