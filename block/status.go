package block

import "github.com/pkg/errors"

// Status is the three-level outcome taxonomy of §7: every decoder and every
// Session operation resolves to one of these, never a panic.
type Status int

const (
	Success Status = iota
	Failure
	Critical
)

func (s Status) String() string {
	switch s {
	case Success:
		return "Success"
	case Failure:
		return "Failure"
	case Critical:
		return "Critical"
	default:
		return "Status(?)"
	}
}

// FailureError wraps a recoverable error (§7): the current block is invalid
// or unknown, or a digest comparison failed. The session remains usable; the
// caller may skip and continue.
type FailureError struct{ cause error }

func NewFailure(cause error) *FailureError { return &FailureError{cause: errors.WithStack(cause)} }

func (e *FailureError) Error() string { return "failure: " + e.cause.Error() }
func (e *FailureError) Unwrap() error { return e.cause }
func (e *FailureError) Status() Status { return Failure }

// CriticalError wraps an unrecoverable error (§7): file-handle state is
// uncertain and the caller must destroy the session.
type CriticalError struct{ cause error }

func NewCritical(cause error) *CriticalError { return &CriticalError{cause: errors.WithStack(cause)} }

func (e *CriticalError) Error() string { return "critical: " + e.cause.Error() }
func (e *CriticalError) Unwrap() error { return e.cause }
func (e *CriticalError) Status() Status { return Critical }

// StatusOf classifies err into a Status. A nil error is Success; any error
// not wrapped as FailureError/CriticalError is conservatively Critical,
// since an un-annotated error means the call site didn't think about which
// bucket it belongs in.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	var f *FailureError
	if errors.As(err, &f) {
		return Failure
	}
	var c *CriticalError
	if errors.As(err, &c) {
		return Critical
	}
	return Critical
}
