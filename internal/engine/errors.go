package engine

import "fmt"

// Severity classifies a handler error (SPEC_FULL.md §7). It is a label
// carried on Error; the executor and the run loop do not branch on it.
type Severity uint8

const (
	// Retryable errors (e.g. a transient RPC timeout inside a handler).
	// Like every handler error, they abort the current batch/event and its
	// transaction rolls back; nothing in the engine retries them, and the
	// run loop exits with the error.
	Retryable Severity = iota
	// NonRetryable errors are the handler's own fault (a bad assumption
	// about event shape); they abort the current batch/event, its
	// transaction rolls back, and the run loop exits with the error.
	NonRetryable
	// Unrecoverable errors (deep reorg, storage corruption, build
	// mismatch) stop the process after firing an alert.FatalReport.
	Unrecoverable
)

func (s Severity) String() string {
	switch s {
	case Retryable:
		return "retryable"
	case NonRetryable:
		return "non_retryable"
	case Unrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// Error wraps a handler or executor failure with its severity and the
// checkpoint it occurred at, plus the handler name; Unwrap exposes the
// underlying error.
type Error struct {
	Severity   Severity
	Checkpoint string
	Handler    string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine: %s handler %q at %s: %v", e.Severity, e.Handler, e.Checkpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with severity, handler name and checkpoint context.
func NewError(severity Severity, handler, checkpoint string, err error) *Error {
	return &Error{Severity: severity, Checkpoint: checkpoint, Handler: handler, Err: err}
}
