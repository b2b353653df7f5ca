// Package errs defines the error taxonomy shared by every DStream component.
// Each category is a sentinel that callers can match with errors.Is, while the
// concrete error value carries the stream/table context an operator needs to
// decide what is safe to retry.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigInvalid marks malformed or missing connector configuration.
	// Raised before any I/O happens.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrProtocolViolation marks a broken message-ordering contract, such as
	// a RECORD arriving before its stream's SCHEMA.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrWriteFailed marks a target commit that exhausted its retries.
	ErrWriteFailed = errors.New("write failed")

	// ErrCorruptState marks an unparsable state file.
	ErrCorruptState = errors.New("corrupt state")

	// ErrCorruptCatalog marks an unparsable catalog file.
	ErrCorruptCatalog = errors.New("corrupt catalog")
)

// ConfigInvalid reports a structural configuration problem.
func ConfigInvalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfigInvalid, fmt.Sprintf(format, args...))
}

// ProtocolViolation reports a message-ordering breach for a stream.
func ProtocolViolation(stream, reason string) error {
	return fmt.Errorf("%w: stream %q: %s", ErrProtocolViolation, stream, reason)
}

// WriteFailed reports an exhausted commit for a stream/table, naming the last
// committed bookmark so the operator knows where a retry resumes from.
func WriteFailed(stream, table, lastBookmark string, cause error) error {
	if lastBookmark == "" {
		lastBookmark = "<none>"
	}
	return fmt.Errorf("%w: stream %q table %q (last committed bookmark: %s): %v",
		ErrWriteFailed, stream, table, lastBookmark, cause)
}

// CorruptState reports an unreadable state file with recovery guidance.
func CorruptState(path string, cause error) error {
	return fmt.Errorf("%w: %s: %v (run 'dstream state clear %s' to reset)",
		ErrCorruptState, path, cause, path)
}

// CorruptCatalog reports an unreadable catalog file with recovery guidance.
func CorruptCatalog(path string, cause error) error {
	return fmt.Errorf("%w: %s: %v (re-run 'dstream discover' to regenerate)",
		ErrCorruptCatalog, path, cause)
}
