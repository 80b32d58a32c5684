package app

import (
	"errors"
	"fmt"
)

// Editor errors.
var (
	// ErrNoActiveDocument indicates an edit with no file open.
	ErrNoActiveDocument = errors.New("no active document")

	// ErrClosed indicates use of a closed editor.
	ErrClosed = errors.New("editor closed")

	// ErrNoService indicates an editor configured without a completion
	// service.
	ErrNoService = errors.New("no completion service")

	// ErrCollaborationUnavailable indicates collaboration was requested
	// without a transport.
	ErrCollaborationUnavailable = errors.New("collaboration unavailable: no transport")
)

// OperationError represents an error that occurred during a specific operation.
type OperationError struct {
	Op      string // Operation name (e.g., "open", "set content", "join")
	Target  string // Target of the operation (file path or room)
	Context string // Additional context
	Err     error  // Underlying error
}

// NewOperationError creates a new OperationError.
func NewOperationError(op, target string, err error) *OperationError {
	return &OperationError{
		Op:     op,
		Target: target,
		Err:    err,
	}
}

// WithContext adds context to the error.
// Safe to call on nil receiver - returns nil.
func (e *OperationError) WithContext(ctx string) *OperationError {
	if e == nil {
		return nil
	}
	e.Context = ctx
	return e
}

func (e *OperationError) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Op
	if e.Target != "" {
		msg = fmt.Sprintf("%s %s", e.Op, e.Target)
	}
	if e.Context != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Context)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// opErr wraps err unless it is nil.
func opErr(op, target string, err error) error {
	if err == nil {
		return nil
	}
	return NewOperationError(op, target, err)
}
