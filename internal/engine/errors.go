package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while resolving or running a
// view program.
//
// Runtime errors include:
//   - Unsupported language: view text the engine cannot execute locally
//   - Unknown symbol: native reference with no registered closure
//   - Unknown builtin: reducer name the engine does not implement
//   - Map failed / reduce failed: the function returned an error or panicked
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// View identifies the affected subview, when known.
	View string

	// DocID identifies the document being mapped, for map failures.
	DocID string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnsupportedLanguage indicates view text with no local runtime.
	ErrCodeUnsupportedLanguage RuntimeErrorCode = "UNSUPPORTED_LANGUAGE"

	// ErrCodeUnknownSymbol indicates a native reference with no closure.
	ErrCodeUnknownSymbol RuntimeErrorCode = "UNKNOWN_SYMBOL"

	// ErrCodeUnknownBuiltin indicates an unimplemented builtin reducer.
	ErrCodeUnknownBuiltin RuntimeErrorCode = "UNKNOWN_BUILTIN"

	// ErrCodeMapFailed indicates a map function failed on one document.
	ErrCodeMapFailed RuntimeErrorCode = "MAP_FAILED"

	// ErrCodeReduceFailed indicates a reduce function failed.
	ErrCodeReduceFailed RuntimeErrorCode = "REDUCE_FAILED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.View != "" {
		msg += fmt.Sprintf(" (view=%s)", e.View)
	}
	if e.DocID != "" {
		msg += fmt.Sprintf(" (doc=%s)", e.DocID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsUnsupportedLanguage reports whether err means the view cannot run
// locally. Uses errors.As to handle wrapped errors.
func IsUnsupportedLanguage(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeUnsupportedLanguage
	}
	return false
}

// IsReduceError reports whether err came from a failing reduce function.
func IsReduceError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeReduceFailed
	}
	return false
}

// NewReduceError wraps a reduce failure.
func NewReduceError(view string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeReduceFailed,
		Message: "reduce function failed",
		View:    view,
		Err:     err,
	}
}

// NewMapError wraps a map failure for one document.
func NewMapError(view, docID string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeMapFailed,
		Message: "map function failed",
		View:    view,
		DocID:   docID,
		Err:     err,
	}
}
