package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Validation error codes (E100-E199)
const (
	ErrViewNameEmpty     = "E101" // view name is required
	ErrViewNameInvalid   = "E102" // view name contains '/' or whitespace
	ErrMapMissing        = "E103" // map function is required
	ErrReduceEmpty       = "E104" // reduce entry has no body
	ErrReduceNameInvalid = "E105" // named reduce uses a reserved subview name
	ErrConflictingReduce = "E106" // named reduce shares the view's name
	ErrUnknownBuiltin    = "E107" // reserved-marker name that is not a builtin
	ErrMapBuiltin        = "E108" // builtin reducer name used as a map
)

// ValidationError represents a view definition validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors is every problem found in one definition.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// ConflictingReduceError reports a named reduce entry that collides with the
// subview named after the view itself.
type ConflictingReduceError struct {
	View string
}

// Error implements the error interface.
func (e *ConflictingReduceError) Error() string {
	return fmt.Sprintf("view %q: reduces contains an entry named after the view", e.View)
}

// TransformError reports a function body the dialect could not compile.
type TransformError struct {
	View    string
	Subview string
	Dialect string
	Message string
	Line    int
	Column  int
}

// Error implements the error interface.
func (e *TransformError) Error() string {
	where := e.View
	if e.Subview != "" {
		where += "/" + e.Subview
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s transform %s: line %d:%d: %s", e.Dialect, where, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s transform %s: %s", e.Dialect, where, e.Message)
}

// CompileError reports a malformed definition in a CUE source.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
