package store

import (
	"errors"
	"fmt"
)

// Reason classifies a store failure.
type Reason string

const (
	// ReasonMissing means no document exists under the id.
	ReasonMissing Reason = "missing"

	// ReasonDeleted means the document exists only as a tombstone.
	ReasonDeleted Reason = "deleted"

	// ReasonMissingNamedView means the design document exists but lacks the
	// requested subview.
	ReasonMissingNamedView Reason = "missing_named_view"

	// ReasonConflict means the presented revision is not current.
	ReasonConflict Reason = "conflict"

	// ReasonBadRequest means the query or document was rejected before
	// touching storage.
	ReasonBadRequest Reason = "bad_request"
)

// Error is a classified store failure.
type Error struct {
	Reason Reason
	// ID is the document the failure concerns, when known.
	ID  string
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("store: %s", e.Reason)
	if e.ID != "" {
		msg += fmt.Sprintf(" (id=%s)", e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// ReasonOf returns the reason of a store error in err's chain, or "".
func ReasonOf(err error) Reason {
	var se *Error
	if errors.As(err, &se) {
		return se.Reason
	}
	return ""
}

// IsViewMissing reports whether err means a view is not deployed: the
// design document is absent or deleted, or the subview does not exist.
func IsViewMissing(err error) bool {
	switch ReasonOf(err) {
	case ReasonMissing, ReasonDeleted, ReasonMissingNamedView:
		return true
	}
	return false
}

// IsNotFound reports whether err means the document is absent or deleted.
func IsNotFound(err error) bool {
	switch ReasonOf(err) {
	case ReasonMissing, ReasonDeleted:
		return true
	}
	return false
}

// IsConflict reports whether err is a revision conflict.
func IsConflict(err error) bool {
	return ReasonOf(err) == ReasonConflict
}
