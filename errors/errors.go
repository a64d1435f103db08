// Package errors defines the typed failures shared by the bridge components.
// Every error carries a machine-readable Kind so the dispatcher can report it
// to clients without inspecting message text.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// ConnectionError indicates the terminal is unreachable or uninitialized.
	ConnectionError Kind = "connection_error"
	// ReconnectExhausted indicates every reconnect attempt failed.
	ReconnectExhausted Kind = "reconnect_exhausted"
	// AccountSelectionError indicates login failed or the authenticated identity does not match.
	AccountSelectionError Kind = "account_selection_error"
	// InvalidDateFormat indicates a date parameter is not ISO-8601.
	InvalidDateFormat Kind = "invalid_date_format"
	// DuplicateJobId indicates a job with the same id is already resident.
	DuplicateJobId Kind = "duplicate_job_id"
	// UnknownAction indicates the request named an action with no handler.
	UnknownAction Kind = "unknown_action"
	// CheckpointIOError indicates a checkpoint could not be read or written.
	CheckpointIOError Kind = "checkpoint_io_error"
	// ExtractionFailure indicates an extraction stopped before exhausting its range.
	ExtractionFailure Kind = "extraction_failure"
	// SessionUnavailable indicates there is no live terminal session.
	SessionUnavailable Kind = "session_unavailable"
	// InvalidRequest indicates a malformed request or a missing parameter.
	InvalidRequest Kind = "invalid_request"
	// PoolExhausted indicates the extraction worker pool cannot take more jobs.
	PoolExhausted Kind = "pool_exhausted"
	// PreferenceIOError indicates the account preference file could not be used.
	PreferenceIOError Kind = "preference_io_error"
)

// E wraps an error with kind and human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// KindOf returns the kind of the outermost *E in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *E
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether any *E in err's chain has the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *E
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}
