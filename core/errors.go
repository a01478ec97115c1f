package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind classifies a failure so that callers can map it to an outcome
// without inspecting message text.
type Kind string

// all failure kinds
const (
	// KindConfig is a build-time contract or configuration failure. Fatal at startup.
	KindConfig Kind = "config"
	// KindValidation is a client error carrying a field-keyed error map.
	KindValidation Kind = "validation"
	// KindNotFound means no entity matches the requested identifier.
	KindNotFound Kind = "not_found"
	// KindConflict is a stale optimistic-concurrency token.
	KindConflict Kind = "conflict"
	// KindForbidden is an authorization denial.
	KindForbidden Kind = "forbidden"
	// KindInternal is an unexpected failure. The caller only sees the correlation id.
	KindInternal Kind = "internal"
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Msg  string
	// Fields carries the field-keyed error map for validation failures
	Fields map[string][]string
	// Violations carries the complete list of contract violations for config failures
	Violations []string
	// CorrelationID identifies an internal failure in the server logs
	CorrelationID string
	Err           error
}

func (e *Error) Error() string {
	switch {
	case len(e.Violations) > 0:
		return e.Msg + ": " + strings.Join(e.Violations, "; ")
	case len(e.Fields) > 0:
		parts := make([]string, 0, len(e.Fields))
		for field, messages := range e.Fields {
			parts = append(parts, field+": "+strings.Join(messages, ", "))
		}
		return e.Msg + ": " + strings.Join(parts, "; ")
	case e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Unwrap returns the wrapped cause, if any
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a classified error, or KindInternal
// for anything unclassified. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ConfigError creates a build-time failure carrying every violation found.
func ConfigError(msg string, violations []string) *Error {
	return &Error{Kind: KindConfig, Msg: msg, Violations: violations}
}

// ValidationError creates a client error with a field-keyed error map.
func ValidationError(fields map[string][]string) *Error {
	return &Error{Kind: KindValidation, Msg: "validation failed", Fields: fields}
}

// NotFoundError creates a not-found failure for the given resource.
func NotFoundError(resource string) *Error {
	return &Error{Kind: KindNotFound, Msg: resource + " not found"}
}

// ConflictError creates an optimistic-concurrency conflict failure.
func ConflictError(resource string) *Error {
	return &Error{Kind: KindConflict, Msg: resource + " was modified concurrently"}
}

// ForbiddenError creates an authorization denial.
func ForbiddenError(msg string) *Error {
	return &Error{Kind: KindForbidden, Msg: msg}
}

// InternalError wraps an unexpected failure with a fresh correlation id.
// The wrapped cause is for the server log, never for the caller.
func InternalError(err error) *Error {
	id, _ := uuid.NewUUID()
	return &Error{Kind: KindInternal, Msg: fmt.Sprintf("internal error (correlation %s)", id), CorrelationID: id.String(), Err: err}
}
