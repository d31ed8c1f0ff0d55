// Package apperrors defines the typed error taxonomy shared by every controller.
//
// Controllers promise their callers exactly five error kinds: DataFormat (400),
// Permission (403), NotFound (404), Operation (403/409) and Server (500). Any raw
// store or library error that escapes controller logic is converted to a Server
// error at the controller boundary by Normalize, so HTTP handlers can map errors
// to status codes with Status and never leak internal detail to clients.
package apperrors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Kind identifies one of the five error classes controllers may return.
type Kind int

const (
	// KindDataFormat marks malformed input shape or type. Always a caller bug.
	KindDataFormat Kind = iota
	// KindPermission marks a principal lacking the required role, or an
	// attempted self-permission change.
	KindPermission
	// KindNotFound marks one or more referenced IDs being absent.
	KindNotFound
	// KindOperation marks a semantically valid request that violates a business
	// invariant: immutable field, archived-state lock, duplicate ID, type mismatch.
	KindOperation
	// KindServer marks an internal defect. The client receives a generic message.
	KindServer
)

// Error is the concrete error type carried across the controller boundary.
type Error struct {
	Kind    Kind
	Message string
	// Conflict is set for Operation errors caused by pre-existing IDs, which map
	// to 409 instead of 403.
	Conflict bool
	// IDs carries the offending identifiers (missing, duplicate or conflicting)
	// so callers can correct their request.
	IDs []string
	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if len(e.IDs) > 0 {
		msg = fmt.Sprintf("%s: [%s]", msg, strings.Join(e.IDs, ", "))
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// DataFormat reports malformed caller input.
func DataFormat(format string, args ...any) *Error {
	return &Error{Kind: KindDataFormat, Message: fmt.Sprintf(format, args...)}
}

// Permission reports a denied operation.
func Permission(format string, args ...any) *Error {
	return &Error{Kind: KindPermission, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports absent IDs. The ids are included in the message.
func NotFound(message string, ids ...string) *Error {
	return &Error{Kind: KindNotFound, Message: message, IDs: ids}
}

// Operation reports a business-invariant violation.
func Operation(format string, args ...any) *Error {
	return &Error{Kind: KindOperation, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports pre-existing IDs on create. Maps to 409.
func Conflict(message string, ids ...string) *Error {
	return &Error{Kind: KindOperation, Conflict: true, Message: message, IDs: ids}
}

// Server reports an internal defect, wrapping the underlying cause.
func Server(err error, format string, args ...any) *Error {
	return &Error{Kind: KindServer, Message: fmt.Sprintf(format, args...), Err: err}
}

// As extracts an *Error from err, or nil when err is not typed.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// IsKind reports whether err is a typed error of the given kind.
func IsKind(err error, kind Kind) bool {
	e := As(err)
	return e != nil && e.Kind == kind
}

// Normalize is the single error-normalizing boundary every controller operation
// passes its result through. Typed errors flow through unchanged; anything else
// is logged as a server fault and replaced by a generic Server error.
func Normalize(op string, err error) error {
	if err == nil {
		return nil
	}
	if e := As(err); e != nil {
		return e
	}
	slog.Error("internal error", "op", op, "error", err)
	return Server(err, "internal error during %s", op)
}

// Status maps an error to its HTTP status code per the controller contract.
func Status(err error) int {
	e := As(err)
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindDataFormat:
		return http.StatusBadRequest
	case KindPermission:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindOperation:
		if e.Conflict {
			return http.StatusConflict
		}
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the message safe to show to API clients. Server errors hide
// their internal detail.
func Public(err error) string {
	e := As(err)
	if e == nil || e.Kind == KindServer {
		return "Internal server error"
	}
	msg := e.Message
	if len(e.IDs) > 0 {
		msg = fmt.Sprintf("%s: [%s]", msg, strings.Join(e.IDs, ", "))
	}
	return msg
}
