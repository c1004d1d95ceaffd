// Package apperr defines the error taxonomy shared by the capture, registry,
// audit and history services. Handlers translate a Kind into an HTTP status
// and a stable error code; everything else is treated as internal.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation to callers.
type Kind string

const (
	// KindValidation indicates malformed or missing input, caught before side effects.
	KindValidation Kind = "validation_error"

	// KindUnauthenticated indicates neither credential scheme produced a principal.
	KindUnauthenticated Kind = "unauthenticated"

	// KindForbidden indicates an authenticated principal acting on another owner's entity.
	KindForbidden Kind = "forbidden"

	// KindNotFound indicates an entity id that does not resolve.
	KindNotFound Kind = "not_found"

	// KindUpstreamEngine indicates the analysis engine call or its response parsing failed.
	KindUpstreamEngine Kind = "upstream_engine_error"

	// KindInternal covers everything else, e.g. storage failures.
	KindInternal Kind = "internal_error"
)

// Error is a classified error with a caller-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && (e.Message == "" || e.Message == e.Err.Error()) {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a validation error with the given message.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Unauthenticated returns the single generic authentication failure.
// Callers must not add detail about which credential field failed.
func Unauthenticated() *Error {
	return &Error{Kind: KindUnauthenticated, Message: "invalid or missing credentials"}
}

// Forbidden returns a forbidden error with the given message.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// NotFound returns a not-found error naming the missing entity.
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

// Upstream wraps an engine failure. The message is recorded verbatim.
func Upstream(err error) *Error {
	return &Error{Kind: KindUpstreamEngine, Message: err.Error(), Err: err}
}

// Internal wraps an unexpected failure with a short operation description.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Message: op, Err: err}
}

// KindOf reports the Kind of err, or KindInternal when err is unclassified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// MessageOf returns the caller-safe message for err. Unclassified errors
// are reported generically so storage details do not leak.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Kind == KindInternal {
			return ae.Message
		}
		if ae.Message != "" {
			return ae.Message
		}
		return ae.Error()
	}
	return "internal error"
}
