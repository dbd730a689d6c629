package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the chat service.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindForbidden
	KindWindowExpired
	// KindConflict marks a row that changed between check and write.
	KindConflict
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindWindowExpired:
		return "window_expired"
	case KindConflict:
		return "conflict"
	case KindInvalid:
		return "invalid"
	default:
		return "internal"
	}
}

// Error is a classified service error with a client-safe reason.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound reports an absent entity.
func NotFound(reason string) error {
	return &Error{Kind: KindNotFound, Reason: reason}
}

// Forbidden reports an authorization or business-rule rejection.
func Forbidden(reason string) error {
	return &Error{Kind: KindForbidden, Reason: reason}
}

// WindowExpired reports an edit or delete attempted after the allowed window.
func WindowExpired() error {
	return &Error{Kind: KindWindowExpired, Reason: "edit window expired"}
}

// Conflict reports a concurrent modification.
func Conflict(reason string) error {
	return &Error{Kind: KindConflict, Reason: reason}
}

// Invalid reports malformed input.
func Invalid(reason string) error {
	return &Error{Kind: KindInvalid, Reason: reason}
}

// Internal wraps a storage or transport failure.
func Internal(err error) error {
	return &Error{Kind: KindInternal, Reason: "internal error", Err: err}
}

// KindOf returns the kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// ReasonOf returns the client-safe reason of err.
func ReasonOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindInternal {
		return appErr.Reason
	}
	return "internal error"
}

func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsForbidden is also true for an expired edit window.
func IsForbidden(err error) bool {
	kind := KindOf(err)
	return kind == KindForbidden || kind == KindWindowExpired
}

func IsWindowExpired(err error) bool {
	return KindOf(err) == KindWindowExpired
}

func IsInvalid(err error) bool {
	return KindOf(err) == KindInvalid
}
