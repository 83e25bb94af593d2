// Package autherr defines the error taxonomy shared by the authentication
// packages. Every error that reaches the HTTP boundary carries a Kind so the
// handler can choose a status code without string matching.
package autherr

import "errors"

// Kind classifies an authentication failure.
type Kind string

const (
	KindValidation                Kind = "validation"
	KindNotFound                  Kind = "not_found"
	KindBadCredential             Kind = "bad_credential"
	KindInvalidToken              Kind = "invalid_token"
	KindSecondFactorInvalid       Kind = "second_factor_invalid"
	KindSecondFactorNotConfigured Kind = "second_factor_not_configured"
	KindConflict                  Kind = "conflict"
	KindInternal                  Kind = "internal"
)

// Violation describes one offending input field.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Error is a structured authentication error. Two errors are considered equal
// by errors.Is when their kinds match.
type Error struct {
	Kind       Kind
	Message    string
	Violations []Violation
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound                  = &Error{Kind: KindNotFound, Message: "account not found"}
	ErrBadCredential             = &Error{Kind: KindBadCredential, Message: "invalid credentials"}
	ErrInvalidToken              = &Error{Kind: KindInvalidToken, Message: "invalid token"}
	ErrSecondFactorInvalid       = &Error{Kind: KindSecondFactorInvalid, Message: "invalid two-factor code"}
	ErrSecondFactorNotConfigured = &Error{Kind: KindSecondFactorNotConfigured, Message: "two-factor authentication is not configured"}
	ErrAccountExists             = &Error{Kind: KindConflict, Message: "account already exists"}
)

// Validation builds a validation error listing every violation.
func Validation(violations []Violation) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Violations: violations}
}

// Internal wraps an infrastructure failure.
func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: msg, cause: cause}
}

// KindOf reports the kind of err, defaulting to KindInternal for errors
// outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ViolationsOf returns the field violations carried by err, if any.
func ViolationsOf(err error) []Violation {
	var e *Error
	if errors.As(err, &e) {
		return e.Violations
	}
	return nil
}
