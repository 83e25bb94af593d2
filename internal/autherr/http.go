package autherr

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Body is the JSON error envelope returned by every endpoint.
type Body struct {
	Status  string      `json:"status"`
	Kind    Kind        `json:"kind"`
	Message string      `json:"message"`
	Errors  []Violation `json:"errors,omitempty"`
}

// StatusCode maps an error kind to its HTTP status.
func StatusCode(k Kind) int {
	switch k {
	case KindValidation, KindSecondFactorNotConfigured:
		return http.StatusBadRequest
	case KindNotFound, KindBadCredential, KindInvalidToken, KindSecondFactorInvalid:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// BodyOf builds the envelope for err. An unknown account and a wrong
// password produce the same body so callers cannot enumerate emails.
// Internal causes are never exposed.
func BodyOf(err error) Body {
	kind := KindOf(err)
	switch kind {
	case KindNotFound, KindBadCredential:
		return Body{Status: "error", Kind: KindBadCredential, Message: ErrBadCredential.Message}
	case KindInternal:
		return Body{Status: "error", Kind: KindInternal, Message: "internal server error"}
	}
	var e *Error
	if !errors.As(err, &e) {
		return Body{Status: "error", Kind: kind, Message: err.Error()}
	}
	return Body{Status: "error", Kind: kind, Message: e.Message, Errors: e.Violations}
}

// WriteHTTP renders err as a JSON response.
func WriteHTTP(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusCode(KindOf(err)))
	_ = json.NewEncoder(w).Encode(BodyOf(err))
}
