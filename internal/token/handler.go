package token

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Handler serves token introspection (RFC 7662 shape).
type Handler struct {
	issuer *Issuer
	logger *zap.SugaredLogger
}

func NewHandler(issuer *Issuer, logger *zap.SugaredLogger) *Handler {
	return &Handler{issuer: issuer, logger: logger}
}

// IntrospectResponse mirrors RFC 7662; only Active is set for inactive tokens.
type IntrospectResponse struct {
	Active    bool   `json:"active"`
	Sub       string `json:"sub,omitempty"`
	Email     string `json:"email,omitempty"`
	TFA       *bool  `json:"tfa,omitempty"`
	Iss       string `json:"iss,omitempty"`
	Jti       string `json:"jti,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	raw := r.Form.Get("token")
	if raw == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	claims, err := h.issuer.Parse(raw)
	if err != nil {
		h.logger.Debugw("introspected inactive token")
		h.writeJSON(w, http.StatusOK, IntrospectResponse{Active: false})
		return
	}
	tfa := claims.AuthenticationComplete
	out := IntrospectResponse{
		Active:    true,
		Sub:       claims.Subject,
		Email:     claims.Email,
		TFA:       &tfa,
		Iss:       claims.Issuer,
		Jti:       claims.ID,
		TokenType: "access_token",
	}
	if claims.ExpiresAt != nil {
		out.Exp = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		out.Iat = claims.IssuedAt.Unix()
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
