package account

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/autherr"
)

// Handler exposes HTTP endpoints for account registration.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterResponse is returned on successful registration.
type RegisterResponse struct {
	Status  string             `json:"status"`
	Message string             `json:"message"`
	User    *entity.PublicView `json:"user"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid register payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, autherr.Body{Status: "error", Kind: autherr.KindValidation, Message: "invalid payload"})
		return
	}
	view, err := h.svc.Register(r.Context(), req)
	if err != nil {
		h.logger.Warnw("register failed", "kind", autherr.KindOf(err), "err", err)
		autherr.WriteHTTP(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, RegisterResponse{Status: "success", Message: "account created", User: view})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
