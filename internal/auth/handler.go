package auth

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/autherr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
)

// Handler exposes the login and second-factor endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type LoginResponse struct {
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Token     string            `json:"token"`
	User      entity.PublicView `json:"user"`
	TwoFactor bool              `json:"twoFactor"`
}

type VerifyResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Token   string            `json:"token"`
	User    entity.PublicView `json:"user"`
}

type EnrollmentResponse struct {
	Status          string `json:"status"`
	ProvisioningURI string `json:"provisioningURI"`
	QRCode          string `json:"qrCode"`
}

type MessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type ProfileResponse struct {
	Status string             `json:"status"`
	User   *entity.PublicView `json:"user"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginInput
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), req)
	if err != nil {
		h.fail(w, "login failed", err)
		return
	}
	msg := "login successful"
	if res.TwoFactor {
		msg = "two-factor verification required"
	}
	h.writeJSON(w, http.StatusOK, LoginResponse{
		Status: "success", Message: msg, Token: res.Token, User: res.User, TwoFactor: res.TwoFactor,
	})
}

func (h *Handler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req CodeInput
	if !h.decode(w, r, &req) {
		return
	}
	claims, _ := token.ClaimsFromContext(r.Context())
	res, err := h.svc.VerifySecondFactor(r.Context(), claims, req)
	if err != nil {
		h.fail(w, "second factor verification failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, VerifyResponse{
		Status: "success", Message: "two-factor verification successful", Token: res.Token, User: res.User,
	})
}

func (h *Handler) GenerateTwoFactor(w http.ResponseWriter, r *http.Request) {
	claims, _ := token.ClaimsFromContext(r.Context())
	res, err := h.svc.RequestEnrollment(r.Context(), claims)
	if err != nil {
		h.fail(w, "enrollment failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, EnrollmentResponse{
		Status: "success", ProvisioningURI: res.ProvisioningURI, QRCode: res.QRCode,
	})
}

func (h *Handler) EnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req CodeInput
	if !h.decode(w, r, &req) {
		return
	}
	claims, _ := token.ClaimsFromContext(r.Context())
	if err := h.svc.ConfirmEnrollment(r.Context(), claims, req); err != nil {
		h.fail(w, "enable two-factor failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, MessageResponse{Status: "success", Message: "two-factor authentication enabled"})
}

func (h *Handler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req CodeInput
	if !h.decode(w, r, &req) {
		return
	}
	claims, _ := token.ClaimsFromContext(r.Context())
	if err := h.svc.DisableTwoFactor(r.Context(), claims, req); err != nil {
		h.fail(w, "disable two-factor failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, MessageResponse{Status: "success", Message: "two-factor authentication disabled"})
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	claims, _ := token.ClaimsFromContext(r.Context())
	view, err := h.svc.Profile(r.Context(), claims)
	if err != nil {
		h.fail(w, "profile failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, ProfileResponse{Status: "success", User: view})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		h.writeJSON(w, http.StatusBadRequest, autherr.Body{Status: "error", Kind: autherr.KindValidation, Message: "invalid payload"})
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if autherr.KindOf(err) == autherr.KindInternal {
		h.logger.Errorw(msg, "err", err)
	} else {
		h.logger.Debugw(msg, "kind", autherr.KindOf(err), "err", err)
	}
	autherr.WriteHTTP(w, err)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
