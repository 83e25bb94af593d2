package router

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/account"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
)

// Pinger reports whether a dependency is reachable; *sqlx.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handlers groups everything the router mounts.
type Handlers struct {
	Account *account.Handler
	Auth    *auth.Handler
	Token   *token.Handler
	Bearer  *token.Middleware
	// DB is optional; when set, health fails while the database is unreachable.
	DB Pinger
}

const prefix = "/api/auth"

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, h Handlers) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+prefix+"/health", func(w http.ResponseWriter, r *http.Request) {
		if h.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := h.DB.PingContext(ctx); err != nil {
				logger.Warnw("health check failed", "err", err)
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST "+prefix+"/register", h.Account.Register)
	mux.HandleFunc("POST "+prefix+"/login", h.Auth.Login)
	mux.HandleFunc("POST "+prefix+"/introspect", h.Token.Introspect)

	mux.Handle("POST "+prefix+"/verify-2fa", h.Bearer.RequirePreAuth(http.HandlerFunc(h.Auth.VerifyTwoFactor)))
	mux.Handle("GET "+prefix+"/generate-2fa", h.Bearer.RequireComplete(http.HandlerFunc(h.Auth.GenerateTwoFactor)))
	mux.Handle("POST "+prefix+"/enable-2fa", h.Bearer.RequireComplete(http.HandlerFunc(h.Auth.EnableTwoFactor)))
	mux.Handle("POST "+prefix+"/disable-2fa", h.Bearer.RequireComplete(http.HandlerFunc(h.Auth.DisableTwoFactor)))
	mux.Handle("GET "+prefix+"/profile", h.Bearer.RequireComplete(http.HandlerFunc(h.Auth.Profile)))

	// wrap with security headers middleware then logging middleware
	return LoggingMiddleware(logger)(SecurityHeadersMiddleware()(mux))
}
