package token

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/autherr"
)

type ctxKey struct{}

// WithClaims returns a copy of ctx carrying c.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// ClaimsFromContext returns the claims stored by the bearer middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok && c != nil
}

// Middleware authenticates requests by their bearer token.
type Middleware struct {
	issuer *Issuer
	logger *zap.SugaredLogger
}

func NewMiddleware(issuer *Issuer, logger *zap.SugaredLogger) *Middleware {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Middleware{issuer: issuer, logger: logger}
}

// RequireComplete admits only fully authenticated tokens.
func (m *Middleware) RequireComplete(next http.Handler) http.Handler {
	return m.require(true, next)
}

// RequirePreAuth admits only pre-auth tokens, i.e. sessions still waiting
// for their second factor.
func (m *Middleware) RequirePreAuth(next http.Handler) http.Handler {
	return m.require(false, next)
}

func (m *Middleware) require(complete bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearer(r)
		if !ok {
			m.logger.Debugw("missing bearer token", "path", r.URL.Path)
			autherr.WriteHTTP(w, autherr.ErrInvalidToken)
			return
		}
		claims, err := m.issuer.Parse(raw)
		if err != nil {
			m.logger.Debugw("rejected bearer token", "path", r.URL.Path)
			autherr.WriteHTTP(w, err)
			return
		}
		if claims.AuthenticationComplete != complete {
			m.logger.Debugw("token stage mismatch", "path", r.URL.Path, "sub", claims.Subject, "tfa", claims.AuthenticationComplete)
			autherr.WriteHTTP(w, autherr.ErrInvalidToken)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < len("bearer ") || !strings.EqualFold(h[:len("bearer ")], "bearer ") {
		return "", false
	}
	t := strings.TrimSpace(h[len("bearer "):])
	return t, t != ""
}
