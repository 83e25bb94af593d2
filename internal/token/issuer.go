// Package token issues and verifies the bearer tokens that carry the
// authentication stage of a session: pre-auth (password checked, second
// factor pending) or complete.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/autherr"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

var ErrNoSigningKey = errors.New("token: no signing key configured")

// Claims is the payload of every token this service signs.
type Claims struct {
	Email string `json:"email"`
	// AuthenticationComplete is false for pre-auth tokens.
	AuthenticationComplete bool `json:"tfa"`
	jwt.RegisteredClaims
}

// AccountID returns the subject claim.
func (c *Claims) AccountID() string { return c.Subject }

// Issuer signs and parses HS256 tokens.
type Issuer struct {
	secret     []byte
	issuer     string
	preAuthTTL time.Duration
	sessionTTL time.Duration
	now        func() time.Time
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrNoSigningKey
	}
	i := &Issuer{
		secret:     append([]byte(nil), cfg.Secret...),
		issuer:     cfg.Issuer,
		preAuthTTL: cfg.PreAuthTTL,
		sessionTTL: cfg.SessionTTL,
		now:        cfg.Now,
	}
	if i.issuer == "" {
		i.issuer = DefaultIssuer
	}
	if i.preAuthTTL <= 0 {
		i.preAuthTTL = DefaultPreAuthTTL
	}
	if i.sessionTTL <= 0 {
		i.sessionTTL = DefaultSessionTTL
	}
	if i.now == nil {
		i.now = time.Now
	}
	return i, nil
}

// Issue signs a token for the account. complete marks whether every required
// factor has been verified.
func (i *Issuer) Issue(accountID, email string, complete bool, ttl time.Duration) (string, error) {
	if i == nil || len(i.secret) == 0 {
		return "", ErrNoSigningKey
	}
	if accountID == "" {
		return "", errors.New("token: empty subject")
	}
	if ttl <= 0 {
		return "", errors.New("token: non-positive ttl")
	}
	now := i.now()
	claims := Claims{
		Email:                  email,
		AuthenticationComplete: complete,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        utilities.NewKSUID(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// IssuePreAuth signs a short-lived token that only the second-factor
// verification endpoint accepts.
func (i *Issuer) IssuePreAuth(accountID, email string) (string, error) {
	if i == nil {
		return "", ErrNoSigningKey
	}
	return i.Issue(accountID, email, false, i.preAuthTTL)
}

// IssueSession signs a fully authenticated token.
func (i *Issuer) IssueSession(accountID, email string) (string, error) {
	if i == nil {
		return "", ErrNoSigningKey
	}
	return i.Issue(accountID, email, true, i.sessionTTL)
}

// Parse verifies signature, algorithm, issuer and expiry. Every failure is
// reported as autherr.ErrInvalidToken.
func (i *Issuer) Parse(raw string) (*Claims, error) {
	if i == nil || len(i.secret) == 0 || raw == "" {
		return nil, autherr.ErrInvalidToken
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !tok.Valid || claims.Subject == "" {
		return nil, autherr.ErrInvalidToken
	}
	return claims, nil
}
