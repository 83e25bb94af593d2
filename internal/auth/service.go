// Package auth drives a login attempt through its stages: password check,
// optional second factor, and promotion to a fully authenticated token. The
// stage of an attempt is never held in memory; it is read back from the
// presented token and the account record on every request.
package auth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/account"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/autherr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/totp"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/validator"
)

// LoginInput is the password login payload.
type LoginInput struct {
	Email    string `json:"email" validate:"required,notblank"`
	Password string `json:"password" validate:"required"`
}

// CodeInput carries a six digit authenticator code.
type CodeInput struct {
	Code string `json:"code" validate:"required,len=6"`
}

// LoginResult is returned by every operation that ends in a token.
// TwoFactor is true when Token is a pre-auth token.
type LoginResult struct {
	Token     string
	User      entity.PublicView
	TwoFactor bool
}

// EnrollmentResult is handed to the client once per enrollment attempt. The
// raw secret only travels inside the URI and QR code.
type EnrollmentResult struct {
	ProvisioningURI string
	QRCode          string
}

// Deps wires a Service. Guard, Logger and Now are optional.
type Deps struct {
	Store    repo.Store
	Accounts *account.Service
	Hasher   account.PasswordHasher
	Issuer   *token.Issuer
	TOTP     *totp.Engine
	Guard    *validator.Guard
	Logger   *zap.SugaredLogger
	Now      func() time.Time
}

type Service struct {
	store    repo.Store
	accounts *account.Service
	hasher   account.PasswordHasher
	issuer   *token.Issuer
	totp     *totp.Engine
	guard    *validator.Guard
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		store:    d.Store,
		accounts: d.Accounts,
		hasher:   d.Hasher,
		issuer:   d.Issuer,
		totp:     d.TOTP,
		guard:    d.Guard,
		logger:   d.Logger,
		now:      d.Now,
	}
	if s.hasher == nil {
		s.hasher = account.BcryptHasher{Cost: 12}
	}
	if s.guard == nil {
		s.guard = validator.New()
	}
	if s.logger == nil {
		s.logger = zap.NewNop().Sugar()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Login checks the password. Accounts without a second factor get a
// complete token straight away; the others get a pre-auth token that only
// VerifySecondFactor accepts.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if err := s.guard.Check(in); err != nil {
		return nil, err
	}
	a, err := s.store.FindByEmail(ctx, entity.NormalizeEmail(in.Email))
	if err != nil {
		return nil, storeError("lookup account", err)
	}
	local, ok := a.Credential.(entity.LocalCredential)
	if !ok {
		s.logger.Debugw("password login on federated account", "account_id", a.ID)
		return nil, autherr.ErrBadCredential
	}
	if !s.hasher.Verify(local.PasswordHash, in.Password) {
		s.logger.Debugw("password mismatch", "account_id", a.ID)
		return nil, autherr.ErrBadCredential
	}
	return s.passwordChecked(a)
}

// LoginFederated signs in an identity already verified by an external
// provider, creating the account on first sight. It then branches on the
// second factor exactly like a successful password check.
func (s *Service) LoginFederated(ctx context.Context, id account.FederatedIdentity) (*LoginResult, error) {
	if s.accounts == nil {
		return nil, autherr.Internal("federated login", errors.New("account service not configured"))
	}
	a, err := s.accounts.FindOrCreateFederated(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.passwordChecked(a)
}

func (s *Service) passwordChecked(a *entity.Account) (*LoginResult, error) {
	if a.TwoFactorEnabled && a.TwoFactorSecret != "" {
		tok, err := s.issuer.IssuePreAuth(a.ID, a.Email)
		if err != nil {
			return nil, autherr.Internal("issue pre-auth token", err)
		}
		s.logger.Infow("second factor required", "account_id", a.ID)
		return &LoginResult{Token: tok, User: a.View(), TwoFactor: true}, nil
	}
	return s.complete(a)
}

func (s *Service) complete(a *entity.Account) (*LoginResult, error) {
	tok, err := s.issuer.IssueSession(a.ID, a.Email)
	if err != nil {
		return nil, autherr.Internal("issue session token", err)
	}
	s.logger.Infow("login complete", "account_id", a.ID)
	return &LoginResult{Token: tok, User: a.View()}, nil
}

// VerifySecondFactor promotes a pre-auth token to a complete one. A wrong
// code leaves the pre-auth token usable until it expires.
func (s *Service) VerifySecondFactor(ctx context.Context, claims *token.Claims, in CodeInput) (*LoginResult, error) {
	if claims == nil || claims.AuthenticationComplete {
		return nil, autherr.ErrInvalidToken
	}
	if err := s.guard.Check(in); err != nil {
		return nil, err
	}
	a, err := s.load(ctx, claims)
	if err != nil {
		return nil, err
	}
	if !a.TwoFactorEnabled || a.TwoFactorSecret == "" {
		return nil, autherr.ErrSecondFactorNotConfigured
	}
	if !s.totp.VerifyCode(a.TwoFactorSecret, in.Code, s.now()) {
		s.logger.Warnw("second factor rejected", "account_id", a.ID)
		return nil, autherr.ErrSecondFactorInvalid
	}
	return s.complete(a)
}

// RequestEnrollment stores a fresh secret on the account without enabling
// it. Calling it again replaces the secret, so only the newest one can be
// confirmed.
func (s *Service) RequestEnrollment(ctx context.Context, claims *token.Claims) (*EnrollmentResult, error) {
	a, err := s.loadComplete(ctx, claims)
	if err != nil {
		return nil, err
	}
	enr, err := s.totp.GenerateSecret(a.Email)
	if err != nil {
		return nil, autherr.Internal("generate secret", err)
	}
	a.TwoFactorSecret = enr.Secret
	if err := s.save(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Infow("two-factor enrollment started", "account_id", a.ID, "enabled", a.TwoFactorEnabled)
	return &EnrollmentResult{ProvisioningURI: enr.ProvisioningURI, QRCode: enr.QRCode}, nil
}

// ConfirmEnrollment enables the second factor once the user proves their
// authenticator produces codes for the stored secret.
func (s *Service) ConfirmEnrollment(ctx context.Context, claims *token.Claims, in CodeInput) error {
	if err := s.guard.Check(in); err != nil {
		return err
	}
	a, err := s.loadComplete(ctx, claims)
	if err != nil {
		return err
	}
	if a.TwoFactorSecret == "" {
		return autherr.ErrSecondFactorNotConfigured
	}
	if !s.totp.VerifyCode(a.TwoFactorSecret, in.Code, s.now()) {
		s.logger.Warnw("enrollment code rejected", "account_id", a.ID)
		return autherr.ErrSecondFactorInvalid
	}
	a.TwoFactorEnabled = true
	if err := s.save(ctx, a); err != nil {
		return err
	}
	s.logger.Infow("two-factor enabled", "account_id", a.ID)
	return nil
}

// DisableTwoFactor turns the second factor off and forgets the secret. It
// needs a current code so a stolen session token alone cannot do it.
func (s *Service) DisableTwoFactor(ctx context.Context, claims *token.Claims, in CodeInput) error {
	if err := s.guard.Check(in); err != nil {
		return err
	}
	a, err := s.loadComplete(ctx, claims)
	if err != nil {
		return err
	}
	if !a.TwoFactorEnabled || a.TwoFactorSecret == "" {
		return autherr.ErrSecondFactorNotConfigured
	}
	if !s.totp.VerifyCode(a.TwoFactorSecret, in.Code, s.now()) {
		s.logger.Warnw("disable code rejected", "account_id", a.ID)
		return autherr.ErrSecondFactorInvalid
	}
	a.TwoFactorEnabled = false
	a.TwoFactorSecret = ""
	if err := s.save(ctx, a); err != nil {
		return err
	}
	s.logger.Infow("two-factor disabled", "account_id", a.ID)
	return nil
}

// Profile returns the public view of the token's account.
func (s *Service) Profile(ctx context.Context, claims *token.Claims) (*entity.PublicView, error) {
	a, err := s.loadComplete(ctx, claims)
	if err != nil {
		return nil, err
	}
	v := a.View()
	return &v, nil
}

func (s *Service) loadComplete(ctx context.Context, claims *token.Claims) (*entity.Account, error) {
	if claims == nil || !claims.AuthenticationComplete {
		return nil, autherr.ErrInvalidToken
	}
	return s.load(ctx, claims)
}

func (s *Service) load(ctx context.Context, claims *token.Claims) (*entity.Account, error) {
	a, err := s.store.FindByID(ctx, claims.AccountID())
	if err != nil {
		return nil, storeError("load account", err)
	}
	return a, nil
}

func (s *Service) save(ctx context.Context, a *entity.Account) error {
	if err := s.store.Save(ctx, a); err != nil {
		return autherr.Internal("save account", err)
	}
	return nil
}

func storeError(msg string, err error) error {
	if errors.Is(err, autherr.ErrNotFound) {
		return autherr.ErrNotFound
	}
	return autherr.Internal(msg, err)
}
