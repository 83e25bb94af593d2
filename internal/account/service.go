package account

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/autherr"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/validator"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	// Verify must compare in constant time.
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Name     string `json:"name" validate:"required,notblank"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// FederatedIdentity is an identity already verified by an external provider.
type FederatedIdentity struct {
	Provider string `json:"provider" validate:"required,notblank"`
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name"`
}

// Service orchestrates account lifecycle flows outside of login.
type Service struct {
	store  repo.Store
	hasher PasswordHasher
	guard  *validator.Guard
	logger *zap.SugaredLogger
	newID  func() string
}

func NewService(store repo.Store, hasher PasswordHasher, guard *validator.Guard, logger *zap.SugaredLogger) *Service {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if guard == nil {
		guard = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{store: store, hasher: hasher, guard: guard, logger: logger, newID: utilities.NewSnowflakeID}
}

// Register creates a local account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*entity.PublicView, error) {
	in.Email = entity.NormalizeEmail(in.Email)
	if err := s.guard.Check(in); err != nil {
		return nil, err
	}
	email := in.Email
	if _, err := s.store.FindByEmail(ctx, email); err == nil {
		return nil, autherr.ErrAccountExists
	} else if !errors.Is(err, autherr.ErrNotFound) {
		return nil, autherr.Internal("lookup account", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, autherr.Internal("hash password", err)
	}
	a := &entity.Account{
		ID:         s.newID(),
		Name:       strings.TrimSpace(in.Name),
		Email:      email,
		Credential: entity.LocalCredential{PasswordHash: hash},
	}
	if err := s.save(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Infow("account registered", "account_id", a.ID)
	view := a.View()
	return &view, nil
}

// FindOrCreateFederated returns the account registered under the identity's
// email, creating a federated account on first sight.
func (s *Service) FindOrCreateFederated(ctx context.Context, id FederatedIdentity) (*entity.Account, error) {
	id.Email = entity.NormalizeEmail(id.Email)
	if err := s.guard.Check(id); err != nil {
		return nil, err
	}
	email := id.Email
	a, err := s.store.FindByEmail(ctx, email)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, autherr.ErrNotFound) {
		return nil, autherr.Internal("lookup account", err)
	}

	name := strings.TrimSpace(id.Name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	a = &entity.Account{
		ID:         s.newID(),
		Name:       name,
		Email:      email,
		Credential: entity.FederatedCredential{Provider: strings.ToLower(strings.TrimSpace(id.Provider))},
	}
	if err := s.save(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Infow("federated account created", "account_id", a.ID, "provider", id.Provider)
	return a, nil
}

func (s *Service) save(ctx context.Context, a *entity.Account) error {
	if err := s.store.Save(ctx, a); err != nil {
		if errors.Is(err, autherr.ErrAccountExists) {
			return err
		}
		return autherr.Internal("save account", err)
	}
	return nil
}
