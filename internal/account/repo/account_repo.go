package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/autherr"
)

// Store is the credential store consumed by the account and auth services.
// Lookups return autherr.ErrNotFound when no account matches.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*entity.Account, error)
	FindByID(ctx context.Context, id string) (*entity.Account, error)
	Save(ctx context.Context, a *entity.Account) error
}

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// AccountRepo provides data access for the accounts table using sqlx.
// Schema lives in pkg/database/migrations.
type AccountRepo struct {
	db *sqlx.DB
}

func NewAccountRepo(db *sqlx.DB) *AccountRepo { return &AccountRepo{db: db} }

type accountRow struct {
	ID               string         `db:"id"`
	Name             string         `db:"name"`
	Email            string         `db:"email"`
	PasswordHash     sql.NullString `db:"password_hash"`
	Provider         sql.NullString `db:"provider"`
	TwoFactorEnabled bool           `db:"two_factor_enabled"`
	TwoFactorSecret  sql.NullString `db:"two_factor_secret"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

const selectAccount = `SELECT id, name, email, password_hash, provider,
	two_factor_enabled, two_factor_secret, created_at, updated_at
  FROM accounts`

// FindByEmail returns the account registered under email (normalized).
func (r *AccountRepo) FindByEmail(ctx context.Context, email string) (*entity.Account, error) {
	var row accountRow
	if err := r.db.GetContext(ctx, &row, selectAccount+` WHERE email=$1`, entity.NormalizeEmail(email)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, autherr.ErrNotFound
		}
		return nil, fmt.Errorf("find account by email: %w", err)
	}
	return row.toEntity(), nil
}

// FindByID fetches a full account row.
func (r *AccountRepo) FindByID(ctx context.Context, id string) (*entity.Account, error) {
	var row accountRow
	if err := r.db.GetContext(ctx, &row, selectAccount+` WHERE id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, autherr.ErrNotFound
		}
		return nil, fmt.Errorf("find account by id: %w", err)
	}
	return row.toEntity(), nil
}

// Save upserts a by id and refreshes its timestamps. A duplicate email
// yields autherr.ErrAccountExists.
func (r *AccountRepo) Save(ctx context.Context, a *entity.Account) error {
	const q = `INSERT INTO accounts (id, name, email, password_hash, provider, two_factor_enabled, two_factor_secret)
		  VALUES (:id, :name, :email, :password_hash, :provider, :two_factor_enabled, :two_factor_secret)
		  ON CONFLICT (id) DO UPDATE SET
		    name = EXCLUDED.name,
		    email = EXCLUDED.email,
		    password_hash = EXCLUDED.password_hash,
		    provider = EXCLUDED.provider,
		    two_factor_enabled = EXCLUDED.two_factor_enabled,
		    two_factor_secret = EXCLUDED.two_factor_secret,
		    updated_at = NOW()
		  RETURNING created_at, updated_at`
	row := fromEntity(a)
	rows, err := r.db.NamedQueryContext(ctx, q, row)
	if err != nil {
		return saveError(err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return saveError(err)
		}
		return errors.New("save account: no row returned")
	}
	if err := rows.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func saveError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return autherr.ErrAccountExists
	}
	return fmt.Errorf("save account: %w", err)
}

func fromEntity(a *entity.Account) accountRow {
	row := accountRow{
		ID:               a.ID,
		Name:             a.Name,
		Email:            entity.NormalizeEmail(a.Email),
		TwoFactorEnabled: a.TwoFactorEnabled,
		TwoFactorSecret:  nullString(a.TwoFactorSecret),
	}
	switch c := a.Credential.(type) {
	case entity.LocalCredential:
		row.PasswordHash = nullString(c.PasswordHash)
	case entity.FederatedCredential:
		row.Provider = nullString(c.Provider)
	}
	return row
}

func (row accountRow) toEntity() *entity.Account {
	a := &entity.Account{
		ID:               row.ID,
		Name:             row.Name,
		Email:            row.Email,
		TwoFactorEnabled: row.TwoFactorEnabled,
		TwoFactorSecret:  row.TwoFactorSecret.String,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
	if row.Provider.Valid {
		a.Credential = entity.FederatedCredential{Provider: row.Provider.String}
	} else {
		a.Credential = entity.LocalCredential{PasswordHash: row.PasswordHash.String}
	}
	return a
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
