package entity

import (
	"strings"
	"time"
)

// Credential is how an account proves identity at login. It is either a
// LocalCredential or a FederatedCredential.
type Credential interface {
	credential()
}

// LocalCredential holds a bcrypt password hash.
type LocalCredential struct {
	PasswordHash string
}

// FederatedCredential marks an account created through an external identity
// provider; it has no password.
type FederatedCredential struct {
	Provider string
}

func (LocalCredential) credential()     {}
func (FederatedCredential) credential() {}

// Account is a row in the `accounts` table.
type Account struct {
	ID               string
	Name             string
	Email            string
	Credential       Credential
	TwoFactorEnabled bool
	TwoFactorSecret  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PublicView is the only projection of an account returned to clients.
type PublicView struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
}

// View projects a into its public fields.
func (a *Account) View() PublicView {
	return PublicView{
		ID:               a.ID,
		Name:             a.Name,
		Email:            a.Email,
		TwoFactorEnabled: a.TwoFactorEnabled,
	}
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
