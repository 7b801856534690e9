package model

import (
	"strings"
	"time"

	"github.com/deskline/servicedesk/internal/utils"
)

// Role is the closed set of roles an account can hold.
type Role string

const (
	RoleUser        Role = "user"
	RoleServiceDesk Role = "servicedesk"
	RoleAdmin       Role = "admin"
)

// Roles lists every valid role in ascending privilege order.
var Roles = []Role{RoleUser, RoleServiceDesk, RoleAdmin}

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleServiceDesk, RoleAdmin:
		return true
	}
	return false
}

// IsStaff reports whether r belongs to service-desk staff (servicedesk or admin).
func (r Role) IsStaff() bool { return r == RoleServiceDesk || r == RoleAdmin }

// CanBeAssigned reports whether accounts with role r may be set as report assignees.
func (r Role) CanBeAssigned() bool { return r.IsStaff() }

// Account represents a row in the `accounts` table.  The password hash
// never leaves the server: it carries no json tag and handlers render
// accounts through their own response types.
//
// Fields:
//
//	ID                   – primary key identifier.
//	Name                 – display name.
//	Email                – unique, lower-cased email address.
//	PasswordHash         – bcrypt hash of the secret.
//	Role                 – one of user, servicedesk, admin.
//	IsActive             – false once the account is soft-deleted.
//	IsVerified           – set by admins after verifying the account.
//	Phone, Department    – optional profile fields.
//	Avatar               – optional avatar URL.
//	Preferences          – free-form UI preferences.
//	PreferredOfficeID    – optional default office for new reports.
//	PreferredWorkstation – optional default workstation label.
type Account struct {
	ID                   uint64            // accounts.id
	Name                 string            // accounts.name
	Email                string            // accounts.email
	PasswordHash         string            // accounts.password_hash
	Role                 Role              // accounts.role
	IsActive             bool              // accounts.is_active
	IsVerified           bool              // accounts.is_verified
	Phone                string            // accounts.phone
	Department           string            // accounts.department
	Avatar               string            // accounts.avatar
	Preferences          map[string]string // accounts.preferences (JSON)
	PreferredOfficeID    *uint64           // accounts.preferred_office_id (nullable)
	PreferredWorkstation string            // accounts.preferred_workstation
	CreatedAt            time.Time         // accounts.created_at
	UpdatedAt            time.Time         // accounts.updated_at
}

// NewAccount builds an active account with a hashed password.  It is the
// only way new accounts get a secret; the plain password is never stored.
func NewAccount(name, email, password string, role Role, cost int) (*Account, error) {
	a := &Account{
		Name:     strings.TrimSpace(name),
		Email:    NormalizeEmail(email),
		Role:     role,
		IsActive: true,
	}
	if err := a.SetPassword(password, cost); err != nil {
		return nil, err
	}
	return a, nil
}

// SetPassword replaces the stored hash with one of plain.
func (a *Account) SetPassword(plain string, cost int) error {
	hash, err := utils.HashPassword(plain, cost)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	return nil
}

// CheckPassword reports whether plain matches the stored hash.
func (a *Account) CheckPassword(plain string) bool {
	return a.PasswordHash != "" && utils.VerifyPassword(a.PasswordHash, plain)
}

// NormalizeEmail case-folds and trims an email address so that lookups and
// uniqueness checks are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Summary returns the public projection used when an account is embedded in
// another resource.
func (a *Account) Summary() AccountSummary {
	return AccountSummary{ID: a.ID, Name: a.Name, Email: a.Email, Role: a.Role}
}

// AccountSummary is the populated form of an account reference.
type AccountSummary struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// RefreshToken models an entry in the `refresh_tokens` table.  Only the
// SHA‑256 hash of the opaque token is stored.  Rows past ExpiresAt are
// ignored on read and removed by the periodic sweep.
type RefreshToken struct {
	ID        uint64    // refresh_tokens.id
	AccountID uint64    // refresh_tokens.account_id
	TokenHash string    // refresh_tokens.token_hash
	ExpiresAt time.Time // refresh_tokens.expires_at
	CreatedAt time.Time // refresh_tokens.created_at
}
