package user

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	Email              string     `json:"email"`
	PasswordHash       *string    `json:"-"` // Never expose password hash in JSON; nil for OAuth-only accounts
	EmailVerified      *time.Time `json:"email_verified,omitempty"`
	IsTwoFactorEnabled bool       `json:"is_two_factor_enabled"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// HasPassword reports whether the account carries a local credential.
// OAuth-only accounts have none and cannot log in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}
