package token

import (
	"time"

	"github.com/google/uuid"
)

// Kind selects one of the three time-boxed token families.
type Kind string

const (
	KindVerification  Kind = "verification"
	KindPasswordReset Kind = "password_reset"
	KindTwoFactor     Kind = "two_factor"
)

// Token is an opaque, single-use credential keyed by email.
type Token struct {
	ID      uuid.UUID `json:"id"`
	Email   string    `json:"email"`
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

// Expired reports whether the token is past its expiry. The check is
// strict: a token expiring exactly now is still valid.
func (t *Token) Expired(now time.Time) bool {
	return t.Expires.Before(now)
}
