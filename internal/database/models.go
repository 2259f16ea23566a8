package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the users table model. PasswordHash is nil for accounts
// created purely through an external identity provider.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID                 uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Name               string     `bun:"name,notnull"`
	Email              string     `bun:"email,notnull,unique"`
	PasswordHash       *string    `bun:"password_hash"`
	EmailVerified      *time.Time `bun:"email_verified"`
	IsTwoFactorEnabled bool       `bun:"is_two_factor_enabled,notnull,default:false"`
	CreatedAt          time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt          time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

// VerificationToken proves control of an email address during signup.
type VerificationToken struct {
	bun.BaseModel `bun:"table:verification_tokens"`

	ID      uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Email   string    `bun:"email,notnull"`
	Token   string    `bun:"token,notnull,unique"`
	Expires time.Time `bun:"expires,notnull"`
}

// PasswordResetToken has the same shape scoped to password recovery.
type PasswordResetToken struct {
	bun.BaseModel `bun:"table:password_reset_tokens"`

	ID      uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Email   string    `bun:"email,notnull"`
	Token   string    `bun:"token,notnull,unique"`
	Expires time.Time `bun:"expires,notnull"`
}

// TwoFactorToken is the emailed second-factor code for one sign-in attempt.
type TwoFactorToken struct {
	bun.BaseModel `bun:"table:two_factor_tokens"`

	ID      uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Email   string    `bun:"email,notnull"`
	Token   string    `bun:"token,notnull,unique"`
	Expires time.Time `bun:"expires,notnull"`
}

// TwoFactorConfirmation marks that a user passed the second factor for
// the current sign-in attempt. At most one row per user.
type TwoFactorConfirmation struct {
	bun.BaseModel `bun:"table:two_factor_confirmations"`

	ID     uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	UserID uuid.UUID `bun:"user_id,notnull,unique,type:uuid"`
}

// Account links a user to an external identity provider.
type Account struct {
	bun.BaseModel `bun:"table:accounts"`

	ID                uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	UserID            uuid.UUID `bun:"user_id,notnull,type:uuid"`
	Provider          string    `bun:"provider,notnull,unique:accounts_provider_account"`
	ProviderAccountID string    `bun:"provider_account_id,notnull,unique:accounts_provider_account"`
	CreatedAt         time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
