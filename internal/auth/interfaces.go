package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/gmela/gmela-api/internal/token"
	"github.com/gmela/gmela-api/internal/user"
)

// UserStore is the orchestrator's view of user persistence.
// Implemented by user.Repository.
type UserStore interface {
	Create(ctx context.Context, name, email string, passwordHash *string) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	MarkVerified(ctx context.Context, userID uuid.UUID, email string) error
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
}

// TokenService issues and validates the three time-boxed token kinds.
// Implemented by token.Service.
type TokenService interface {
	IssueVerification(ctx context.Context, email string) (*token.Token, error)
	IssuePasswordReset(ctx context.Context, email string) (*token.Token, error)
	IssueTwoFactor(ctx context.Context, email string) (*token.Token, error)
	ValidateVerification(ctx context.Context, tokenStr string) (*token.Token, error)
	ValidatePasswordReset(ctx context.Context, tokenStr string) (*token.Token, error)
	OutstandingTwoFactor(ctx context.Context, email string) (*token.Token, error)
	Consume(ctx context.Context, kind token.Kind, t *token.Token) error
}

// EmailService defines the interface for email operations
type EmailService interface {
	SendVerificationEmail(ctx context.Context, toEmail, token string) error
	SendPasswordResetEmail(ctx context.Context, toEmail, token string) error
	SendTwoFactorEmail(ctx context.Context, toEmail, code string) error
}

// ConfirmationStore persists two-factor confirmations. At most one
// confirmation exists per user; Replace deletes any prior one first.
type ConfirmationStore interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*TwoFactorConfirmation, error)
	Replace(ctx context.Context, userID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// RateLimiter throttles the sensitive endpoints. Implemented by
// ratelimit.Limiter.
type RateLimiter interface {
	CheckIPRateLimit(ctx context.Context, ip string) (bool, error)
	CheckIPRateLimitWithPurpose(ctx context.Context, ip, purpose string) (bool, error)
	RecordIPRequest(ctx context.Context, ip string) error
	RecordIPRequestWithPurpose(ctx context.Context, ip, purpose string) error
	CheckEmailCooldown(ctx context.Context, email string) (bool, error)
	SetEmailCooldown(ctx context.Context, email string) error
}

// SessionProvider is the external boundary that turns validated
// credentials into a session and tears sessions down again.
type SessionProvider interface {
	Establish(ctx context.Context, email, password, redirectTo string) (*EstablishedSession, error)
	Terminate(ctx context.Context, cookieToken string) error
}
