package token

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTokenNotFound means no token with that string exists (or the
	// store could not be reached; see Store).
	ErrTokenNotFound = errors.New("token does not exist")
	// ErrTokenExpired means the token exists but its expiry is strictly
	// in the past. Callers word this differently from an absent token.
	ErrTokenExpired = errors.New("token has expired")
)

// Service issues and validates time-boxed, single-use tokens keyed by
// email. Issuing a token deletes any outstanding token of the same kind
// for that email first, so at most one is live per kind per address.
type Service struct {
	store Store

	verificationTTL  time.Duration
	passwordResetTTL time.Duration
	twoFactorTTL     time.Duration

	// now is swappable for tests
	now func() time.Time
}

func NewService(store Store, verificationTTL, passwordResetTTL, twoFactorTTL time.Duration) *Service {
	return &Service{
		store:            store,
		verificationTTL:  verificationTTL,
		passwordResetTTL: passwordResetTTL,
		twoFactorTTL:     twoFactorTTL,
		now:              time.Now,
	}
}

// IssueVerification creates a fresh email verification token
func (s *Service) IssueVerification(ctx context.Context, email string) (*Token, error) {
	return s.issue(ctx, KindVerification, email, uuid.NewString(), s.verificationTTL)
}

// IssuePasswordReset creates a fresh password reset token
func (s *Service) IssuePasswordReset(ctx context.Context, email string) (*Token, error) {
	return s.issue(ctx, KindPasswordReset, email, uuid.NewString(), s.passwordResetTTL)
}

// IssueTwoFactor creates a fresh six-digit second-factor code
func (s *Service) IssueTwoFactor(ctx context.Context, email string) (*Token, error) {
	code, err := sixDigitCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate two-factor code: %w", err)
	}
	return s.issue(ctx, KindTwoFactor, email, code, s.twoFactorTTL)
}

func (s *Service) issue(ctx context.Context, kind Kind, email, tokenStr string, ttl time.Duration) (*Token, error) {
	// Replace, never accumulate: any prior unconsumed token of this
	// kind for the email is invalidated here.
	if err := s.store.DeleteByEmail(ctx, kind, email); err != nil {
		return nil, err
	}

	t := &Token{
		Email:   email,
		Token:   tokenStr,
		Expires: s.now().Add(ttl),
	}
	if err := s.store.Create(ctx, kind, t); err != nil {
		return nil, err
	}

	return t, nil
}

// ValidateVerification looks up a verification token by its string
func (s *Service) ValidateVerification(ctx context.Context, tokenStr string) (*Token, error) {
	return s.validate(ctx, KindVerification, tokenStr)
}

// ValidatePasswordReset looks up a password reset token by its string
func (s *Service) ValidatePasswordReset(ctx context.Context, tokenStr string) (*Token, error) {
	return s.validate(ctx, KindPasswordReset, tokenStr)
}

func (s *Service) validate(ctx context.Context, kind Kind, tokenStr string) (*Token, error) {
	t, err := s.store.GetByToken(ctx, kind, tokenStr)
	if err != nil {
		return nil, ErrTokenNotFound
	}

	if t.Expired(s.now()) {
		return nil, ErrTokenExpired
	}

	return t, nil
}

// OutstandingTwoFactor returns the live second-factor token for an
// email, if any. The caller compares the submitted code itself because
// a mismatch and an absent token produce the same user-facing message.
func (s *Service) OutstandingTwoFactor(ctx context.Context, email string) (*Token, error) {
	t, err := s.store.GetByEmail(ctx, KindTwoFactor, email)
	if err != nil {
		return nil, ErrTokenNotFound
	}
	return t, nil
}

// Consume deletes a token after successful use
func (s *Service) Consume(ctx context.Context, kind Kind, t *Token) error {
	return s.store.Delete(ctx, kind, t)
}

// sixDigitCode returns a uniformly random code in [100000, 999999]
func sixDigitCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+100000), nil
}
