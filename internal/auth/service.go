package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gmela/gmela-api/internal/logging"
	"github.com/gmela/gmela-api/internal/token"
	"github.com/gmela/gmela-api/internal/user"
)

// Domain errors. The text is the user-facing message; handlers return
// it verbatim in the error payload.
var (
	ErrEmailTaken        = errors.New("Email already in use!")
	ErrTokenMissing      = errors.New("Missing token!")
	ErrTokenUnknown      = errors.New("Token does not exist!")
	ErrTokenHasExpired   = errors.New("Token has expired!")
	ErrEmailUnknown      = errors.New("Email does not exist!")
	ErrEmailNotFound     = errors.New("Email not found!")
	ErrInvalidCode       = errors.New("Invalid code!")
	ErrCodeExpired       = errors.New("Code expired!")
	ErrResetTokenInvalid = errors.New("Invalid token!")
	ErrWrongCredentials  = errors.New("Invalid credentials!")
	ErrSomethingWrong    = errors.New("Something went wrong!")
)

// Success messages.
const (
	MsgConfirmationSent = "Confirmation email sent!"
	MsgEmailVerified    = "Email verified!"
	MsgResetSent        = "Reset email sent!"
	MsgPasswordUpdated  = "Password updated!"
)

// Service sequences the authentication flows: each one is a short run
// of guarded steps and any failed guard short-circuits with a domain
// error. No step retries.
type Service struct {
	users         UserStore
	tokens        TokenService
	confirmations ConfirmationStore
	email         EmailService
	sessions      SessionProvider
	hasher        PasswordHasher
	logger        *logging.Logger

	defaultLoginRedirect string
}

func NewService(
	users UserStore,
	tokens TokenService,
	confirmations ConfirmationStore,
	emailService EmailService,
	sessions SessionProvider,
	hasher PasswordHasher,
	logger *logging.Logger,
	defaultLoginRedirect string,
) *Service {
	return &Service{
		users:                users,
		tokens:               tokens,
		confirmations:        confirmations,
		email:                emailService,
		sessions:             sessions,
		hasher:               hasher,
		logger:               logger,
		defaultLoginRedirect: defaultLoginRedirect,
	}
}

// Register creates an unverified user and dispatches the verification
// email. A failed dispatch aborts the flow after the user and token are
// already stored; the caller surfaces it as an internal failure.
func (s *Service) Register(ctx context.Context, name, email, password string) (string, error) {
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return "", ErrEmailTaken
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	newUser, err := s.users.Create(ctx, name, email, &passwordHash)
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			return "", ErrEmailTaken
		}
		return "", fmt.Errorf("failed to create user: %w", err)
	}

	verificationToken, err := s.tokens.IssueVerification(ctx, email)
	if err != nil {
		return "", fmt.Errorf("failed to issue verification token: %w", err)
	}

	if err := s.email.SendVerificationEmail(ctx, email, verificationToken.Token); err != nil {
		return "", fmt.Errorf("failed to send verification email: %w", err)
	}

	s.logger.Info("user registered", "user_id", newUser.ID, "email", email)

	return MsgConfirmationSent, nil
}

// NewVerification consumes a verification token and marks the owning
// user verified, binding the verified email.
func (s *Service) NewVerification(ctx context.Context, tokenStr string) (string, error) {
	existingToken, err := s.tokens.ValidateVerification(ctx, tokenStr)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return "", ErrTokenHasExpired
		}
		return "", ErrTokenUnknown
	}

	existingUser, err := s.users.GetByEmail(ctx, existingToken.Email)
	if err != nil {
		return "", ErrEmailUnknown
	}

	if err := s.users.MarkVerified(ctx, existingUser.ID, existingToken.Email); err != nil {
		return "", fmt.Errorf("failed to mark user verified: %w", err)
	}

	if err := s.tokens.Consume(ctx, token.KindVerification, existingToken); err != nil {
		return "", fmt.Errorf("failed to consume verification token: %w", err)
	}

	s.logger.Info("email verified", "user_id", existingUser.ID)

	return MsgEmailVerified, nil
}

// LoginResult is the login flow's typed outcome. Exactly one of the
// fields is meaningful: TwoFactor signals the caller must re-submit
// with a code, Success is the early no-session outcome for unverified
// users, Session is an established session.
type LoginResult struct {
	TwoFactor bool
	Success   string
	Session   *EstablishedSession
}

// Login runs the login state machine. Password verification for
// two-factor logins happens only at the final session establishment;
// the two-factor gate is satisfied first.
func (s *Service) Login(ctx context.Context, email, password, code, callbackURL string) (*LoginResult, error) {
	existingUser, err := s.users.GetByEmail(ctx, email)
	if err != nil || !existingUser.HasPassword() {
		return nil, ErrEmailUnknown
	}

	// Unverified users get a fresh verification email instead of a
	// session. No credential check happens on this path.
	if existingUser.EmailVerified == nil {
		verificationToken, err := s.tokens.IssueVerification(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to issue verification token: %w", err)
		}
		if err := s.email.SendVerificationEmail(ctx, email, verificationToken.Token); err != nil {
			return nil, fmt.Errorf("failed to send verification email: %w", err)
		}
		return &LoginResult{Success: MsgConfirmationSent}, nil
	}

	if existingUser.IsTwoFactorEnabled {
		if code != "" {
			twoFactorToken, err := s.tokens.OutstandingTwoFactor(ctx, existingUser.Email)
			if err != nil {
				return nil, ErrInvalidCode
			}
			if twoFactorToken.Token != code {
				return nil, ErrInvalidCode
			}
			if twoFactorToken.Expired(time.Now()) {
				return nil, ErrCodeExpired
			}

			if err := s.tokens.Consume(ctx, token.KindTwoFactor, twoFactorToken); err != nil {
				return nil, fmt.Errorf("failed to consume two-factor token: %w", err)
			}
			if err := s.confirmations.Replace(ctx, existingUser.ID); err != nil {
				return nil, fmt.Errorf("failed to record two-factor confirmation: %w", err)
			}
		} else {
			twoFactorToken, err := s.tokens.IssueTwoFactor(ctx, existingUser.Email)
			if err != nil {
				return nil, fmt.Errorf("failed to issue two-factor token: %w", err)
			}
			if err := s.email.SendTwoFactorEmail(ctx, existingUser.Email, twoFactorToken.Token); err != nil {
				return nil, fmt.Errorf("failed to send two-factor email: %w", err)
			}
			return &LoginResult{TwoFactor: true}, nil
		}
	}

	redirectTo := callbackURL
	if redirectTo == "" {
		redirectTo = s.defaultLoginRedirect
	}

	session, err := s.sessions.Establish(ctx, email, password, redirectTo)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, ErrWrongCredentials
		}
		var providerErr *ProviderError
		if errors.As(err, &providerErr) {
			s.logger.Error("session provider failed", "error", err.Error())
			return nil, ErrSomethingWrong
		}
		// Outside the provider's error taxonomy: propagate.
		return nil, err
	}

	s.logger.Info("user logged in", "user_id", existingUser.ID)

	return &LoginResult{Session: session}, nil
}

// Reset starts password recovery by mailing a reset token.
func (s *Service) Reset(ctx context.Context, email string) (string, error) {
	if _, err := s.users.GetByEmail(ctx, email); err != nil {
		return "", ErrEmailNotFound
	}

	resetToken, err := s.tokens.IssuePasswordReset(ctx, email)
	if err != nil {
		return "", fmt.Errorf("failed to issue password reset token: %w", err)
	}

	if err := s.email.SendPasswordResetEmail(ctx, email, resetToken.Token); err != nil {
		return "", fmt.Errorf("failed to send password reset email: %w", err)
	}

	return MsgResetSent, nil
}

// NewPassword commits a password reset. The token is single-use: a
// second invocation with the same token fails the unknown-token guard.
func (s *Service) NewPassword(ctx context.Context, password, tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", ErrTokenMissing
	}

	existingToken, err := s.tokens.ValidatePasswordReset(ctx, tokenStr)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return "", ErrTokenHasExpired
		}
		return "", ErrResetTokenInvalid
	}

	existingUser, err := s.users.GetByEmail(ctx, existingToken.Email)
	if err != nil {
		return "", ErrEmailUnknown
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, existingUser.ID, passwordHash); err != nil {
		return "", fmt.Errorf("failed to update password: %w", err)
	}

	if err := s.tokens.Consume(ctx, token.KindPasswordReset, existingToken); err != nil {
		return "", fmt.Errorf("failed to consume reset token: %w", err)
	}

	s.logger.Info("password updated", "user_id", existingUser.ID)

	return MsgPasswordUpdated, nil
}

// Logout unconditionally terminates the session behind the cookie token.
func (s *Service) Logout(ctx context.Context, cookieToken string) error {
	return s.sessions.Terminate(ctx, cookieToken)
}
