package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gmela/gmela-api/internal/logging"
)

// ErrInvalidCredentials is the provider's typed rejection: unknown
// email, no local password, wrong password, or a two-factor user with
// no confirmation on file.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ProviderError wraps infrastructure failures inside the session
// provider. Callers treat it as a generic failure; errors outside this
// taxonomy and ErrInvalidCredentials propagate as-is.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("session provider: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// EstablishedSession is what a successful sign-in hands back.
type EstablishedSession struct {
	Token      string
	ExpiresAt  time.Time
	RedirectTo string
}

// RedisSessionProvider establishes sessions by checking the password,
// consuming the two-factor confirmation when the user requires one,
// writing a session record to redis, and minting a PASETO cookie token.
type RedisSessionProvider struct {
	users         UserStore
	confirmations ConfirmationStore
	hasher        PasswordHasher
	tokens        *PasetoService
	redis         *redis.Client
	sessionTTL    time.Duration
	logger        *logging.Logger
}

func NewRedisSessionProvider(
	users UserStore,
	confirmations ConfirmationStore,
	hasher PasswordHasher,
	tokens *PasetoService,
	redisClient *redis.Client,
	sessionTTL time.Duration,
	logger *logging.Logger,
) *RedisSessionProvider {
	return &RedisSessionProvider{
		users:         users,
		confirmations: confirmations,
		hasher:        hasher,
		tokens:        tokens,
		redis:         redisClient,
		sessionTTL:    sessionTTL,
		logger:        logger,
	}
}

func sessionKey(id string) string {
	return "session:" + id
}

// Establish signs a user in with email and password.
func (p *RedisSessionProvider) Establish(ctx context.Context, email, password, redirectTo string) (*EstablishedSession, error) {
	u, err := p.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !u.HasPassword() || !p.hasher.Compare(*u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	// A two-factor user must have completed the second factor for this
	// sign-in attempt. The confirmation is single-use.
	if u.IsTwoFactorEnabled {
		conf, err := p.confirmations.GetByUserID(ctx, u.ID)
		if err != nil {
			return nil, ErrInvalidCredentials
		}
		if err := p.confirmations.Delete(ctx, conf.ID); err != nil {
			return nil, &ProviderError{Op: "consume two-factor confirmation", Err: err}
		}
	}

	sessionID := uuid.New()
	expiresAt := time.Now().Add(p.sessionTTL)

	pipe := p.redis.TxPipeline()
	pipe.HSet(ctx, sessionKey(sessionID.String()), map[string]any{
		"user_id":    u.ID.String(),
		"email":      u.Email,
		"login_time": time.Now().Unix(),
		"expires":    expiresAt.Unix(),
	})
	pipe.Expire(ctx, sessionKey(sessionID.String()), p.sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, &ProviderError{Op: "store session", Err: err}
	}

	cookieToken, err := p.tokens.CreateToken(sessionID, u.Email, p.sessionTTL)
	if err != nil {
		return nil, &ProviderError{Op: "mint session token", Err: err}
	}

	p.logger.Info("session established", "user_id", u.ID, "session_id", sessionID)

	return &EstablishedSession{
		Token:      cookieToken,
		ExpiresAt:  expiresAt,
		RedirectTo: redirectTo,
	}, nil
}

// Terminate tears a session down. An unverifiable cookie token means
// there is nothing to tear down, which is not an error: logout is
// unconditional.
func (p *RedisSessionProvider) Terminate(ctx context.Context, cookieToken string) error {
	claims, err := p.tokens.VerifyToken(cookieToken)
	if err != nil {
		return nil
	}

	if err := p.redis.Del(ctx, sessionKey(claims.SessionID)).Err(); err != nil {
		return &ProviderError{Op: "delete session", Err: err}
	}

	return nil
}

// Identity is the session state attached to authenticated requests.
type Identity struct {
	SessionID string
	UserID    uuid.UUID
	Email     string
	LoginTime time.Time
}

// Authenticate resolves a cookie token to a live session. The second
// return is false for anything short of a verified token with a
// matching redis record.
func (p *RedisSessionProvider) Authenticate(ctx context.Context, cookieToken string) (*Identity, bool) {
	claims, err := p.tokens.VerifyToken(cookieToken)
	if err != nil {
		return nil, false
	}

	vals, err := p.redis.HGetAll(ctx, sessionKey(claims.SessionID)).Result()
	if err != nil || len(vals) == 0 {
		return nil, false
	}

	userID, err := uuid.Parse(vals["user_id"])
	if err != nil {
		return nil, false
	}

	loginUnix, _ := strconv.ParseInt(vals["login_time"], 10, 64)

	return &Identity{
		SessionID: claims.SessionID,
		UserID:    userID,
		Email:     vals["email"],
		LoginTime: time.Unix(loginUnix, 0),
	}, true
}
