package auth

import (
	"errors"
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"
	"github.com/google/uuid"
)

var (
	ErrInvalidSessionToken = errors.New("invalid session token")
	ErrExpiredSessionToken = errors.New("session token has expired")
)

// SessionClaims is what the session cookie carries.
type SessionClaims struct {
	SessionID string    `json:"session_id"`
	Email     string    `json:"email"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// PasetoService encrypts session cookies as PASETO v4.local tokens
// (symmetric encryption with XChaCha20-Poly1305).
type PasetoService struct {
	symmetricKey paseto.V4SymmetricKey
}

func NewPasetoService(symmetricKey []byte) (*PasetoService, error) {
	if len(symmetricKey) != 32 {
		return nil, fmt.Errorf("symmetric key must be exactly 32 bytes, got %d", len(symmetricKey))
	}

	key, err := paseto.V4SymmetricKeyFromBytes(symmetricKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create symmetric key: %w", err)
	}

	return &PasetoService{
		symmetricKey: key,
	}, nil
}

// CreateToken mints a cookie token for an established session
func (s *PasetoService) CreateToken(sessionID uuid.UUID, email string, duration time.Duration) (string, error) {
	now := time.Now()

	token := paseto.NewToken()
	token.SetIssuedAt(now)
	token.SetExpiration(now.Add(duration))
	token.SetString("session_id", sessionID.String())
	token.SetString("email", email)

	return token.V4Encrypt(s.symmetricKey, nil), nil
}

// VerifyToken decrypts and validates a cookie token
func (s *PasetoService) VerifyToken(tokenStr string) (*SessionClaims, error) {
	parser := paseto.NewParser()

	token, err := parser.ParseV4Local(s.symmetricKey, tokenStr, nil)
	if err != nil {
		// The parser checks expiration by default; distinguish expired from invalid
		if errors.Is(err, &paseto.RuleError{}) {
			return nil, ErrExpiredSessionToken
		}
		return nil, ErrInvalidSessionToken
	}

	sessionID, err := token.GetString("session_id")
	if err != nil {
		return nil, ErrInvalidSessionToken
	}

	email, err := token.GetString("email")
	if err != nil {
		return nil, ErrInvalidSessionToken
	}

	issuedAt, err := token.GetIssuedAt()
	if err != nil {
		return nil, ErrInvalidSessionToken
	}

	expiresAt, err := token.GetExpiration()
	if err != nil {
		return nil, ErrInvalidSessionToken
	}

	return &SessionClaims{
		SessionID: sessionID,
		Email:     email,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}
