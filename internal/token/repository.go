package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/gmela/gmela-api/internal/database"
	"github.com/gmela/gmela-api/internal/logging"
)

// ErrNotFound is returned for absent tokens and, deliberately, for any
// underlying store fault on a lookup. Callers cannot distinguish the two.
var ErrNotFound = errors.New("token not found")

// Store is the persistence contract the token service runs on.
type Store interface {
	GetByToken(ctx context.Context, kind Kind, tokenStr string) (*Token, error)
	GetByEmail(ctx context.Context, kind Kind, email string) (*Token, error)
	Create(ctx context.Context, kind Kind, t *Token) error
	DeleteByEmail(ctx context.Context, kind Kind, email string) error
	Delete(ctx context.Context, kind Kind, t *Token) error
}

// Repository persists all three token kinds through bun. Each kind has
// its own table; the kind switch picks the model.
type Repository struct {
	db     *bun.DB
	logger *logging.Logger
}

func NewRepository(db *bun.DB, logger *logging.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// GetByToken looks a token up by its unique token string
func (r *Repository) GetByToken(ctx context.Context, kind Kind, tokenStr string) (*Token, error) {
	model := modelFor(kind)
	err := r.db.NewSelect().
		Model(model).
		Where("token = ?", tokenStr).
		Scan(ctx)

	if err != nil {
		r.logLookupFault(err, kind)
		return nil, ErrNotFound
	}

	return fromModel(model), nil
}

// GetByEmail returns the outstanding token of the given kind for an email
func (r *Repository) GetByEmail(ctx context.Context, kind Kind, email string) (*Token, error) {
	model := modelFor(kind)
	err := r.db.NewSelect().
		Model(model).
		Where("email = ?", email).
		Limit(1).
		Scan(ctx)

	if err != nil {
		r.logLookupFault(err, kind)
		return nil, ErrNotFound
	}

	return fromModel(model), nil
}

// Create inserts a freshly issued token
func (r *Repository) Create(ctx context.Context, kind Kind, t *Token) error {
	model := toModel(kind, t)
	_, err := r.db.NewInsert().
		Model(model).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create %s token: %w", kind, err)
	}

	*t = *fromModel(model)
	return nil
}

// DeleteByEmail removes any outstanding token of the given kind for an
// email. Deleting nothing is not an error.
func (r *Repository) DeleteByEmail(ctx context.Context, kind Kind, email string) error {
	_, err := r.db.NewDelete().
		Model(modelFor(kind)).
		Where("email = ?", email).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete %s token by email: %w", kind, err)
	}
	return nil
}

// Delete consumes a token by id
func (r *Repository) Delete(ctx context.Context, kind Kind, t *Token) error {
	_, err := r.db.NewDelete().
		Model(modelFor(kind)).
		Where("id = ?", t.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete %s token: %w", kind, err)
	}
	return nil
}

func (r *Repository) logLookupFault(err error, kind Kind) {
	if errors.Is(err, sql.ErrNoRows) {
		return
	}
	r.logger.Warn("token lookup fault normalized to not found", "kind", string(kind), "error", err.Error())
}

func modelFor(kind Kind) any {
	switch kind {
	case KindPasswordReset:
		return new(database.PasswordResetToken)
	case KindTwoFactor:
		return new(database.TwoFactorToken)
	default:
		return new(database.VerificationToken)
	}
}

func toModel(kind Kind, t *Token) any {
	switch kind {
	case KindPasswordReset:
		return &database.PasswordResetToken{ID: t.ID, Email: t.Email, Token: t.Token, Expires: t.Expires}
	case KindTwoFactor:
		return &database.TwoFactorToken{ID: t.ID, Email: t.Email, Token: t.Token, Expires: t.Expires}
	default:
		return &database.VerificationToken{ID: t.ID, Email: t.Email, Token: t.Token, Expires: t.Expires}
	}
}

func fromModel(model any) *Token {
	switch m := model.(type) {
	case *database.PasswordResetToken:
		return &Token{ID: m.ID, Email: m.Email, Token: m.Token, Expires: m.Expires}
	case *database.TwoFactorToken:
		return &Token{ID: m.ID, Email: m.Email, Token: m.Token, Expires: m.Expires}
	case *database.VerificationToken:
		return &Token{ID: m.ID, Email: m.Email, Token: m.Token, Expires: m.Expires}
	default:
		return nil
	}
}
