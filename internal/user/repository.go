package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/gmela/gmela-api/internal/database"
	"github.com/gmela/gmela-api/internal/logging"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

// Repository handles user data persistence.
//
// Lookups normalize every underlying fault to ErrNotFound: callers get
// either the record or "not found" and cannot tell absence from a store
// outage. The fault itself is logged here.
type Repository struct {
	db     *bun.DB
	logger *logging.Logger
}

func NewRepository(db *bun.DB, logger *logging.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// Create inserts a new, unverified user into the database
func (r *Repository) Create(ctx context.Context, name, email string, passwordHash *string) (*User, error) {
	dbUser := &database.User{
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
	}

	_, err := r.db.NewInsert().
		Model(dbUser).
		Returning("*").
		Exec(ctx)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByEmail retrieves a user by email
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("email = ?", email).
		Scan(ctx)

	if err != nil {
		r.logLookupFault(err, "email")
		return nil, ErrNotFound
	}

	return mapDBUserToModel(dbUser), nil
}

// MarkVerified sets the verification timestamp and binds the verified
// email address to the user.
func (r *Repository) MarkVerified(ctx context.Context, userID uuid.UUID, email string) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("email_verified = ?", time.Now()).
		Set("email = ?", email).
		Set("updated_at = NOW()").
		Where("id = ?", userID).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to mark user as verified: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdatePassword updates a user's password hash
func (r *Repository) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = NOW()").
		Where("id = ?", userID).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// logLookupFault records faults that are about to be reported as "not found"
func (r *Repository) logLookupFault(err error, key string) {
	if errors.Is(err, sql.ErrNoRows) {
		return
	}
	r.logger.Warn("user lookup fault normalized to not found", "key", key, "error", err.Error())
}

// mapDBUserToModel converts database model to domain model
func mapDBUserToModel(dbu *database.User) *User {
	return &User{
		ID:                 dbu.ID,
		Name:               dbu.Name,
		Email:              dbu.Email,
		PasswordHash:       dbu.PasswordHash,
		EmailVerified:      dbu.EmailVerified,
		IsTwoFactorEnabled: dbu.IsTwoFactorEnabled,
		CreatedAt:          dbu.CreatedAt,
		UpdatedAt:          dbu.UpdatedAt,
	}
}
