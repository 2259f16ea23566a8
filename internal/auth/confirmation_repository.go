package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/gmela/gmela-api/internal/database"
	"github.com/gmela/gmela-api/internal/logging"
)

// ErrConfirmationNotFound covers both an absent confirmation and a
// store fault on lookup.
var ErrConfirmationNotFound = errors.New("two-factor confirmation not found")

// TwoFactorConfirmation marks a completed second factor for the current
// sign-in attempt.
type TwoFactorConfirmation struct {
	ID     uuid.UUID
	UserID uuid.UUID
}

// ConfirmationRepository stores two-factor confirmations in postgres.
type ConfirmationRepository struct {
	db     *bun.DB
	logger *logging.Logger
}

func NewConfirmationRepository(db *bun.DB, logger *logging.Logger) *ConfirmationRepository {
	return &ConfirmationRepository{db: db, logger: logger}
}

// GetByUserID returns the user's confirmation, if one exists
func (r *ConfirmationRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*TwoFactorConfirmation, error) {
	model := new(database.TwoFactorConfirmation)
	err := r.db.NewSelect().
		Model(model).
		Where("user_id = ?", userID).
		Scan(ctx)

	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			r.logger.Warn("confirmation lookup fault normalized to not found", "error", err.Error())
		}
		return nil, ErrConfirmationNotFound
	}

	return &TwoFactorConfirmation{ID: model.ID, UserID: model.UserID}, nil
}

// Replace deletes any prior confirmation for the user and creates a new
// one. The two calls are separate statements, not a transaction; the
// unique constraint on user_id backstops concurrent attempts.
func (r *ConfirmationRepository) Replace(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.NewDelete().
		Model((*database.TwoFactorConfirmation)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete prior confirmation: %w", err)
	}

	model := &database.TwoFactorConfirmation{UserID: userID}
	_, err = r.db.NewInsert().
		Model(model).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create confirmation: %w", err)
	}

	return nil
}

// Delete consumes a confirmation by id
func (r *ConfirmationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.NewDelete().
		Model((*database.TwoFactorConfirmation)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete confirmation: %w", err)
	}
	return nil
}
