package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/gmela/gmela-api/internal/database"
	"github.com/gmela/gmela-api/internal/logging"
)

var ErrAccountNotFound = errors.New("account not found")

// Account links a user to an external identity provider.
type Account struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	Provider          string    `json:"provider"`
	ProviderAccountID string    `json:"provider_account_id"`
}

// AccountRepository stores external identity provider links.
type AccountRepository struct {
	db     *bun.DB
	logger *logging.Logger
}

func NewAccountRepository(db *bun.DB, logger *logging.Logger) *AccountRepository {
	return &AccountRepository{db: db, logger: logger}
}

// GetByUserID returns the user's provider link, if any. Users created
// through an external provider have one of these and no password.
func (r *AccountRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*Account, error) {
	model := new(database.Account)
	err := r.db.NewSelect().
		Model(model).
		Where("user_id = ?", userID).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			r.logger.Warn("account lookup fault normalized to not found", "error", err.Error())
		}
		return nil, ErrAccountNotFound
	}

	return &Account{
		ID:                model.ID,
		UserID:            model.UserID,
		Provider:          model.Provider,
		ProviderAccountID: model.ProviderAccountID,
	}, nil
}
