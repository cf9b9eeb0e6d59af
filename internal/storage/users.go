package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/exchangebot/core/logger"
)

// UserRepository reads and writes the users table.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository wraps db.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const upsertUserSQL = `
INSERT INTO users (telegram_id, username, first_name, last_name, email, phone)
VALUES (:telegram_id, :username, :first_name, :last_name, :email, :phone)
ON CONFLICT (telegram_id) DO UPDATE SET
    username   = EXCLUDED.username,
    first_name = EXCLUDED.first_name,
    last_name  = EXCLUDED.last_name,
    email      = EXCLUDED.email,
    phone      = EXCLUDED.phone`

// Upsert inserts the user or updates the profile of an existing one.
func (r *UserRepository) Upsert(ctx context.Context, u User) error {
	if u.TelegramID == 0 {
		return fmt.Errorf("storage: upsert user: empty telegram id")
	}
	if _, err := r.db.NamedExecContext(ctx, upsertUserSQL, u); err != nil {
		return fmt.Errorf("storage: upsert user %d: %w", u.TelegramID, err)
	}
	logger.DB.LogAttrs(ctx, slog.LevelInfo, "",
		slog.String("event", "user.upsert"),
		slog.String("status", "ok"),
		slog.Int64("user_id", u.TelegramID),
	)
	return nil
}

// Exists reports whether the user is registered.
func (r *UserRepository) Exists(ctx context.Context, telegramID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM users WHERE telegram_id = $1)`, telegramID)
	if err != nil {
		return false, fmt.Errorf("storage: user exists %d: %w", telegramID, err)
	}
	return exists, nil
}

// AllIDs lists every registered Telegram id.
func (r *UserRepository) AllIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, `SELECT telegram_id FROM users ORDER BY telegram_id`); err != nil {
		return nil, fmt.Errorf("storage: list user ids: %w", err)
	}
	return ids, nil
}
