package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/exchangebot/core/logger"
)

// PaymentMethodRepository stores the payment accounts users save.
type PaymentMethodRepository struct {
	db *sqlx.DB
}

// NewPaymentMethodRepository wraps db.
func NewPaymentMethodRepository(db *sqlx.DB) *PaymentMethodRepository {
	return &PaymentMethodRepository{db: db}
}

const insertPaymentMethodSQL = `
INSERT INTO payment_methods (
    id, user_id, method_type, nickname, account_details,
    pm_identity_card, pm_phone_number, pm_bank_name, created_at
) VALUES (
    :id, :user_id, :method_type, :nickname, :account_details,
    :pm_identity_card, :pm_phone_number, :pm_bank_name, :created_at
)`

// Add saves m, assigning an id and creation time when missing.
func (r *PaymentMethodRepository) Add(ctx context.Context, m PaymentMethod) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.NamedExecContext(ctx, insertPaymentMethodSQL, m); err != nil {
		return fmt.Errorf("storage: add payment method for %d: %w", m.UserID, err)
	}
	logger.DB.LogAttrs(ctx, slog.LevelInfo, "",
		slog.String("event", "payment_method.added"),
		slog.String("status", "ok"),
		slog.Int64("user_id", m.UserID),
		slog.String("method_type", m.Type),
	)
	return nil
}

// ForUser lists the user's payment methods, oldest first.
func (r *PaymentMethodRepository) ForUser(ctx context.Context, userID int64) ([]PaymentMethod, error) {
	var out []PaymentMethod
	err := r.db.SelectContext(ctx, &out, `
SELECT id, user_id, method_type, nickname, account_details,
       pm_identity_card, pm_phone_number, pm_bank_name, created_at
FROM payment_methods
WHERE user_id = $1
ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: payment methods for %d: %w", userID, err)
	}
	return out, nil
}
