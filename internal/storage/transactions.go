package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/exchangebot/core/logger"
)

// DefaultHistoryLimit is the number of transactions shown in a user's history.
const DefaultHistoryLimit = 10

// TransactionRepository appends and lists exchange transactions.
type TransactionRepository struct {
	db *sqlx.DB
}

// NewTransactionRepository wraps db.
func NewTransactionRepository(db *sqlx.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const insertTransactionSQL = `
INSERT INTO transactions (
    id, user_id, transaction_type, amount_usd, commission_usd, total_usd,
    rate_bs, total_bs, payment_reference, status, created_at
) VALUES (
    :id, :user_id, :transaction_type, :amount_usd, :commission_usd, :total_usd,
    :rate_bs, :total_bs, :payment_reference, :status, :created_at
)`

// Record inserts tx. It never updates an existing row.
func (r *TransactionRepository) Record(ctx context.Context, tx Transaction) error {
	if tx.Status == "" {
		tx.Status = StatusPending
	}
	if _, err := r.db.NamedExecContext(ctx, insertTransactionSQL, tx); err != nil {
		return fmt.Errorf("storage: record transaction %s: %w", tx.ID, err)
	}
	logger.DB.LogAttrs(ctx, slog.LevelInfo, "",
		slog.String("event", "transaction.recorded"),
		slog.String("status", "ok"),
		slog.String("tx_id", tx.ID.String()),
		slog.Int64("user_id", tx.UserID),
		slog.String("reference", tx.PaymentReference),
	)
	return nil
}

// History returns the user's most recent transactions, newest first.
func (r *TransactionRepository) History(ctx context.Context, userID int64, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var out []Transaction
	err := r.db.SelectContext(ctx, &out, `
SELECT id, user_id, transaction_type, amount_usd, commission_usd, total_usd,
       rate_bs, total_bs, payment_reference, status, created_at
FROM transactions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: history for %d: %w", userID, err)
	}
	return out, nil
}
