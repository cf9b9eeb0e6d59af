// Package storage persists users, exchange transactions and payment methods in PostgreSQL.
package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StatusPending is the only status this bot assigns; settlement happens elsewhere.
const StatusPending = "Pending"

// User is a registered bot user.
type User struct {
	TelegramID int64     `db:"telegram_id"`
	Username   string    `db:"username"`
	FirstName  string    `db:"first_name"`
	LastName   string    `db:"last_name"`
	Email      string    `db:"email"`
	Phone      string    `db:"phone"`
	CreatedAt  time.Time `db:"created_at"`
}

// Transaction is a claimed exchange payment awaiting review.
type Transaction struct {
	ID               uuid.UUID       `db:"id"`
	UserID           int64           `db:"user_id"`
	Type             string          `db:"transaction_type"`
	AmountUSD        decimal.Decimal `db:"amount_usd"`
	CommissionUSD    decimal.Decimal `db:"commission_usd"`
	TotalUSD         decimal.Decimal `db:"total_usd"`
	RateBs           decimal.Decimal `db:"rate_bs"`
	TotalBs          decimal.Decimal `db:"total_bs"`
	PaymentReference string          `db:"payment_reference"`
	Status           string          `db:"status"`
	CreatedAt        time.Time       `db:"created_at"`
}

// Payment method types as stored in payment_methods.method_type.
const (
	MethodPayPal    = "PayPal"
	MethodZinli     = "Zinli"
	MethodPagoMovil = "PagoMovil"
)

// PaymentMethod is an account a user saved for future exchanges. PayPal and Zinli use
// AccountDetails (the account email); Pago Móvil uses the three PM fields.
type PaymentMethod struct {
	ID             uuid.UUID `db:"id"`
	UserID         int64     `db:"user_id"`
	Type           string    `db:"method_type"`
	Nickname       string    `db:"nickname"`
	AccountDetails string    `db:"account_details"`
	IdentityCard   string    `db:"pm_identity_card"`
	PhoneNumber    string    `db:"pm_phone_number"`
	BankName       string    `db:"pm_bank_name"`
	CreatedAt      time.Time `db:"created_at"`
}
