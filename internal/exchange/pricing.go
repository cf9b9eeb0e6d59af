package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Default pricing constants.
var (
	DefaultCommissionUSD = decimal.NewFromInt(1)
	DefaultRateBs        = decimal.NewFromInt(196)
	// DefaultMaxAmountUSD caps one operation.
	DefaultMaxAmountUSD = decimal.NewFromInt(10000)
)

// DefaultDenominations are the preset amount buttons, in USD.
func DefaultDenominations() []int {
	return []int{1, 5, 10, 20, 50, 100}
}

// Column bounds of transactions.total_usd NUMERIC(14,2) and total_bs NUMERIC(18,2).
var (
	maxStoredUSD = decimal.New(1, 12)
	maxStoredBs  = decimal.New(1, 16)
)

// Pricing holds the fixed commission and the USD to bolivar rate.
type Pricing struct {
	CommissionUSD decimal.Decimal
	RateBs        decimal.Decimal
}

// DefaultPricing returns the stock commission and rate.
func DefaultPricing() Pricing {
	return Pricing{CommissionUSD: DefaultCommissionUSD, RateBs: DefaultRateBs}
}

// Quote is the cost breakdown for an amount. It is derived on demand and never stored.
type Quote struct {
	AmountUSD     decimal.Decimal
	CommissionUSD decimal.Decimal
	TotalUSD      decimal.Decimal
	RateBs        decimal.Decimal
	TotalBs       decimal.Decimal
}

// Quote prices amount: total USD adds the commission and total Bs is rounded to cents.
func (p Pricing) Quote(amount decimal.Decimal) Quote {
	total := amount.Add(p.CommissionUSD)
	return Quote{
		AmountUSD:     amount,
		CommissionUSD: p.CommissionUSD,
		TotalUSD:      total,
		RateBs:        p.RateBs,
		TotalBs:       total.Mul(p.RateBs).Round(2),
	}
}

// checkLimit rejects a cap whose quote could not be stored.
func checkLimit(p Pricing, limit decimal.Decimal) error {
	if !limit.IsPositive() {
		return fmt.Errorf("exchange: max amount must be > 0, got %s", limit)
	}
	q := p.Quote(limit)
	if q.TotalUSD.GreaterThanOrEqual(maxStoredUSD) || q.TotalBs.GreaterThanOrEqual(maxStoredBs) {
		return fmt.Errorf("exchange: max amount %s does not fit the transactions table", limit)
	}
	return nil
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
