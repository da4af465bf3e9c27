package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity is a fully costed arbitrage candidate. It is immutable after
// creation and consumed exactly once: either it passes the risk gate and is
// planned, or it expires and is discarded.
type Opportunity struct {
	ID             string          `json:"id" db:"id"`
	Cycle          Cycle           `json:"cycle"`
	InputAsset     string          `json:"input_asset" db:"input_asset"`
	InputAmount    decimal.Decimal `json:"input_amount" db:"input_amount"`
	ExpectedOutput decimal.Decimal `json:"expected_output" db:"expected_output"`
	GrossProfit    decimal.Decimal `json:"gross_profit" db:"gross_profit"`
	NetProfit      decimal.Decimal `json:"net_profit" db:"net_profit"`
	GrossProfitPct decimal.Decimal `json:"gross_profit_pct" db:"gross_profit_pct"`
	NetProfitPct   decimal.Decimal `json:"net_profit_pct" db:"net_profit_pct"`
	Confidence     float64         `json:"confidence" db:"confidence"`
	DetectedAt     time.Time       `json:"detected_at" db:"detected_at"`
	ExpiresAt      time.Time       `json:"expires_at" db:"expires_at"`
}

// NetProfitBps returns the net profit expressed in basis points.
func (o *Opportunity) NetProfitBps() decimal.Decimal {
	return o.NetProfitPct.Mul(decimal.NewFromInt(100))
}

// Expired reports whether the opportunity is past its expiry.
func (o *Opportunity) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}
