package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is the terminal state of an execution plan.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
)

// Success reports whether the outcome realized the trade.
func (o Outcome) Success() bool {
	return o == OutcomeConfirmed
}

// TradeResult is the terminal record of an execution plan. Exactly one is
// emitted per plan; it feeds the risk manager's breaker state and the
// observability sink, and is otherwise immutable.
type TradeResult struct {
	PlanID         string          `json:"plan_id" db:"plan_id"`
	OpportunityID  string          `json:"opportunity_id" db:"opportunity_id"`
	InputAsset     string          `json:"input_asset" db:"input_asset"`
	Outcome        Outcome         `json:"outcome" db:"outcome"`
	Signature      string          `json:"signature,omitempty" db:"signature"`
	RealizedProfit decimal.Decimal `json:"realized_profit" db:"realized_profit"`
	Slippage       decimal.Decimal `json:"slippage" db:"slippage"`
	Cost           decimal.Decimal `json:"cost" db:"cost"`
	Attempts       int             `json:"attempts" db:"attempts"`
	ExecutedAt     time.Time       `json:"executed_at" db:"executed_at"`
	Error          string          `json:"error,omitempty" db:"error"`
}
