package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Urgency selects the submission channel for a plan.
type Urgency int

const (
	UrgencyNormal Urgency = iota
	UrgencyHigh
)

func (u Urgency) String() string {
	if u == UrgencyHigh {
		return "high"
	}
	return "normal"
}

// VenueOp is a single venue operation inside an execution plan. Instruction
// carries the opaque, venue-built payload; the core never inspects it.
type VenueOp struct {
	Venue        string          `json:"venue"`
	Pair         TradingPair     `json:"pair"`
	Side         Side            `json:"side"`
	AmountIn     decimal.Decimal `json:"amount_in"`
	MinAmountOut decimal.Decimal `json:"min_amount_out"`
	Instruction  []byte          `json:"-"`
}

// BorrowEnvelope wraps a hop sequence in an atomic borrow/repay unit.
// RepayAmount is fixed at plan time from the literal borrow amount plus the
// lender fee; it is never re-derived after planning.
type BorrowEnvelope struct {
	Provider     string          `json:"provider"`
	Asset        string          `json:"asset"`
	BorrowAmount decimal.Decimal `json:"borrow_amount"`
	FeeBps       int64           `json:"fee_bps"`
	RepayAmount  decimal.Decimal `json:"repay_amount"`
	BorrowOp     []byte          `json:"-"`
	RepayOp      []byte          `json:"-"`
}

// RepayFor computes the exact repay amount for a borrow:
// borrow + floor(borrow * feeBps / 10000).
func RepayFor(borrow decimal.Decimal, feeBps int64) decimal.Decimal {
	fee := borrow.Mul(decimal.NewFromInt(feeBps)).Div(decimal.NewFromInt(10000)).Floor()
	return borrow.Add(fee)
}

// ExecutionPlan is an ordered list of venue operations for one approved
// opportunity, optionally wrapped in a borrow/repay envelope. It is owned
// exclusively by the submission pipeline until a terminal outcome.
type ExecutionPlan struct {
	ID            string          `json:"id" db:"id"`
	OpportunityID string          `json:"opportunity_id" db:"opportunity_id"`
	InputAsset    string          `json:"input_asset"`
	Ops           []VenueOp       `json:"ops"`
	Borrow        *BorrowEnvelope `json:"borrow,omitempty"`
	Urgency       Urgency         `json:"urgency"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Borrowed reports whether the plan carries a borrow/repay envelope.
func (p *ExecutionPlan) Borrowed() bool {
	return p.Borrow != nil
}
