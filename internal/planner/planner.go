// Package planner turns approved opportunities into executable plans: an
// ordered list of venue operations, optionally wrapped in a borrow/repay
// envelope, with per-hop minimum outputs baked in.
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dexarb/dexarb-go/internal/models"
	"github.com/dexarb/dexarb-go/internal/venue"
)

// Rejection reasons. Every failed planning attempt carries exactly one.
const (
	ReasonStaleOpportunity      = "stale_opportunity"
	ReasonVenueUnavailable      = "venue_unavailable"
	ReasonInsufficientLiquidity = "insufficient_liquidity"
	ReasonBorrowUnavailable     = "borrow_unavailable"
	ReasonRepayShortfall        = "repay_shortfall"
	ReasonNoFunds               = "no_funds"
)

// RejectionError reports why an opportunity could not be planned. A
// rejection is an expected outcome, not a fault; callers branch on Reason.
type RejectionError struct {
	Reason string
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("plan rejected (%s): %s", e.Reason, e.Detail)
}

func reject(reason, format string, args ...interface{}) error {
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Config holds the planner's tunables.
type Config struct {
	// EnableBorrow funds plans through a borrow/repay envelope instead of
	// held inventory.
	EnableBorrow bool
	// MaxSlippageBps is the per-hop tolerance baked into minimum outputs.
	MaxSlippageBps int64
	// FreshnessBound rejects hops whose backing quote is older than this.
	// Zero disables the check.
	FreshnessBound time.Duration
	// UrgencyThresholdBps marks plans above this net profit as high urgency.
	UrgencyThresholdBps int64
}

// Planner builds execution plans. All venue access goes through the
// registry so any adapter is pluggable.
type Planner struct {
	cfg      Config
	venues   *venue.Registry
	borrow   BorrowProvider
	balances BalanceSource
	logger   *logrus.Logger
}

// New creates a planner. borrow may be nil when borrow execution is
// disabled; balances may be nil when it is enabled.
func New(cfg Config, venues *venue.Registry, borrow BorrowProvider, balances BalanceSource, logger *logrus.Logger) *Planner {
	return &Planner{cfg: cfg, venues: venues, borrow: borrow, balances: balances, logger: logger}
}

// Plan builds a complete execution plan for the opportunity with the given
// risk-approved input amount. It either returns a full plan or a
// *RejectionError; there are no partial plans.
func (p *Planner) Plan(ctx context.Context, opp *models.Opportunity, amount decimal.Decimal) (*models.ExecutionPlan, error) {
	now := time.Now()
	if opp.Expired(now) {
		return nil, reject(ReasonStaleOpportunity, "opportunity %s expired at %s", opp.ID, opp.ExpiresAt.Format(time.RFC3339))
	}
	if !amount.IsPositive() {
		return nil, reject(ReasonNoFunds, "approved amount %s for %s is not positive", amount, opp.InputAsset)
	}

	var envelope *models.BorrowEnvelope
	if p.cfg.EnableBorrow {
		env, err := p.buildEnvelope(ctx, opp.InputAsset, amount)
		if err != nil {
			return nil, err
		}
		envelope = env
		amount = env.BorrowAmount
	} else {
		funded, err := p.availableBalance(ctx, opp.InputAsset)
		if err != nil {
			return nil, err
		}
		if funded.LessThan(amount) {
			amount = funded
		}
		if !amount.IsPositive() {
			return nil, reject(ReasonNoFunds, "no %s balance to fund plan", opp.InputAsset)
		}
	}

	ops := make([]models.VenueOp, 0, len(opp.Cycle.Hops))
	running := amount
	for i, hop := range opp.Cycle.Hops {
		adapter, err := p.venues.Get(hop.Venue)
		if err != nil {
			return nil, reject(ReasonVenueUnavailable, "hop %d: %v", i, err)
		}

		if p.cfg.FreshnessBound > 0 {
			quotes, qErr := adapter.FetchQuotes(ctx, []models.TradingPair{hop.Pair})
			if qErr == nil && len(quotes) > 0 {
				if age := now.Sub(quotes[0].Timestamp); age > p.cfg.FreshnessBound {
					return nil, reject(ReasonStaleOpportunity, "hop %d: %s quote on %s is %s old, bound %s", i, hop.Pair.Symbol(), hop.Venue, age, p.cfg.FreshnessBound)
				}
			}
		}

		depth, err := adapter.FetchLiquidity(ctx, hop.Pair)
		if err != nil {
			return nil, reject(ReasonInsufficientLiquidity, "hop %d: querying %s depth on %s: %v", i, hop.Pair.Symbol(), hop.Venue, err)
		}
		// zero depth means the venue publishes no figure, not an empty book
		if depth.IsPositive() && running.GreaterThan(depth) {
			return nil, reject(ReasonInsufficientLiquidity, "hop %d: %s in exceeds %s depth on %s", i, running, depth, hop.Venue)
		}

		params := venue.SwapParams{
			Pair:           hop.Pair,
			Side:           hop.Side,
			AmountIn:       running,
			MaxSlippageBps: p.cfg.MaxSlippageBps,
		}
		sim, err := adapter.SimulateSwap(ctx, params)
		if err != nil {
			return nil, reject(ReasonInsufficientLiquidity, "hop %d (%s %s on %s): %v", i, hop.Side, hop.Pair.Symbol(), hop.Venue, err)
		}
		if !sim.OutputAmount.IsPositive() {
			return nil, reject(ReasonInsufficientLiquidity, "hop %d (%s %s on %s): zero output for %s in", i, hop.Side, hop.Pair.Symbol(), hop.Venue, running)
		}

		op, err := adapter.BuildSwap(ctx, params)
		if err != nil {
			return nil, reject(ReasonVenueUnavailable, "hop %d: building swap on %s: %v", i, hop.Venue, err)
		}
		ops = append(ops, op)
		running = sim.OutputAmount
	}

	// the repay amount was fixed when the envelope was built; if the
	// simulated proceeds no longer cover it the plan is not viable
	if envelope != nil && running.LessThan(envelope.RepayAmount) {
		return nil, reject(ReasonRepayShortfall, "projected output %s below repay %s %s", running, envelope.RepayAmount, envelope.Asset)
	}

	urgency := models.UrgencyNormal
	if opp.NetProfitBps().GreaterThanOrEqual(decimal.NewFromInt(p.cfg.UrgencyThresholdBps)) {
		urgency = models.UrgencyHigh
	}

	plan := &models.ExecutionPlan{
		ID:            uuid.New().String(),
		OpportunityID: opp.ID,
		InputAsset:    opp.InputAsset,
		Ops:           ops,
		Borrow:        envelope,
		Urgency:       urgency,
		CreatedAt:     now,
	}

	p.logger.WithFields(logrus.Fields{
		"plan_id":        plan.ID,
		"opportunity_id": opp.ID,
		"hops":           len(ops),
		"borrowed":       plan.Borrowed(),
		"urgency":        urgency.String(),
	}).Debug("Built execution plan")
	return plan, nil
}

func (p *Planner) buildEnvelope(ctx context.Context, asset string, amount decimal.Decimal) (*models.BorrowEnvelope, error) {
	if p.borrow == nil {
		return nil, reject(ReasonBorrowUnavailable, "borrow execution enabled but no provider configured")
	}
	max, err := p.borrow.MaxBorrow(ctx, asset)
	if err != nil {
		return nil, reject(ReasonBorrowUnavailable, "querying %s: %v", p.borrow.Name(), err)
	}
	if !max.IsPositive() {
		return nil, reject(ReasonBorrowUnavailable, "%s cannot lend %s", p.borrow.Name(), asset)
	}
	if max.LessThan(amount) {
		amount = max
	}

	repay := models.RepayFor(amount, p.borrow.FeeBps())
	borrowOp, err := p.borrow.BuildBorrow(ctx, asset, amount)
	if err != nil {
		return nil, reject(ReasonBorrowUnavailable, "building borrow leg: %v", err)
	}
	repayOp, err := p.borrow.BuildRepay(ctx, asset, repay)
	if err != nil {
		return nil, reject(ReasonBorrowUnavailable, "building repay leg: %v", err)
	}

	return &models.BorrowEnvelope{
		Provider:     p.borrow.Name(),
		Asset:        asset,
		BorrowAmount: amount,
		FeeBps:       p.borrow.FeeBps(),
		RepayAmount:  repay,
		BorrowOp:     borrowOp,
		RepayOp:      repayOp,
	}, nil
}

func (p *Planner) availableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	if p.balances == nil {
		return decimal.Zero, reject(ReasonNoFunds, "no balance source configured")
	}
	bal, err := p.balances.Balance(ctx, asset)
	if err != nil {
		return decimal.Zero, reject(ReasonNoFunds, "querying balance for %s: %v", asset, err)
	}
	return bal, nil
}
