// Package profit turns cycle candidates into fully costed opportunities.
package profit

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dexarb/dexarb-go/internal/models"
)

// FeeSource provides per-venue trading fees. *venue.Registry satisfies it.
type FeeSource interface {
	FeeBps(venue string) int64
}

// ReliabilitySource scores historical execution reliability for a venue
// combination in [0, 1]. The risk manager's venue statistics satisfy it.
type ReliabilitySource interface {
	Score(venues []string) float64
}

// Config holds evaluation thresholds and the execution-cost model.
type Config struct {
	MinProfitBps   int64
	FreshnessBound time.Duration
	OpportunityTTL time.Duration
	// ExecutionCost is the fixed network/priority-fee estimate per cycle,
	// in cycle input asset units.
	ExecutionCost decimal.Decimal
	// DefaultDepth substitutes for quotes that carry no liquidity figure.
	// Zero disables the impact model for such quotes.
	DefaultDepth decimal.Decimal
}

// Calculator evaluates cycle candidates against a snapshot. Stateless:
// identical inputs produce identical economics.
type Calculator struct {
	cfg    Config
	fees   FeeSource
	rel    ReliabilitySource
	logger *logrus.Logger
}

// NewCalculator creates a Calculator. rel may be nil, in which case every
// venue combination scores full reliability.
func NewCalculator(cfg Config, fees FeeSource, rel ReliabilitySource, logger *logrus.Logger) *Calculator {
	return &Calculator{cfg: cfg, fees: fees, rel: rel, logger: logger}
}

// Evaluate simulates the candidate cycle hop by hop for the given input
// amount: venue fee in basis points per hop, then a liquidity-dependent
// price impact whose marginal output decreases as size grows. A fixed
// execution cost is deducted at the end. Candidates netting below the
// minimum threshold return ok=false; that is filtering, not an error.
func (c *Calculator) Evaluate(cand models.CycleCandidate, snap *models.PriceSnapshot, input decimal.Decimal) (*models.Opportunity, bool) {
	if !input.IsPositive() || len(cand.Cycle.Hops) == 0 {
		return nil, false
	}

	amount := input
	var oldest time.Duration
	venues := make([]string, 0, len(cand.Cycle.Hops))

	for _, hop := range cand.Cycle.Hops {
		q, ok := snap.Quote(hop.Venue, hop.Pair)
		if !ok {
			return nil, false
		}
		if age := q.Age(snap.TakenAt); age > oldest {
			oldest = age
		}
		venues = append(venues, hop.Venue)

		var out decimal.Decimal
		switch hop.Side {
		case models.SideBuy:
			if !q.Ask.IsPositive() {
				return nil, false
			}
			out = amount.Div(q.Ask)
		default:
			out = amount.Mul(q.Bid)
		}

		depth := q.Liquidity
		if depth.IsZero() {
			depth = c.cfg.DefaultDepth
		}
		if depth.IsPositive() {
			out = out.Mul(depth.Div(depth.Add(amount)))
		}

		feeBps := c.fees.FeeBps(hop.Venue)
		out = out.Mul(decimal.NewFromInt(10000 - feeBps).Div(decimal.NewFromInt(10000)))

		amount = out
	}

	gross := input.Mul(cand.GrossRate.Sub(decimal.NewFromInt(1)))
	net := amount.Sub(input).Sub(c.cfg.ExecutionCost)
	netPct := net.Div(input).Mul(decimal.NewFromInt(100))

	minPct := decimal.NewFromInt(c.cfg.MinProfitBps).Div(decimal.NewFromInt(100))
	if netPct.LessThan(minPct) {
		if c.logger != nil {
			c.logger.WithFields(logrus.Fields{
				"cycle":          cand.Cycle.String(),
				"net_profit_pct": netPct.StringFixed(4),
			}).Debug("Candidate below profit threshold, filtered")
		}
		return nil, false
	}

	opp := &models.Opportunity{
		ID:             uuid.New().String(),
		Cycle:          cand.Cycle,
		InputAsset:     cand.Cycle.StartAsset(),
		InputAmount:    input,
		ExpectedOutput: amount,
		GrossProfit:    gross,
		NetProfit:      net,
		GrossProfitPct: gross.Div(input).Mul(decimal.NewFromInt(100)),
		NetProfitPct:   netPct,
		Confidence:     c.confidence(oldest, venues),
		DetectedAt:     snap.TakenAt,
		ExpiresAt:      snap.TakenAt.Add(c.cfg.OpportunityTTL),
	}
	return opp, true
}

// confidence combines data freshness with historical venue reliability:
// fresher quotes and more reliable venue combinations score higher.
func (c *Calculator) confidence(oldest time.Duration, venues []string) float64 {
	freshness := 1.0
	if c.cfg.FreshnessBound > 0 {
		freshness = 1.0 - float64(oldest)/float64(c.cfg.FreshnessBound)
		if freshness < 0 {
			freshness = 0
		}
	}
	reliability := 1.0
	if c.rel != nil {
		reliability = c.rel.Score(venues)
	}
	return freshness * reliability
}
