package profit

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexarb/dexarb-go/internal/models"
)

type feeTable map[string]int64

func (t feeTable) FeeBps(venue string) int64 { return t[venue] }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func snapWith(taken time.Time, quotes ...models.Quote) *models.PriceSnapshot {
	snap := &models.PriceSnapshot{
		Quotes:  make(map[models.SnapshotKey]models.Quote),
		TakenAt: taken,
	}
	for _, q := range quotes {
		snap.Quotes[models.SnapshotKey{Venue: q.Venue, Pair: q.Pair}] = q
	}
	return snap
}

// Buy 1000 USDC of SOL at ask 100.0 (10 bps fee), sell at bid 100.6
// (10 bps fee), no depth model, no fixed cost:
//
//	1000/100 * 0.999 = 9.99 SOL
//	9.99 * 100.6 * 0.999 = 1003.989006 USDC
//
// net 3.989006 USDC on 1000, i.e. 0.3989%.
func TestEvaluateTwoHopSpread(t *testing.T) {
	pair := models.NewPair("SOL", "USDC")
	now := time.Now()
	calc := NewCalculator(Config{
		MinProfitBps:   30,
		FreshnessBound: 5 * time.Second,
		OpportunityTTL: 2 * time.Second,
	}, feeTable{"orca": 10, "raydium": 10}, nil, quietLogger())

	snap := snapWith(now,
		models.NewQuote("orca", pair, decimal.NewFromFloat(99.9), decimal.NewFromFloat(100.0), now),
		models.NewQuote("raydium", pair, decimal.NewFromFloat(100.6), decimal.NewFromFloat(100.7), now),
	)
	cand := models.CycleCandidate{
		Cycle: models.Cycle{Hops: []models.Hop{
			{Venue: "orca", Pair: pair, Side: models.SideBuy},
			{Venue: "raydium", Pair: pair, Side: models.SideSell},
		}},
		GrossRate: decimal.NewFromFloat(100.6).Div(decimal.NewFromFloat(100.0)),
	}

	opp, ok := calc.Evaluate(cand, snap, decimal.NewFromInt(1000))
	require.True(t, ok)

	assert.Equal(t, "USDC", opp.InputAsset)
	assert.Equal(t, "1003.989006", opp.ExpectedOutput.String())
	assert.Equal(t, "3.989006", opp.NetProfit.String())
	assert.Equal(t, "0.3989", opp.NetProfitPct.StringFixed(4))
	assert.Equal(t, snap.TakenAt, opp.DetectedAt)
	assert.Equal(t, snap.TakenAt.Add(2*time.Second), opp.ExpiresAt)
	assert.Equal(t, 1.0, opp.Confidence)
}

// A triangular candidate grossing 0.8% loses it all to three 25 bps fees:
// 1.008 * 0.9975^3 leaves roughly 0.046%, under the 0.3% threshold.
func TestEvaluateFiltersThinTriangle(t *testing.T) {
	now := time.Now()
	solUsdc := models.NewPair("SOL", "USDC")
	raySol := models.NewPair("RAY", "SOL")
	rayUsdc := models.NewPair("RAY", "USDC")

	calc := NewCalculator(Config{
		MinProfitBps:   30,
		FreshnessBound: 5 * time.Second,
		OpportunityTTL: 2 * time.Second,
	}, feeTable{"orca": 25, "raydium": 25}, nil, quietLogger())

	snap := snapWith(now,
		models.NewQuote("orca", solUsdc, decimal.NewFromFloat(99.5), decimal.NewFromFloat(100.0), now),
		models.NewQuote("orca", raySol, decimal.NewFromFloat(0.495), decimal.NewFromFloat(0.5), now),
		models.NewQuote("raydium", rayUsdc, decimal.NewFromFloat(50.4), decimal.NewFromFloat(50.5), now),
	)
	cand := models.CycleCandidate{
		Cycle: models.Cycle{Hops: []models.Hop{
			{Venue: "orca", Pair: solUsdc, Side: models.SideBuy},
			{Venue: "orca", Pair: raySol, Side: models.SideBuy},
			{Venue: "raydium", Pair: rayUsdc, Side: models.SideSell},
		}},
		GrossRate: decimal.NewFromFloat(1.008),
	}

	_, ok := calc.Evaluate(cand, snap, decimal.NewFromInt(1000))
	assert.False(t, ok, "fees must eat a 0.8% gross triangle at 25 bps per hop")
}

func TestEvaluateSlippageGrowsWithSize(t *testing.T) {
	pair := models.NewPair("SOL", "USDC")
	now := time.Now()
	calc := NewCalculator(Config{
		MinProfitBps:   0,
		FreshnessBound: 5 * time.Second,
		OpportunityTTL: 2 * time.Second,
		DefaultDepth:   decimal.NewFromInt(50000),
	}, feeTable{"orca": 10, "raydium": 10}, nil, quietLogger())

	snap := snapWith(now,
		models.NewQuote("orca", pair, decimal.NewFromFloat(99.0), decimal.NewFromFloat(99.1), now),
		models.NewQuote("raydium", pair, decimal.NewFromFloat(101.0), decimal.NewFromFloat(101.1), now),
	)
	cand := models.CycleCandidate{
		Cycle: models.Cycle{Hops: []models.Hop{
			{Venue: "orca", Pair: pair, Side: models.SideBuy},
			{Venue: "raydium", Pair: pair, Side: models.SideSell},
		}},
		GrossRate: decimal.NewFromFloat(101.0).Div(decimal.NewFromFloat(99.1)),
	}

	small, ok := calc.Evaluate(cand, snap, decimal.NewFromInt(100))
	require.True(t, ok)
	large, ok := calc.Evaluate(cand, snap, decimal.NewFromInt(500))
	require.True(t, ok)

	assert.True(t, large.NetProfitPct.LessThan(small.NetProfitPct),
		"per-unit profit must fall as size grows against finite depth")
}

func TestEvaluateDeductsFixedExecutionCost(t *testing.T) {
	pair := models.NewPair("SOL", "USDC")
	now := time.Now()
	base := Config{
		MinProfitBps:   0,
		FreshnessBound: 5 * time.Second,
		OpportunityTTL: 2 * time.Second,
	}
	fees := feeTable{"orca": 10, "raydium": 10}
	snap := snapWith(now,
		models.NewQuote("orca", pair, decimal.NewFromFloat(99.9), decimal.NewFromFloat(100.0), now),
		models.NewQuote("raydium", pair, decimal.NewFromFloat(100.6), decimal.NewFromFloat(100.7), now),
	)
	cand := models.CycleCandidate{
		Cycle: models.Cycle{Hops: []models.Hop{
			{Venue: "orca", Pair: pair, Side: models.SideBuy},
			{Venue: "raydium", Pair: pair, Side: models.SideSell},
		}},
		GrossRate: decimal.NewFromFloat(1.006),
	}

	free, ok := NewCalculator(base, fees, nil, quietLogger()).Evaluate(cand, snap, decimal.NewFromInt(1000))
	require.True(t, ok)

	base.ExecutionCost = decimal.NewFromFloat(1.5)
	costed, ok := NewCalculator(base, fees, nil, quietLogger()).Evaluate(cand, snap, decimal.NewFromInt(1000))
	require.True(t, ok)

	assert.Equal(t, "1.5", free.NetProfit.Sub(costed.NetProfit).String())
}

func TestEvaluateConfidenceDecaysWithAge(t *testing.T) {
	pair := models.NewPair("SOL", "USDC")
	now := time.Now()
	calc := NewCalculator(Config{
		MinProfitBps:   0,
		FreshnessBound: 4 * time.Second,
		OpportunityTTL: 2 * time.Second,
	}, feeTable{"orca": 10, "raydium": 10}, nil, quietLogger())

	snap := snapWith(now,
		models.NewQuote("orca", pair, decimal.NewFromFloat(99.9), decimal.NewFromFloat(100.0), now.Add(-2*time.Second)),
		models.NewQuote("raydium", pair, decimal.NewFromFloat(100.6), decimal.NewFromFloat(100.7), now),
	)
	cand := models.CycleCandidate{
		Cycle: models.Cycle{Hops: []models.Hop{
			{Venue: "orca", Pair: pair, Side: models.SideBuy},
			{Venue: "raydium", Pair: pair, Side: models.SideSell},
		}},
		GrossRate: decimal.NewFromFloat(1.006),
	}

	opp, ok := calc.Evaluate(cand, snap, decimal.NewFromInt(1000))
	require.True(t, ok)
	assert.InDelta(t, 0.5, opp.Confidence, 1e-9, "a 2s-old quote against a 4s bound halves confidence")
}

func TestEvaluateMissingQuoteFails(t *testing.T) {
	pair := models.NewPair("SOL", "USDC")
	now := time.Now()
	calc := NewCalculator(Config{MinProfitBps: 0, OpportunityTTL: time.Second},
		feeTable{}, nil, quietLogger())

	snap := snapWith(now,
		models.NewQuote("orca", pair, decimal.NewFromFloat(99.9), decimal.NewFromFloat(100.0), now),
	)
	cand := models.CycleCandidate{
		Cycle: models.Cycle{Hops: []models.Hop{
			{Venue: "orca", Pair: pair, Side: models.SideBuy},
			{Venue: "raydium", Pair: pair, Side: models.SideSell},
		}},
		GrossRate: decimal.NewFromFloat(1.01),
	}

	_, ok := calc.Evaluate(cand, snap, decimal.NewFromInt(1000))
	assert.False(t, ok)
}
