package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexarb/dexarb-go/internal/models"
	"github.com/dexarb/dexarb-go/internal/venue"
)

type fakeAdapter struct {
	name      string
	rate      decimal.Decimal // output per input unit in simulation
	liquidity decimal.Decimal // zero means the venue publishes no depth
	quoteTS   time.Time       // zero means no cached quote
	simErr    error
	swapErr   error
}

func (f *fakeAdapter) Name() string  { return f.name }
func (f *fakeAdapter) FeeBps() int64 { return 0 }

func (f *fakeAdapter) FetchQuotes(_ context.Context, pairs []models.TradingPair) ([]models.Quote, error) {
	if f.quoteTS.IsZero() {
		return nil, nil
	}
	out := make([]models.Quote, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, models.NewQuote(f.name, p, decimal.NewFromInt(100), decimal.NewFromInt(100), f.quoteTS))
	}
	return out, nil
}

func (f *fakeAdapter) FetchLiquidity(context.Context, models.TradingPair) (decimal.Decimal, error) {
	return f.liquidity, nil
}

func (f *fakeAdapter) BuildSwap(_ context.Context, params venue.SwapParams) (models.VenueOp, error) {
	if f.swapErr != nil {
		return models.VenueOp{}, f.swapErr
	}
	return models.VenueOp{
		Venue:        f.name,
		Pair:         params.Pair,
		Side:         params.Side,
		AmountIn:     params.AmountIn,
		MinAmountOut: params.AmountIn.Mul(f.rate),
		Instruction:  []byte(`{"venue":"` + f.name + `"}`),
	}, nil
}

func (f *fakeAdapter) SimulateSwap(_ context.Context, params venue.SwapParams) (venue.SwapSimulation, error) {
	if f.simErr != nil {
		return venue.SwapSimulation{}, f.simErr
	}
	return venue.SwapSimulation{OutputAmount: params.AmountIn.Mul(f.rate)}, nil
}

func plannerLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func registryWith(adapters ...venue.Adapter) *venue.Registry {
	r := venue.NewRegistry()
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func testOpportunity(ttl time.Duration) *models.Opportunity {
	pair := models.NewPair("SOL", "USDC")
	now := time.Now()
	return &models.Opportunity{
		ID:         "opp-1",
		InputAsset: "USDC",
		Cycle: models.Cycle{Hops: []models.Hop{
			{Venue: "orca", Pair: pair, Side: models.SideBuy},
			{Venue: "raydium", Pair: pair, Side: models.SideSell},
		}},
		InputAmount:  decimal.NewFromInt(1000),
		NetProfitPct: decimal.NewFromFloat(0.5),
		DetectedAt:   now,
		ExpiresAt:    now.Add(ttl),
	}
}

func rejection(t *testing.T, err error) *RejectionError {
	t.Helper()
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	return rej
}

func TestPlanBalanceFunded(t *testing.T) {
	reg := registryWith(
		&fakeAdapter{name: "orca", rate: decimal.NewFromFloat(0.01)},
		&fakeAdapter{name: "raydium", rate: decimal.NewFromInt(101)},
	)
	p := New(Config{MaxSlippageBps: 50, UrgencyThresholdBps: 100}, reg, nil,
		StaticBalances{"USDC": decimal.NewFromInt(500)}, plannerLogger())

	plan, err := p.Plan(context.Background(), testOpportunity(time.Minute), decimal.NewFromInt(1000))
	require.NoError(t, err)

	require.Len(t, plan.Ops, 2)
	assert.Nil(t, plan.Borrow)
	assert.True(t, plan.Ops[0].AmountIn.Equal(decimal.NewFromInt(500)), "plan size clamps to the funded balance")
	assert.Equal(t, models.UrgencyNormal, plan.Urgency)
	assert.Equal(t, "opp-1", plan.OpportunityID)
}

func TestPlanBorrowEnvelope(t *testing.T) {
	reg := registryWith(
		&fakeAdapter{name: "orca", rate: decimal.NewFromFloat(0.01)},
		&fakeAdapter{name: "raydium", rate: decimal.NewFromInt(102)},
	)
	provider := NewPoolProvider("pool", 9, map[string]decimal.Decimal{
		"USDC": decimal.NewFromInt(100000),
	})
	p := New(Config{EnableBorrow: true, MaxSlippageBps: 50}, reg, provider, nil, plannerLogger())

	plan, err := p.Plan(context.Background(), testOpportunity(time.Minute), decimal.NewFromInt(1000))
	require.NoError(t, err)

	require.NotNil(t, plan.Borrow)
	assert.Equal(t, "pool", plan.Borrow.Provider)
	assert.Equal(t, "USDC", plan.Borrow.Asset)
	assert.True(t, plan.Borrow.BorrowAmount.Equal(decimal.NewFromInt(1000)))
	// repay = borrow + floor(borrow * 9 / 10000) = 1000 + 0 at this scale
	assert.True(t, plan.Borrow.RepayAmount.Equal(models.RepayFor(plan.Borrow.BorrowAmount, 9)))
	assert.NotEmpty(t, plan.Borrow.BorrowOp)
	assert.NotEmpty(t, plan.Borrow.RepayOp)
}

func TestRepayForTable(t *testing.T) {
	cases := []struct {
		borrow string
		feeBps int64
		repay  string
	}{
		{"10000", 9, "10009"},
		{"10000", 0, "10000"},
		{"1000", 9, "1000"},   // floor(0.9) = 0
		{"12345", 30, "12382"}, // floor(37.035) = 37
		{"1", 10000, "2"},
	}
	for _, tc := range cases {
		borrow, err := decimal.NewFromString(tc.borrow)
		require.NoError(t, err)
		assert.Equal(t, tc.repay, models.RepayFor(borrow, tc.feeBps).String(),
			"borrow %s at %d bps", tc.borrow, tc.feeBps)
	}
}

func TestPlanRejectsRepayShortfall(t *testing.T) {
	// cycle output barely above input while the envelope demands more back
	reg := registryWith(
		&fakeAdapter{name: "orca", rate: decimal.NewFromFloat(0.01)},
		&fakeAdapter{name: "raydium", rate: decimal.NewFromInt(100)},
	)
	provider := NewPoolProvider("pool", 50, map[string]decimal.Decimal{
		"USDC": decimal.NewFromInt(100000),
	})
	p := New(Config{EnableBorrow: true}, reg, provider, nil, plannerLogger())

	_, err := p.Plan(context.Background(), testOpportunity(time.Minute), decimal.NewFromInt(10000))
	rej := rejection(t, err)
	assert.Equal(t, ReasonRepayShortfall, rej.Reason)
}

func TestPlanRejectsExpiredOpportunity(t *testing.T) {
	p := New(Config{}, registryWith(), nil, StaticBalances{}, plannerLogger())

	_, err := p.Plan(context.Background(), testOpportunity(-time.Second), decimal.NewFromInt(100))
	rej := rejection(t, err)
	assert.Equal(t, ReasonStaleOpportunity, rej.Reason)
}

func TestPlanRejectsUnderLiquidHop(t *testing.T) {
	reg := registryWith(
		&fakeAdapter{name: "orca", rate: decimal.NewFromFloat(0.01), liquidity: decimal.NewFromInt(10)},
		&fakeAdapter{name: "raydium", rate: decimal.NewFromInt(101)},
	)
	p := New(Config{MaxSlippageBps: 50}, reg, nil,
		StaticBalances{"USDC": decimal.NewFromInt(1000)}, plannerLogger())

	_, err := p.Plan(context.Background(), testOpportunity(time.Minute), decimal.NewFromInt(1000))
	rej := rejection(t, err)
	assert.Equal(t, ReasonInsufficientLiquidity, rej.Reason)
}

func TestPlanAcceptsHopWithinDepth(t *testing.T) {
	reg := registryWith(
		&fakeAdapter{name: "orca", rate: decimal.NewFromFloat(0.01), liquidity: decimal.NewFromInt(50000)},
		&fakeAdapter{name: "raydium", rate: decimal.NewFromInt(101), liquidity: decimal.NewFromInt(50000)},
	)
	p := New(Config{MaxSlippageBps: 50}, reg, nil,
		StaticBalances{"USDC": decimal.NewFromInt(1000)}, plannerLogger())

	plan, err := p.Plan(context.Background(), testOpportunity(time.Minute), decimal.NewFromInt(1000))
	require.NoError(t, err)
	require.Len(t, plan.Ops, 2)
}

func TestPlanRejectsStaleQuote(t *testing.T) {
	reg := registryWith(
		&fakeAdapter{name: "orca", rate: decimal.NewFromFloat(0.01), quoteTS: time.Now().Add(-5 * time.Second)},
		&fakeAdapter{name: "raydium", rate: decimal.NewFromInt(101), quoteTS: time.Now()},
	)
	p := New(Config{MaxSlippageBps: 50, FreshnessBound: 2 * time.Second}, reg, nil,
		StaticBalances{"USDC": decimal.NewFromInt(1000)}, plannerLogger())

	_, err := p.Plan(context.Background(), testOpportunity(time.Minute), decimal.NewFromInt(1000))
	rej := rejection(t, err)
	assert.Equal(t, ReasonStaleOpportunity, rej.Reason)
	assert.Contains(t, rej.Detail, "orca")
}

func TestPlanAcceptsFreshQuotes(t *testing.T) {
	reg := registryWith(
		&fakeAdapter{name: "orca", rate: decimal.NewFromFloat(0.01), quoteTS: time.Now()},
		&fakeAdapter{name: "raydium", rate: decimal.NewFromInt(101), quoteTS: time.Now()},
	)
	p := New(Config{MaxSlippageBps: 50, FreshnessBound: 2 * time.Second}, reg, nil,
		StaticBalances{"USDC": decimal.NewFromInt(1000)}, plannerLogger())

	_, err := p.Plan(context.Background(), testOpportunity(time.Minute), decimal.NewFromInt(1000))
	require.NoError(t, err)
}

func TestPlanRejectsUnknownVenue(t *testing.T) {
	reg := registryWith(&fakeAdapter{name: "orca", rate: decimal.NewFromFloat(0.01)})
	p := New(Config{}, reg, nil, StaticBalances{"USDC": decimal.NewFromInt(1000)}, plannerLogger())

	_, err := p.Plan(context.Background(), testOpportunity(time.Minute), decimal.NewFromInt(100))
	rej := rejection(t, err)
	assert.Equal(t, ReasonVenueUnavailable, rej.Reason)
}

func TestPlanRejectsOnSimulationFailureMidCycle(t *testing.T) {
	reg := registryWith(
		&fakeAdapter{name: "orca", rate: decimal.NewFromFloat(0.01)},
		&fakeAdapter{name: "raydium", simErr: errors.New("pool drained")},
	)
	p := New(Config{}, reg, nil, StaticBalances{"USDC": decimal.NewFromInt(1000)}, plannerLogger())

	plan, err := p.Plan(context.Background(), testOpportunity(time.Minute), decimal.NewFromInt(100))
	rej := rejection(t, err)
	assert.Equal(t, ReasonInsufficientLiquidity, rej.Reason)
	assert.Nil(t, plan, "a failed hop must not yield a partial plan")
}

func TestPlanRejectsWithoutFunds(t *testing.T) {
	reg := registryWith(&fakeAdapter{name: "orca", rate: decimal.NewFromFloat(0.01)})
	p := New(Config{}, reg, nil, StaticBalances{}, plannerLogger())

	_, err := p.Plan(context.Background(), testOpportunity(time.Minute), decimal.NewFromInt(100))
	rej := rejection(t, err)
	assert.Equal(t, ReasonNoFunds, rej.Reason)
}

func TestPlanRejectsBorrowUnavailableAsset(t *testing.T) {
	reg := registryWith(&fakeAdapter{name: "orca", rate: decimal.NewFromFloat(0.01)})
	provider := NewPoolProvider("pool", 9, map[string]decimal.Decimal{})
	p := New(Config{EnableBorrow: true}, reg, provider, nil, plannerLogger())

	_, err := p.Plan(context.Background(), testOpportunity(time.Minute), decimal.NewFromInt(100))
	rej := rejection(t, err)
	assert.Equal(t, ReasonBorrowUnavailable, rej.Reason)
}

func TestPlanHighUrgencyAboveThreshold(t *testing.T) {
	reg := registryWith(
		&fakeAdapter{name: "orca", rate: decimal.NewFromFloat(0.01)},
		&fakeAdapter{name: "raydium", rate: decimal.NewFromInt(101)},
	)
	p := New(Config{UrgencyThresholdBps: 40}, reg, nil,
		StaticBalances{"USDC": decimal.NewFromInt(1000)}, plannerLogger())

	opp := testOpportunity(time.Minute) // 0.5% net = 50 bps
	plan, err := p.Plan(context.Background(), opp, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, models.UrgencyHigh, plan.Urgency)
}
