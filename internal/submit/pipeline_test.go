package submit

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexarb/dexarb-go/internal/models"
)

func testSigner(t *testing.T) Signer {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return NewLocalSigner(key)
}

func pipelineLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type fakeSimulator struct {
	result SimulationResult
	err    error
	calls  int
}

func (f *fakeSimulator) Simulate(context.Context, SignedTx) (SimulationResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeChannel struct {
	name    string
	err     error
	delay   time.Duration
	mu      sync.Mutex
	submits int
	fees    []int64
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Submit(ctx context.Context, tx SignedTx) (string, error) {
	f.mu.Lock()
	f.submits++
	f.fees = append(f.fees, tx.PriorityFee)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.name + ":" + tx.Signature, nil
}

func (f *fakeChannel) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

type fakeConfirmer struct {
	errs  []error // consumed per call; last repeats
	calls int
}

func (f *fakeConfirmer) Await(ctx context.Context, _ string) error {
	i := f.calls
	f.calls++
	if i >= len(f.errs) {
		i = len(f.errs) - 1
	}
	if err := f.errs[i]; err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// behave like a real poller and wait out the window
			<-ctx.Done()
			return ctx.Err()
		}
		return err
	}
	return nil
}

func testPlan() *models.ExecutionPlan {
	pair := models.NewPair("SOL", "USDC")
	return &models.ExecutionPlan{
		ID:            "plan-1",
		OpportunityID: "opp-1",
		InputAsset:    "USDC",
		Ops: []models.VenueOp{
			{Venue: "orca", Pair: pair, Side: models.SideBuy, AmountIn: decimal.NewFromInt(100), Instruction: []byte(`{"op":1}`)},
			{Venue: "raydium", Pair: pair, Side: models.SideSell, AmountIn: decimal.NewFromInt(1), Instruction: []byte(`{"op":2}`)},
		},
		CreatedAt: time.Now(),
	}
}

func testOpp() *models.Opportunity {
	return &models.Opportunity{
		ID:             "opp-1",
		InputAmount:    decimal.NewFromInt(100),
		ExpectedOutput: decimal.NewFromInt(101),
		NetProfit:      decimal.NewFromInt(1),
	}
}

func testConfig() Config {
	return Config{
		MaxRetries:      3,
		RetryBackoff:    time.Millisecond,
		ConfirmTimeout:  50 * time.Millisecond,
		PriorityFee:     1000,
		PriorityFeeBump: 1.5,
	}
}

func TestExecuteConfirmedFirstAttempt(t *testing.T) {
	ch := &fakeChannel{name: "rpc"}
	p := NewPipeline(testConfig(), testSigner(t), &fakeSimulator{}, []Channel{ch},
		&fakeConfirmer{errs: []error{nil}}, pipelineLogger())

	res := p.Execute(context.Background(), testPlan(), testOpp())

	assert.Equal(t, models.OutcomeConfirmed, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, ch.submitCount())
	assert.NotEmpty(t, res.Signature)
}

func TestExecuteSimulationFailureNeverSubmits(t *testing.T) {
	ch := &fakeChannel{name: "rpc"}
	sim := &fakeSimulator{result: SimulationResult{Err: "slippage exceeded"}}
	p := NewPipeline(testConfig(), testSigner(t), sim, []Channel{ch},
		&fakeConfirmer{errs: []error{nil}}, pipelineLogger())

	res := p.Execute(context.Background(), testPlan(), testOpp())

	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Error, "slippage exceeded")
	assert.Zero(t, ch.submitCount(), "a plan that fails simulation must never reach a channel")
}

func TestExecuteDryRunFabricatesConfirmation(t *testing.T) {
	ch := &fakeChannel{name: "rpc"}
	cfg := testConfig()
	cfg.DryRun = true
	sim := &fakeSimulator{}
	p := NewPipeline(cfg, testSigner(t), sim, []Channel{ch},
		&fakeConfirmer{errs: []error{nil}}, pipelineLogger())

	res := p.Execute(context.Background(), testPlan(), testOpp())

	assert.Equal(t, models.OutcomeConfirmed, res.Outcome)
	assert.Equal(t, 1, sim.calls, "dry run still simulates")
	assert.Zero(t, ch.submitCount())
	assert.Contains(t, res.Signature, "dry-run:")
	assert.True(t, res.RealizedProfit.Equal(decimal.NewFromInt(1)))
}

func TestExecuteRacesChannelsFirstAckWins(t *testing.T) {
	slow := &fakeChannel{name: "rpc", delay: 200 * time.Millisecond}
	fast := &fakeChannel{name: "bundle"}
	p := NewPipeline(testConfig(), testSigner(t), &fakeSimulator{}, []Channel{slow, fast},
		&fakeConfirmer{errs: []error{nil}}, pipelineLogger())

	plan := testPlan()
	plan.Urgency = models.UrgencyHigh
	res := p.Execute(context.Background(), plan, testOpp())

	assert.Equal(t, models.OutcomeConfirmed, res.Outcome)
	assert.Contains(t, res.Signature, "bundle:")
}

func TestExecuteNormalUrgencyUsesDirectChannelOnly(t *testing.T) {
	direct := &fakeChannel{name: "rpc"}
	bundle := &fakeChannel{name: "bundle"}
	p := NewPipeline(testConfig(), testSigner(t), &fakeSimulator{}, []Channel{direct, bundle},
		&fakeConfirmer{errs: []error{nil}}, pipelineLogger())

	res := p.Execute(context.Background(), testPlan(), testOpp())

	assert.Equal(t, models.OutcomeConfirmed, res.Outcome)
	assert.Contains(t, res.Signature, "rpc:")
	assert.Equal(t, 1, direct.submitCount())
	assert.Zero(t, bundle.submitCount(), "bundle relay joins the race only for high urgency")
}

func TestExecuteHighUrgencySubmitsAllChannels(t *testing.T) {
	direct := &fakeChannel{name: "rpc", err: errors.New("node overloaded")}
	bundle := &fakeChannel{name: "bundle"}
	p := NewPipeline(testConfig(), testSigner(t), &fakeSimulator{}, []Channel{direct, bundle},
		&fakeConfirmer{errs: []error{nil}}, pipelineLogger())

	plan := testPlan()
	plan.Urgency = models.UrgencyHigh
	res := p.Execute(context.Background(), plan, testOpp())

	assert.Equal(t, models.OutcomeConfirmed, res.Outcome)
	assert.Contains(t, res.Signature, "bundle:")
	assert.Equal(t, 1, direct.submitCount())
	assert.Equal(t, 1, bundle.submitCount())
}

func TestExecuteTimeoutReplacesWithHigherFee(t *testing.T) {
	ch := &fakeChannel{name: "rpc"}
	p := NewPipeline(testConfig(), testSigner(t), &fakeSimulator{}, []Channel{ch},
		&fakeConfirmer{errs: []error{context.DeadlineExceeded, nil}}, pipelineLogger())

	res := p.Execute(context.Background(), testPlan(), testOpp())

	assert.Equal(t, models.OutcomeConfirmed, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
	require.Len(t, ch.fees, 2)
	assert.Greater(t, ch.fees[1], ch.fees[0], "replacement must carry a strictly higher priority fee")
	assert.Equal(t, int64(1500), ch.fees[1])
}

func TestExecuteTimesOutAfterAllRetries(t *testing.T) {
	ch := &fakeChannel{name: "rpc"}
	p := NewPipeline(testConfig(), testSigner(t), &fakeSimulator{}, []Channel{ch},
		&fakeConfirmer{errs: []error{context.DeadlineExceeded}}, pipelineLogger())

	res := p.Execute(context.Background(), testPlan(), testOpp())

	assert.Equal(t, models.OutcomeTimedOut, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, ch.submitCount())
}

func TestExecuteRevertedTransactionFails(t *testing.T) {
	ch := &fakeChannel{name: "rpc"}
	p := NewPipeline(testConfig(), testSigner(t), &fakeSimulator{}, []Channel{ch},
		&fakeConfirmer{errs: []error{ErrTxFailed}}, pipelineLogger())

	res := p.Execute(context.Background(), testPlan(), testOpp())

	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	assert.Equal(t, 1, res.Attempts, "an on-chain revert is terminal, not retried")
}

func TestExecuteSubmissionErrorsExhaustRetries(t *testing.T) {
	ch := &fakeChannel{name: "rpc", err: errors.New("connection refused")}
	p := NewPipeline(testConfig(), testSigner(t), &fakeSimulator{}, []Channel{ch},
		&fakeConfirmer{errs: []error{nil}}, pipelineLogger())

	res := p.Execute(context.Background(), testPlan(), testOpp())

	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	assert.Equal(t, 3, ch.submitCount())
	assert.Contains(t, res.Error, "connection refused")
}

func TestAssembleBorrowEnvelopeOrdering(t *testing.T) {
	plan := testPlan()
	plan.Borrow = &models.BorrowEnvelope{
		Provider:     "pool",
		Asset:        "USDC",
		BorrowAmount: decimal.NewFromInt(100),
		RepayAmount:  decimal.NewFromInt(100),
		BorrowOp:     []byte(`{"op":"borrow"}`),
		RepayOp:      []byte(`{"op":"repay"}`),
	}

	payload, err := assemble(plan, 1000)
	require.NoError(t, err)

	s := string(payload)
	borrowIdx := strings.Index(s, `"op":"borrow"`)
	firstSwap := strings.Index(s, `{"op":1}`)
	lastSwap := strings.Index(s, `{"op":2}`)
	repayIdx := strings.Index(s, `"op":"repay"`)

	require.GreaterOrEqual(t, borrowIdx, 0)
	require.GreaterOrEqual(t, repayIdx, 0)
	assert.Less(t, borrowIdx, firstSwap, "borrow leg must come first")
	assert.Less(t, lastSwap, repayIdx, "repay leg must come last")
}
