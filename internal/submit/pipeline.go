// Package submit carries execution plans through signing, mandatory
// simulation, channel submission and confirmation, producing exactly one
// terminal trade result per plan.
package submit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dexarb/dexarb-go/internal/models"
)

// Config holds the pipeline's retry and fee policy.
type Config struct {
	DryRun          bool
	MaxRetries      int
	RetryBackoff    time.Duration
	ConfirmTimeout  time.Duration
	PriorityFee     int64
	PriorityFeeBump float64
}

// Pipeline drives one plan at a time from built to a terminal outcome.
// Every plan is simulated before submission; a failed simulation is never
// submitted, which is what makes borrowed plans safe to attempt at all.
type Pipeline struct {
	cfg       Config
	signer    Signer
	simulator Simulator
	channels  []Channel
	confirmer Confirmer
	logger    *logrus.Logger
}

// NewPipeline wires a pipeline. channels are ordered: the first is the
// direct submission path, any further channels (bundle relays) join the
// race only for high urgency plans; the first acknowledgment wins.
func NewPipeline(cfg Config, signer Signer, simulator Simulator, channels []Channel, confirmer Confirmer, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		signer:    signer,
		simulator: simulator,
		channels:  channels,
		confirmer: confirmer,
		logger:    logger,
	}
}

// Execute runs the plan to a terminal state and returns its single trade
// result. opp provides the expectation baseline for realized profit and
// slippage accounting.
func (p *Pipeline) Execute(ctx context.Context, plan *models.ExecutionPlan, opp *models.Opportunity) models.TradeResult {
	res := models.TradeResult{
		PlanID:        plan.ID,
		OpportunityID: plan.OpportunityID,
		InputAsset:    plan.InputAsset,
		ExecutedAt:    time.Now(),
	}

	priorityFee := p.cfg.PriorityFee
	totalCost := decimal.Zero
	attempts := p.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res.Attempts = attempt

		payload, err := assemble(plan, priorityFee)
		if err != nil {
			return p.fail(res, fmt.Errorf("assembling plan: %w", err))
		}
		tx, err := p.signer.Sign(ctx, plan.ID, payload, priorityFee)
		if err != nil {
			return p.fail(res, fmt.Errorf("signing plan: %w", err))
		}

		sim, err := p.simulator.Simulate(ctx, tx)
		if err != nil {
			return p.fail(res, fmt.Errorf("simulating plan: %w", err))
		}
		if !sim.Ok() {
			return p.fail(res, fmt.Errorf("simulation rejected plan: %s", sim.Err))
		}

		if p.cfg.DryRun {
			// simulated but never submitted; fabricate the confirmation
			res.Outcome = models.OutcomeConfirmed
			res.Signature = "dry-run:" + plan.ID
			res.RealizedProfit = opp.NetProfit
			res.Slippage = decimal.Zero
			res.Cost = decimal.Zero
			p.logResult(res)
			return res
		}

		sig, err := p.submitRace(ctx, tx, p.channelsFor(plan.Urgency))
		totalCost = totalCost.Add(decimal.NewFromInt(priorityFee))
		if err != nil {
			lastErr = err
			p.logger.WithError(err).WithFields(logrus.Fields{
				"plan_id": plan.ID,
				"attempt": attempt,
			}).Warn("Submission failed")
			if !p.backoff(ctx, attempt) {
				break
			}
			continue
		}
		res.Signature = sig

		confirmCtx, cancel := context.WithTimeout(ctx, p.cfg.ConfirmTimeout)
		err = p.confirmer.Await(confirmCtx, sig)
		cancel()

		switch {
		case err == nil:
			res.Outcome = models.OutcomeConfirmed
			res.Cost = totalCost
			res.RealizedProfit = p.realizedProfit(opp, sim)
			res.Slippage = opp.ExpectedOutput.Sub(sim.ExpectedOutput)
			if sim.ExpectedOutput.IsZero() {
				res.Slippage = decimal.Zero
			}
			p.logResult(res)
			return res
		case errors.Is(err, ErrTxFailed):
			res.Outcome = models.OutcomeFailed
			res.Cost = totalCost
			res.Error = "transaction reverted on chain"
			p.logResult(res)
			return res
		default:
			// confirmation window elapsed; replace with a strictly
			// higher priority fee on the next attempt
			lastErr = err
			priorityFee = p.bumpFee(priorityFee)
			p.logger.WithFields(logrus.Fields{
				"plan_id":      plan.ID,
				"attempt":      attempt,
				"priority_fee": priorityFee,
			}).Warn("Confirmation timed out, replacing transaction")
			if !p.backoff(ctx, attempt) {
				break
			}
		}
	}

	res.Cost = totalCost
	if res.Signature != "" {
		res.Outcome = models.OutcomeTimedOut
		res.Error = "confirmation timed out after all attempts"
	} else {
		res.Outcome = models.OutcomeFailed
		if lastErr != nil {
			res.Error = lastErr.Error()
		} else {
			res.Error = "submission failed"
		}
	}
	p.logResult(res)
	return res
}

func (p *Pipeline) fail(res models.TradeResult, err error) models.TradeResult {
	res.Outcome = models.OutcomeFailed
	res.Error = err.Error()
	p.logResult(res)
	return res
}

func (p *Pipeline) realizedProfit(opp *models.Opportunity, sim SimulationResult) decimal.Decimal {
	if sim.ExpectedOutput.IsPositive() {
		return sim.ExpectedOutput.Sub(opp.InputAmount)
	}
	return opp.NetProfit
}

// submitRace fans the transaction out to every channel and returns the
// first acknowledgment. Remaining submissions are abandoned; at most one
// can land since they share a signature.
// channelsFor selects the submission fan-out: normal plans use the direct
// channel only, high urgency plans race every configured channel.
func (p *Pipeline) channelsFor(urgency models.Urgency) []Channel {
	if urgency == models.UrgencyHigh || len(p.channels) <= 1 {
		return p.channels
	}
	return p.channels[:1]
}

func (p *Pipeline) submitRace(ctx context.Context, tx SignedTx, channels []Channel) (string, error) {
	if len(channels) == 0 {
		return "", errors.New("no submission channels configured")
	}

	type ack struct {
		sig string
		err error
	}
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	acks := make(chan ack, len(channels))
	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			sig, err := ch.Submit(raceCtx, tx)
			if err != nil {
				err = fmt.Errorf("%s: %w", ch.Name(), err)
			}
			acks <- ack{sig: sig, err: err}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(acks)
	}()

	var errs []error
	for a := range acks {
		if a.err == nil {
			cancel()
			return a.sig, nil
		}
		errs = append(errs, a.err)
	}
	return "", errors.Join(errs...)
}

func (p *Pipeline) bumpFee(fee int64) int64 {
	bumped := int64(float64(fee) * p.cfg.PriorityFeeBump)
	if bumped <= fee {
		bumped = fee + 1
	}
	return bumped
}

// backoff sleeps the exponential retry delay; false means the context was
// cancelled or this was the final attempt.
func (p *Pipeline) backoff(ctx context.Context, attempt int) bool {
	if attempt >= p.cfg.MaxRetries {
		return false
	}
	delay := p.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (p *Pipeline) logResult(res models.TradeResult) {
	fields := logrus.Fields{
		"plan_id":  res.PlanID,
		"outcome":  string(res.Outcome),
		"attempts": res.Attempts,
	}
	if res.Signature != "" {
		fields["signature"] = res.Signature
	}
	if res.Outcome.Success() {
		fields["realized_profit"] = res.RealizedProfit.String()
		p.logger.WithFields(fields).Info("Trade confirmed")
	} else {
		fields["error"] = res.Error
		p.logger.WithFields(fields).Warn("Trade did not confirm")
	}
}
