// Package engine runs the detect-gate-plan-submit loop over live venue
// feeds.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dexarb/dexarb-go/internal/models"
	"github.com/dexarb/dexarb-go/internal/observability"
	"github.com/dexarb/dexarb-go/internal/planner"
	"github.com/dexarb/dexarb-go/internal/risk"
	"github.com/dexarb/dexarb-go/internal/snapshot"
	"github.com/dexarb/dexarb-go/internal/strategy"
	"github.com/dexarb/dexarb-go/internal/submit"
	"github.com/dexarb/dexarb-go/internal/venue"
)

// Config holds the engine loop cadence.
type Config struct {
	Pairs              []models.TradingPair
	DetectionInterval  time.Duration
	IngestInterval     time.Duration
	CheckpointInterval time.Duration
}

// Journal persists detected opportunities and terminal results. The
// postgres journal satisfies it; nil disables journaling.
type Journal interface {
	SaveOpportunity(ctx context.Context, opp *models.Opportunity) error
	SaveResult(ctx context.Context, res models.TradeResult) error
}

// Runner is satisfied by adapters that maintain their own feed
// connection.
type Runner interface {
	Run(ctx context.Context) error
}

// Engine owns the full trade lifecycle: venue ingestion into the
// snapshot store, strategy analysis on a fixed cadence, the risk gate,
// planning and submission, and feeding results back into risk state.
type Engine struct {
	cfg        Config
	venues     *venue.Registry
	store      *snapshot.Store
	strategies *strategy.Registry
	riskMgr    *risk.Manager
	planner    *planner.Planner
	pipeline   *submit.Pipeline
	journal    Journal
	sink       observability.EventSink
	logger     *logrus.Logger

	running atomic.Bool
	stopped atomic.Bool
}

func New(cfg Config, venues *venue.Registry, store *snapshot.Store, strategies *strategy.Registry,
	riskMgr *risk.Manager, pl *planner.Planner, pipeline *submit.Pipeline,
	journal Journal, sink observability.EventSink, logger *logrus.Logger) *Engine {
	if cfg.IngestInterval <= 0 {
		cfg.IngestInterval = cfg.DetectionInterval / 2
	}
	return &Engine{
		cfg:        cfg,
		venues:     venues,
		store:      store,
		strategies: strategies,
		riskMgr:    riskMgr,
		planner:    pl,
		pipeline:   pipeline,
		journal:    journal,
		sink:       sink,
		logger:     logger,
	}
}

// Running reports whether the engine loop is live.
func (e *Engine) Running() bool {
	return e.running.Load() && !e.stopped.Load()
}

// RiskStatus exposes the risk posture for the control surface.
func (e *Engine) RiskStatus() risk.Status {
	return e.riskMgr.Status()
}

// Stop engages the emergency stop: no new opportunities are evaluated
// and nothing further is submitted. In-flight submissions run to their
// terminal state so their results still feed the risk ledgers.
func (e *Engine) Stop(reason string) {
	if e.stopped.CompareAndSwap(false, true) {
		e.sink.EmergencyStop(reason)
	}
}

// Run drives the engine until ctx is cancelled or a worker fails.
func (e *Engine) Run(ctx context.Context) error {
	e.running.Store(true)
	defer e.running.Store(false)

	g, gctx := errgroup.WithContext(ctx)

	for _, adapter := range e.venues.All() {
		adapter := adapter
		if runner, ok := adapter.(Runner); ok {
			g.Go(func() error {
				return runner.Run(gctx)
			})
		}
		g.Go(func() error {
			e.ingest(gctx, adapter)
			return nil
		})
	}

	if e.cfg.CheckpointInterval > 0 {
		g.Go(func() error {
			e.riskMgr.RunCheckpoints(gctx, e.cfg.CheckpointInterval)
			return nil
		})
	}

	g.Go(func() error {
		return e.detectLoop(gctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ingest polls one adapter's quotes into the snapshot store and the
// volatility tracker.
func (e *Engine) ingest(ctx context.Context, adapter venue.Adapter) {
	ticker := time.NewTicker(e.cfg.IngestInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		quotes, err := adapter.FetchQuotes(ctx, e.cfg.Pairs)
		if err != nil {
			e.logger.WithError(err).WithField("venue", adapter.Name()).Debug("Quote fetch failed")
			continue
		}
		for _, q := range quotes {
			e.store.Publish(q)
		}
		e.riskMgr.UpdateQuotes(quotes)
	}
}

func (e *Engine) detectLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.DetectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	if e.stopped.Load() {
		return
	}

	snap := e.store.Snapshot()
	if snap.Len() == 0 {
		return
	}
	e.checkCoverage(snap)

	// all strategies analyze the same coherent snapshot concurrently
	strategies := e.strategies.All()
	lists := make([][]*models.Opportunity, len(strategies))
	var wg sync.WaitGroup
	for i, s := range strategies {
		wg.Add(1)
		go func(i int, s strategy.Strategy) {
			defer wg.Done()
			lists[i] = s.Analyze(ctx, snap)
		}(i, s)
	}
	wg.Wait()

	for _, opp := range strategy.Merge(lists...) {
		if ctx.Err() != nil || e.stopped.Load() {
			return
		}
		e.sink.OpportunityDetected(opp)
		e.journalOpportunity(ctx, opp)
		e.execute(ctx, opp)
	}
}

// execute carries one opportunity through the risk gate, planning and
// submission. The single-flight reservation on the input asset is held
// until the terminal result lands in the risk ledgers.
func (e *Engine) execute(ctx context.Context, opp *models.Opportunity) {
	if !e.riskMgr.CanExecute() {
		return
	}

	size := e.riskMgr.PositionSize(opp.InputAsset, opp.InputAmount)
	if !size.IsPositive() {
		e.riskMgr.ReleaseProbes()
		return
	}
	if !e.riskMgr.Reserve(opp.InputAsset, size) {
		e.riskMgr.ReleaseProbes()
		return
	}
	defer e.riskMgr.Release(opp.InputAsset, size)

	plan, err := e.planner.Plan(ctx, opp, size)
	if err != nil {
		e.riskMgr.ReleaseProbes()
		var rej *planner.RejectionError
		if errors.As(err, &rej) {
			e.sink.PlanRejected(opp.ID, rej.Reason, rej.Detail)
		} else {
			e.logger.WithError(err).WithField("opportunity_id", opp.ID).Error("Planning failed")
		}
		return
	}

	if e.stopped.Load() {
		e.riskMgr.ReleaseProbes()
		return
	}

	res := e.pipeline.Execute(ctx, plan, opp)

	e.riskMgr.RecordResult(res, cycleVenues(opp.Cycle))
	e.sink.TradeCompleted(res)
	e.journalResult(ctx, res)
}

func (e *Engine) checkCoverage(snap *models.PriceSnapshot) {
	expected := len(e.venues.Names()) * len(e.cfg.Pairs)
	if expected > 0 && snap.Len()*2 < expected {
		e.logger.WithFields(logrus.Fields{
			"quotes":   snap.Len(),
			"expected": expected,
		}).Warn("Snapshot coverage below half of configured markets")
	}
}

func (e *Engine) journalOpportunity(ctx context.Context, opp *models.Opportunity) {
	if e.journal == nil {
		return
	}
	if err := e.journal.SaveOpportunity(ctx, opp); err != nil {
		e.logger.WithError(err).Debug("Opportunity journaling failed")
	}
}

func (e *Engine) journalResult(ctx context.Context, res models.TradeResult) {
	if e.journal == nil {
		return
	}
	if err := e.journal.SaveResult(ctx, res); err != nil {
		e.logger.WithError(err).Debug("Result journaling failed")
	}
}

func cycleVenues(c models.Cycle) []string {
	seen := make(map[string]struct{}, len(c.Hops))
	venues := make([]string, 0, len(c.Hops))
	for _, h := range c.Hops {
		if _, ok := seen[h.Venue]; !ok {
			seen[h.Venue] = struct{}{}
			venues = append(venues, h.Venue)
		}
	}
	return venues
}
