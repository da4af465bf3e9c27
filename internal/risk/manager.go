// Package risk gates every candidate opportunity behind multi-tier circuit
// breakers, position sizing and loss accounting.
package risk

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dexarb/dexarb-go/internal/models"
)

// Tier names. Each tier owns an independent breaker; execution requires all
// three to admit it.
const (
	TierTrade   = "trade"
	TierSession = "session"
	TierDaily   = "daily"
)

// Config holds the risk model parameters.
type Config struct {
	MaxPositionPerTrade  decimal.Decimal
	DailyLossLimit       decimal.Decimal
	SessionLossLimit     decimal.Decimal
	SessionLength        time.Duration
	VolatilityWindow     int
	CorrelationThreshold float64
	CorrelatedExposure   decimal.Decimal
	VaRPercentile        float64
	VaRBudget            decimal.Decimal
	Breakers             BreakerConfig
}

// PersistedState is the durable portion of the risk model: loss ledgers and
// breaker counters must survive a process restart within the same
// accounting period.
type PersistedState struct {
	Day          string                     `json:"day"`
	SessionStart time.Time                  `json:"session_start"`
	DailyLoss    decimal.Decimal            `json:"daily_loss"`
	SessionLoss  decimal.Decimal            `json:"session_loss"`
	Breakers     map[string]BreakerSnapshot `json:"breakers"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

// StateStore persists risk state across restarts. The redis-backed store in
// internal/store implements it.
type StateStore interface {
	SaveRiskState(ctx context.Context, st PersistedState) error
	LoadRiskState(ctx context.Context) (*PersistedState, bool, error)
}

// Manager owns all mutable trading state: breaker tiers, exposure and loss
// ledgers, volatility tracking and the per-asset single-flight gate. It is
// constructed at startup, checkpointed at intervals and torn down cleanly;
// everything that needs gate or record access receives it explicitly.
type Manager struct {
	cfg    Config
	logger *logrus.Logger
	store  StateStore

	breakers map[string]*TierBreaker
	vol      *VolatilityTracker
	venues   *VenueStats

	mu           sync.Mutex
	day          string
	sessionStart time.Time
	dailyLoss    decimal.Decimal
	sessionLoss  decimal.Decimal
	exposure     map[string]decimal.Decimal
	inflight     map[string]bool
	tradesTotal  int
}

const dayLayout = "2006-01-02"

// NewManager creates a risk manager. store may be nil in tests; onChange
// receives breaker transitions for the observability sink and may be nil.
func NewManager(cfg Config, store StateStore, logger *logrus.Logger, onChange StateChangeFunc) *Manager {
	now := time.Now()
	m := &Manager{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		breakers:     make(map[string]*TierBreaker, 3),
		vol:          NewVolatilityTracker(cfg.VolatilityWindow),
		venues:       NewVenueStats(),
		day:          now.Format(dayLayout),
		sessionStart: now,
		dailyLoss:    decimal.Zero,
		sessionLoss:  decimal.Zero,
		exposure:     make(map[string]decimal.Decimal),
		inflight:     make(map[string]bool),
	}
	for i, tier := range []string{TierTrade, TierSession, TierDaily} {
		bc := cfg.Breakers
		// outer tiers cool down longer before re-admitting trades
		bc.Timeout = cfg.Breakers.Timeout * time.Duration(1<<i)
		m.breakers[tier] = NewTierBreaker(tier, bc, logger, onChange)
	}
	return m
}

// Restore loads checkpointed state if it belongs to the current accounting
// period. Stale daily ledgers reset on the calendar boundary regardless of
// when the process last ran.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	st, ok, err := m.store.LoadRiskState(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if st.Day == now.Format(dayLayout) {
		m.dailyLoss = st.DailyLoss
		m.day = st.Day
		if now.Sub(st.SessionStart) < m.cfg.SessionLength {
			m.sessionLoss = st.SessionLoss
			m.sessionStart = st.SessionStart
		}
		for tier, snap := range st.Breakers {
			if b, exists := m.breakers[tier]; exists {
				b.Restore(snap)
			}
		}
		m.logger.WithFields(logrus.Fields{
			"day":          st.Day,
			"daily_loss":   st.DailyLoss.String(),
			"session_loss": st.SessionLoss.String(),
		}).Info("Restored risk state from checkpoint")
	}
	return nil
}

// Checkpoint persists the durable risk state.
func (m *Manager) Checkpoint(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.mu.Lock()
	st := PersistedState{
		Day:          m.day,
		SessionStart: m.sessionStart,
		DailyLoss:    m.dailyLoss,
		SessionLoss:  m.sessionLoss,
		Breakers:     make(map[string]BreakerSnapshot, len(m.breakers)),
		UpdatedAt:    time.Now(),
	}
	for tier, b := range m.breakers {
		st.Breakers[tier] = b.Snapshot()
	}
	m.mu.Unlock()

	return m.store.SaveRiskState(ctx, st)
}

// RunCheckpoints persists state on the given cadence until ctx is
// cancelled, with a final checkpoint on shutdown.
func (m *Manager) RunCheckpoints(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.Checkpoint(shutdownCtx); err != nil {
				m.logger.WithError(err).Warn("Final risk checkpoint failed")
			}
			cancel()
			return
		case <-ticker.C:
			if err := m.Checkpoint(ctx); err != nil {
				m.logger.WithError(err).Warn("Risk checkpoint failed")
			}
		}
	}
}

// CanExecute reports whether all tiers currently admit an execution.
// HalfOpen tiers grant a single probe; if a later tier denies, probes
// already granted by earlier tiers are returned.
func (m *Manager) CanExecute() bool {
	now := time.Now()
	granted := make([]*TierBreaker, 0, 3)
	for _, tier := range []string{TierTrade, TierSession, TierDaily} {
		b := m.breakers[tier]
		if !b.CanExecute(now) {
			for _, g := range granted {
				g.ReleaseProbe()
			}
			return false
		}
		granted = append(granted, b)
	}
	return true
}

// ReleaseProbes returns any HalfOpen probe slots granted by CanExecute
// when the admitted execution never reached submission.
func (m *Manager) ReleaseProbes() {
	for _, b := range m.breakers {
		b.ReleaseProbe()
	}
}

// TierState returns the current state of a tier, for status reporting.
func (m *Manager) TierState(tier string) State {
	if b, ok := m.breakers[tier]; ok {
		return b.GetState()
	}
	return Closed
}

// RecordResult feeds a terminal trade result into the breakers, the loss
// ledgers and the venue reliability statistics.
func (m *Manager) RecordResult(res models.TradeResult, venues []string) {
	now := time.Now()

	if res.Outcome.Success() {
		for _, b := range m.breakers {
			b.RecordSuccess()
		}
	} else {
		for _, b := range m.breakers {
			b.RecordFailure(now)
		}
	}
	m.venues.Record(venues, res.Outcome.Success())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(now)
	m.tradesTotal++

	if res.RealizedProfit.IsNegative() {
		loss := res.RealizedProfit.Neg()
		m.dailyLoss = m.dailyLoss.Add(loss)
		m.sessionLoss = m.sessionLoss.Add(loss)

		if m.sessionLoss.GreaterThanOrEqual(m.cfg.SessionLossLimit) {
			m.breakers[TierSession].ForceOpen(now, "session loss limit reached")
		}
		if m.dailyLoss.GreaterThanOrEqual(m.cfg.DailyLossLimit) {
			m.breakers[TierDaily].ForceOpen(now, "daily loss limit reached")
		}
	}
}

// rolloverLocked resets loss ledgers on calendar and session boundaries.
// Boundaries are fixed clock boundaries, not process lifetimes.
func (m *Manager) rolloverLocked(now time.Time) {
	if d := now.Format(dayLayout); d != m.day {
		m.day = d
		m.dailyLoss = decimal.Zero
	}
	if now.Sub(m.sessionStart) >= m.cfg.SessionLength {
		m.sessionStart = now
		m.sessionLoss = decimal.Zero
	}
}

// UpdateQuotes feeds fresh mid prices into the volatility tracker.
func (m *Manager) UpdateQuotes(quotes []models.Quote) {
	for _, q := range quotes {
		m.vol.Update(q.Pair.Symbol(), q.Mid)
	}
}

// VenueReliability exposes the reliability scorer for the profit
// calculator.
func (m *Manager) VenueReliability() *VenueStats {
	return m.venues
}

// PositionSize returns the approved input amount for a trade on the given
// asset symbol. The base limit scales down with trailing volatility, is
// capped by aggregate exposure to correlated positions, and bounded so the
// VaR-estimated loss stays inside the configured budget.
func (m *Manager) PositionSize(symbol string, available decimal.Decimal) decimal.Decimal {
	size := m.cfg.MaxPositionPerTrade
	if available.IsPositive() && available.LessThan(size) {
		size = available
	}

	// volatility scaling: sizing shrinks as the vol estimate grows
	if v := m.vol.Volatility(symbol); v > 0 {
		size = size.Div(decimal.NewFromFloat(1 + v*10))
	}

	// correlated exposure cap
	m.mu.Lock()
	correlated := decimal.Zero
	for held, amount := range m.exposure {
		if held == symbol || m.vol.Correlation(symbol, held) > m.cfg.CorrelationThreshold {
			correlated = correlated.Add(amount)
		}
	}
	m.mu.Unlock()
	if room := m.cfg.CorrelatedExposure.Sub(correlated); room.LessThan(size) {
		size = room
	}
	if size.IsNegative() {
		return decimal.Zero
	}

	// VaR bound: size * VaR <= budget
	if v := m.vol.VaR(symbol, m.cfg.VaRPercentile); v > 0 {
		maxByVaR := m.cfg.VaRBudget.Div(decimal.NewFromFloat(v))
		if maxByVaR.LessThan(size) {
			size = maxByVaR
		}
	}
	return size
}

// Reserve claims the single-flight slot for an input asset. Only one
// execution plan may be in flight per asset; a second Reserve fails until
// Release is called. The reserved amount counts toward exposure.
func (m *Manager) Reserve(asset string, amount decimal.Decimal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inflight[asset] {
		return false
	}
	m.inflight[asset] = true
	m.exposure[asset] = m.exposure[asset].Add(amount)
	return true
}

// Release frees the single-flight slot and removes the reserved exposure.
func (m *Manager) Release(asset string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.inflight, asset)
	left := m.exposure[asset].Sub(amount)
	if left.IsPositive() {
		m.exposure[asset] = left
	} else {
		delete(m.exposure, asset)
	}
}

// Status summarizes the current risk posture for the control surface.
type Status struct {
	TierStates  map[string]string `json:"tier_states"`
	DailyLoss   decimal.Decimal   `json:"daily_loss"`
	SessionLoss decimal.Decimal   `json:"session_loss"`
	TradesTotal int               `json:"trades_total"`
	Exposure    int               `json:"open_positions"`
}

// Status returns a snapshot of the manager's posture.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make(map[string]string, len(m.breakers))
	for tier, b := range m.breakers {
		states[tier] = b.GetState().String()
	}
	return Status{
		TierStates:  states,
		DailyLoss:   m.dailyLoss,
		SessionLoss: m.sessionLoss,
		TradesTotal: m.tradesTotal,
		Exposure:    len(m.exposure),
	}
}
