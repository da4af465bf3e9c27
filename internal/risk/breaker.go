package risk

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the current state of a breaker tier.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds configuration for one breaker tier.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	Timeout          time.Duration `json:"timeout"`
}

// BreakerSnapshot is the persistable state of a tier, checkpointed so
// counters survive process restarts within the same accounting period.
type BreakerSnapshot struct {
	State                State     `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastFailure          time.Time `json:"last_failure"`
}

// StateChangeFunc is invoked on every tier state transition.
type StateChangeFunc func(tier string, from, to State)

// TierBreaker is a three-state circuit breaker guarding one tier of
// execution. HalfOpen admits exactly one probing execution at a time:
// CanExecute grants the probe slot and a recorded result releases it.
type TierBreaker struct {
	name     string
	config   BreakerConfig
	logger   *logrus.Logger
	onChange StateChangeFunc

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailure          time.Time
	probeActive          bool
}

// NewTierBreaker creates a breaker for the named tier.
func NewTierBreaker(name string, config BreakerConfig, logger *logrus.Logger, onChange StateChangeFunc) *TierBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &TierBreaker{
		name:     name,
		config:   config,
		logger:   logger,
		onChange: onChange,
		state:    Closed,
	}
}

// CanExecute reports whether this tier currently admits an execution. In
// Open it transitions to HalfOpen once the timeout has elapsed since the
// last failure; in HalfOpen it grants at most one probe until a result is
// recorded.
func (b *TierBreaker) CanExecute(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true

	case Open:
		if now.Sub(b.lastFailure) >= b.config.Timeout {
			b.setState(HalfOpen)
			b.consecutiveSuccesses = 0
			b.probeActive = true
			return true
		}
		return false

	case HalfOpen:
		if b.probeActive {
			return false
		}
		b.probeActive = true
		return true

	default:
		return false
	}
}

// ReleaseProbe returns an unused probe slot. The manager calls this when a
// later tier denied execution after this tier already granted its probe.
func (b *TierBreaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeActive = false
}

// RecordSuccess feeds a successful trade outcome into the tier.
func (b *TierBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeActive = false
	b.consecutiveFailures = 0
	b.consecutiveSuccesses++

	if b.state == HalfOpen && b.consecutiveSuccesses >= b.config.SuccessThreshold {
		b.setState(Closed)
		b.consecutiveSuccesses = 0
	}
}

// RecordFailure feeds a failed trade outcome into the tier. Any failure
// while HalfOpen reopens the tier immediately and restarts the timeout.
func (b *TierBreaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeActive = false
	b.consecutiveSuccesses = 0
	b.consecutiveFailures++
	b.lastFailure = now

	switch b.state {
	case HalfOpen:
		b.setState(Open)
	case Closed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.setState(Open)
		}
	}
}

// ForceOpen trips the tier regardless of counters, e.g. when a loss limit
// is breached.
func (b *TierBreaker) ForceOpen(now time.Time, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = now
	if b.state != Open {
		b.logger.WithFields(logrus.Fields{
			"tier":   b.name,
			"reason": reason,
		}).Warn("Breaker tier forced open")
		b.setState(Open)
	}
}

// GetState returns the current state.
func (b *TierBreaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot exports the persistable state of the tier.
func (b *TierBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:                b.state,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		LastFailure:          b.lastFailure,
	}
}

// Restore reinstates a previously checkpointed state.
func (b *TierBreaker) Restore(s BreakerSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s.State
	b.consecutiveFailures = s.ConsecutiveFailures
	b.consecutiveSuccesses = s.ConsecutiveSuccesses
	b.lastFailure = s.LastFailure
	b.probeActive = false
}

func (b *TierBreaker) setState(newState State) {
	if b.state == newState {
		return
	}
	oldState := b.state
	b.state = newState

	b.logger.WithFields(logrus.Fields{
		"tier":          b.name,
		"old_state":     oldState.String(),
		"new_state":     newState.String(),
		"failure_count": b.consecutiveFailures,
	}).Info("Breaker tier state changed")

	if b.onChange != nil {
		b.onChange(b.name, oldState, newState)
	}
}
