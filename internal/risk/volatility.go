package risk

import (
	"math"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// VolatilityTracker estimates per-symbol return volatility with an
// exponentially weighted moving average of squared returns, and keeps a
// bounded window of raw returns for VaR and correlation estimates.
type VolatilityTracker struct {
	mu         sync.RWMutex
	decay      float64
	window     int
	variances  map[string]float64
	lastPrices map[string]decimal.Decimal
	returns    map[string][]float64
}

// NewVolatilityTracker creates a tracker; windowSize sets both the EWMA
// decay (lambda = 2/(N+1)) and the raw-return window length.
func NewVolatilityTracker(windowSize int) *VolatilityTracker {
	if windowSize < 2 {
		windowSize = 2
	}
	return &VolatilityTracker{
		decay:      2.0 / (float64(windowSize) + 1.0),
		window:     windowSize,
		variances:  make(map[string]float64),
		lastPrices: make(map[string]decimal.Decimal),
		returns:    make(map[string][]float64),
	}
}

// Update feeds a new price observation for a symbol.
func (t *VolatilityTracker) Update(symbol string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.lastPrices[symbol]; ok && last.IsPositive() {
		ret, _ := price.Sub(last).Div(last).Float64()

		// Var_t = lambda * r_t^2 + (1 - lambda) * Var_{t-1}
		t.variances[symbol] = t.decay*ret*ret + (1-t.decay)*t.variances[symbol]

		w := append(t.returns[symbol], ret)
		if len(w) > t.window {
			w = w[1:]
		}
		t.returns[symbol] = w
	}
	t.lastPrices[symbol] = price
}

// Volatility returns the current volatility estimate (std dev of returns)
// for a symbol, or 0 when no history exists yet.
func (t *VolatilityTracker) Volatility(symbol string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return math.Sqrt(t.variances[symbol])
}

// VaR returns the historical value-at-risk at the given percentile as a
// positive loss fraction: the loss not exceeded with probability pct over
// the trailing window. Returns 0 when the window is too short.
func (t *VolatilityTracker) VaR(symbol string, pct float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w := t.returns[symbol]
	if len(w) < 2 {
		return 0
	}
	sorted := make([]float64, len(w))
	copy(sorted, w)
	sort.Float64s(sorted)

	idx := int(math.Floor((1 - pct) * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if loss := sorted[idx]; loss < 0 {
		return -loss
	}
	return 0
}

// Correlation returns the Pearson correlation of the two symbols' trailing
// returns over their overlapping window, or 0 when either window is too
// short.
func (t *VolatilityTracker) Correlation(a, b string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	wa, wb := t.returns[a], t.returns[b]
	n := len(wa)
	if len(wb) < n {
		n = len(wb)
	}
	if n < 2 {
		return 0
	}
	wa, wb = wa[len(wa)-n:], wb[len(wb)-n:]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += wa[i]
		meanB += wb[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := wa[i]-meanA, wb[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
