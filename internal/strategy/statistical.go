package strategy

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dexarb/dexarb-go/internal/models"
	"github.com/dexarb/dexarb-go/internal/profit"
)

// StatisticalConfig tunes the mean-reversion detector.
type StatisticalConfig struct {
	// Window is the number of spread observations kept per venue pair.
	Window int
	// EntryZScore is the minimum |z| of the current spread against its
	// rolling distribution before a divergence is acted on.
	EntryZScore float64
}

// StatisticalStrategy detects cross-venue divergence by z-scoring the mid
// price spread between venue pairs. A spread far outside its rolling
// distribution suggests a dislocation that has not yet been arbitraged
// away; the strategy proposes the two-hop trade that closes it.
type StatisticalStrategy struct {
	cfg        StatisticalConfig
	calculator *profit.Calculator
	probe      decimal.Decimal
	logger     *logrus.Logger

	mu      sync.Mutex
	history map[string][]float64
}

func NewStatisticalStrategy(cfg StatisticalConfig, calculator *profit.Calculator, probe decimal.Decimal, logger *logrus.Logger) *StatisticalStrategy {
	if cfg.Window <= 1 {
		cfg.Window = 50
	}
	if cfg.EntryZScore <= 0 {
		cfg.EntryZScore = 2.0
	}
	return &StatisticalStrategy{
		cfg:        cfg,
		calculator: calculator,
		probe:      probe,
		logger:     logger,
		history:    make(map[string][]float64),
	}
}

func (s *StatisticalStrategy) Name() string { return "statistical" }

func (s *StatisticalStrategy) Analyze(ctx context.Context, snap *models.PriceSnapshot) []*models.Opportunity {
	byPair := make(map[models.TradingPair][]models.Quote)
	for _, q := range snap.Quotes {
		byPair[q.Pair] = append(byPair[q.Pair], q)
	}

	var opps []*models.Opportunity
	for pair, quotes := range byPair {
		if ctx.Err() != nil {
			return opps
		}
		if len(quotes) < 2 {
			continue
		}
		sort.Slice(quotes, func(i, j int) bool { return quotes[i].Venue < quotes[j].Venue })

		for i := 0; i < len(quotes); i++ {
			for j := i + 1; j < len(quotes); j++ {
				a, b := quotes[i], quotes[j]
				spread, _ := a.Mid.Sub(b.Mid).Float64()
				z, ready := s.observe(a.Venue+"|"+b.Venue+"|"+pair.Symbol(), spread)
				if !ready || math.Abs(z) < s.cfg.EntryZScore {
					continue
				}

				// positive z: a is rich relative to b, so buy on b and
				// sell on a; negative z the other way around
				cheap, rich := b, a
				if z < 0 {
					cheap, rich = a, b
				}
				if !cheap.Ask.IsPositive() || !rich.Bid.IsPositive() {
					continue
				}
				cand := models.CycleCandidate{
					Cycle: models.Cycle{Hops: []models.Hop{
						{Venue: cheap.Venue, Pair: pair, Side: models.SideBuy},
						{Venue: rich.Venue, Pair: pair, Side: models.SideSell},
					}},
					GrossRate: rich.Bid.Div(cheap.Ask),
				}
				opp, ok := s.calculator.Evaluate(cand, snap, s.probe)
				if !ok {
					continue
				}
				s.logger.WithFields(logrus.Fields{
					"strategy": s.Name(),
					"pair":     pair.Symbol(),
					"z_score":  z,
					"cheap":    cheap.Venue,
					"rich":     rich.Venue,
				}).Debug("Divergence detected")
				opps = append(opps, opp)
			}
		}
	}
	return opps
}

// observe appends a spread sample and returns its z-score against the
// window. ready is false until the window holds enough samples for the
// distribution to mean anything.
func (s *StatisticalStrategy) observe(key string, spread float64) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.history[key], spread)
	if len(h) > s.cfg.Window {
		h = h[len(h)-s.cfg.Window:]
	}
	s.history[key] = h

	if len(h) < s.cfg.Window/2 {
		return 0, false
	}
	var sum float64
	for _, v := range h {
		sum += v
	}
	mean := sum / float64(len(h))
	var variance float64
	for _, v := range h {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(h))
	if variance == 0 {
		return 0, false
	}
	return (spread - mean) / math.Sqrt(variance), true
}

var _ Strategy = (*StatisticalStrategy)(nil)
