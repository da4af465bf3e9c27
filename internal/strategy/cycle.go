package strategy

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dexarb/dexarb-go/internal/models"
	"github.com/dexarb/dexarb-go/internal/pathfinder"
	"github.com/dexarb/dexarb-go/internal/profit"
)

// CycleStrategy is the core detector: it runs cycle search over the
// snapshot graph and prices every candidate through the profit
// calculator.
type CycleStrategy struct {
	finder     *pathfinder.Finder
	calculator *profit.Calculator
	probe      decimal.Decimal
	logger     *logrus.Logger
}

// NewCycleStrategy wires the detector. probe is the reference input
// amount candidates are priced at; actual sizing happens at the risk
// gate.
func NewCycleStrategy(finder *pathfinder.Finder, calculator *profit.Calculator, probe decimal.Decimal, logger *logrus.Logger) *CycleStrategy {
	return &CycleStrategy{finder: finder, calculator: calculator, probe: probe, logger: logger}
}

func (s *CycleStrategy) Name() string { return "cycle" }

func (s *CycleStrategy) Analyze(ctx context.Context, snap *models.PriceSnapshot) []*models.Opportunity {
	candidates := s.finder.FindCycles(snap)
	if len(candidates) == 0 {
		return nil
	}

	opps := make([]*models.Opportunity, 0, len(candidates))
	for _, cand := range candidates {
		if ctx.Err() != nil {
			return opps
		}
		opp, ok := s.calculator.Evaluate(cand, snap, s.probe)
		if !ok {
			continue
		}
		opps = append(opps, opp)
	}

	if len(opps) > 0 {
		s.logger.WithFields(logrus.Fields{
			"strategy":   s.Name(),
			"candidates": len(candidates),
			"profitable": len(opps),
		}).Debug("Snapshot analysis complete")
	}
	return opps
}

var _ Strategy = (*CycleStrategy)(nil)
