// Package strategy defines the pluggable analysis layer: each strategy
// reads one coherent price snapshot and proposes costed opportunities.
package strategy

import (
	"context"
	"sort"
	"sync"

	"github.com/dexarb/dexarb-go/internal/models"
)

// Strategy analyzes a snapshot and returns fully costed opportunities.
// Implementations may keep internal state between calls but must be safe
// to run concurrently with other strategies over the same snapshot.
type Strategy interface {
	Name() string
	Analyze(ctx context.Context, snap *models.PriceSnapshot) []*models.Opportunity
}

// Registry holds the registered strategies in registration order.
type Registry struct {
	mu         sync.RWMutex
	strategies []Strategy
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies = append(r.strategies, s)
}

func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, len(r.strategies))
	copy(out, r.strategies)
	return out
}

// Merge combines opportunity lists from all strategies, keeps the best
// opportunity per competing asset set and orders the result by net profit
// descending. Cycles over the same assets compete for the same capital,
// so only one survives.
func Merge(lists ...[]*models.Opportunity) []*models.Opportunity {
	best := make(map[string]*models.Opportunity)
	for _, list := range lists {
		for _, opp := range list {
			key := opp.Cycle.AssetSetKey()
			cur, ok := best[key]
			if !ok || opp.NetProfit.GreaterThan(cur.NetProfit) {
				best[key] = opp
			}
		}
	}
	merged := make([]*models.Opportunity, 0, len(best))
	for _, opp := range best {
		merged = append(merged, opp)
	}
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].NetProfit.Equal(merged[j].NetProfit) {
			return merged[i].NetProfit.GreaterThan(merged[j].NetProfit)
		}
		return merged[i].Cycle.Key() < merged[j].Cycle.Key()
	})
	return merged
}
