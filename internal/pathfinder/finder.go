// Package pathfinder enumerates profitable trading cycles through the quote
// graph of a price snapshot.
package pathfinder

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dexarb/dexarb-go/internal/models"
)

// relaxEps guards the negative-cycle test against float rounding noise.
const relaxEps = 1e-9

// FeeSource provides per-venue trading fees. *venue.Registry satisfies it.
type FeeSource interface {
	FeeBps(venue string) int64
}

// Config bounds the search.
type Config struct {
	MaxHops        int
	MinGrossBps    int64
	FreshnessBound time.Duration
}

// Finder detects 2-hop and N-hop cycles. It is stateless between calls:
// feeding it the same snapshot twice yields the same candidate set.
type Finder struct {
	cfg    Config
	fees   FeeSource
	logger *logrus.Logger
}

// NewFinder creates a Finder.
func NewFinder(cfg Config, fees FeeSource, logger *logrus.Logger) *Finder {
	if cfg.MaxHops < 2 {
		cfg.MaxHops = 2
	}
	return &Finder{cfg: cfg, fees: fees, logger: logger}
}

// edge models one (venue, pair, direction) as a weighted directed edge in
// the asset graph. weight is -log of the fee-adjusted exchange rate, so a
// cycle with negative total weight multiplies capital by more than 1.
type edge struct {
	from, to int
	hop      models.Hop
	rawRate  decimal.Decimal // fee-free exchange rate
	weight   float64
}

// graph is an arena of assets and edges built from one snapshot. Vertices
// and edges are referenced by index; no pointer structures, no recursion.
type graph struct {
	assets []string
	index  map[string]int
	edges  []edge
}

// FindCycles returns all cycle candidates whose gross per-unit return
// exceeds the configured minimum, bounded to MaxHops hops. Venues with
// missing or stale quotes simply contribute no edges for this pass.
func (f *Finder) FindCycles(snap *models.PriceSnapshot) []models.CycleCandidate {
	g := f.buildGraph(snap)
	if len(g.edges) == 0 {
		return nil
	}

	candidates := f.pairwise(g)
	if f.cfg.MaxHops >= 3 {
		candidates = append(candidates, f.multiHop(g)...)
	}

	// Dedupe rotations of the same loop, then order deterministically.
	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		k := canonicalKey(c.Cycle)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].GrossRate.Equal(out[j].GrossRate) {
			return out[i].GrossRate.GreaterThan(out[j].GrossRate)
		}
		if len(out[i].Cycle.Hops) != len(out[j].Cycle.Hops) {
			return len(out[i].Cycle.Hops) < len(out[j].Cycle.Hops)
		}
		return out[i].Cycle.Key() < out[j].Cycle.Key()
	})
	return out
}

// buildGraph collects fresh quotes into a deterministic edge arena. Each
// usable quote yields two edges: sell base->quote at the bid, buy
// quote->base at 1/ask.
func (f *Finder) buildGraph(snap *models.PriceSnapshot) *graph {
	keys := make([]models.SnapshotKey, 0, len(snap.Quotes))
	for k := range snap.Quotes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Venue != keys[j].Venue {
			return keys[i].Venue < keys[j].Venue
		}
		return keys[i].Pair.Symbol() < keys[j].Pair.Symbol()
	})

	g := &graph{index: make(map[string]int)}
	vertex := func(asset string) int {
		if i, ok := g.index[asset]; ok {
			return i
		}
		i := len(g.assets)
		g.assets = append(g.assets, asset)
		g.index[asset] = i
		return i
	}

	dropped := 0
	for _, k := range keys {
		q := snap.Quotes[k]
		if q.Age(snap.TakenAt) > f.cfg.FreshnessBound {
			dropped++
			continue
		}
		feeFactor := 1.0 - float64(f.fees.FeeBps(q.Venue))/10000.0
		base, quote := vertex(q.Pair.Base), vertex(q.Pair.Quote)

		if q.Bid.IsPositive() {
			rate, _ := q.Bid.Float64()
			g.edges = append(g.edges, edge{
				from:    base,
				to:      quote,
				hop:     models.Hop{Venue: q.Venue, Pair: q.Pair, Side: models.SideSell},
				rawRate: q.Bid,
				weight:  -math.Log(rate * feeFactor),
			})
		}
		if q.Ask.IsPositive() {
			ask, _ := q.Ask.Float64()
			g.edges = append(g.edges, edge{
				from:    quote,
				to:      base,
				hop:     models.Hop{Venue: q.Venue, Pair: q.Pair, Side: models.SideBuy},
				rawRate: decimal.NewFromInt(1).Div(q.Ask),
				weight:  -math.Log(1.0 / ask * feeFactor),
			})
		}
	}

	if dropped > 0 && f.logger != nil {
		f.logger.WithFields(logrus.Fields{
			"stale_quotes": dropped,
			"edges":        len(g.edges),
		}).Debug("Excluded stale quotes from cycle pass")
	}
	return g
}

// pairwise scans every pair traded on two or more venues and compares the
// best bid against the best ask across venues. A positive fee-free spread is
// a 2-hop candidate: buy where it is cheap, sell where it is dear.
func (f *Finder) pairwise(g *graph) []models.CycleCandidate {
	type best struct {
		bid, ask           decimal.Decimal
		bidVenue, askVenue string
	}
	byPair := make(map[models.TradingPair]*best)
	var pairs []models.TradingPair

	for _, e := range g.edges {
		b, ok := byPair[e.hop.Pair]
		if !ok {
			b = &best{}
			byPair[e.hop.Pair] = b
			pairs = append(pairs, e.hop.Pair)
		}
		switch e.hop.Side {
		case models.SideSell: // rawRate is the bid
			if e.rawRate.GreaterThan(b.bid) {
				b.bid, b.bidVenue = e.rawRate, e.hop.Venue
			}
		case models.SideBuy: // rawRate is 1/ask
			ask := decimal.NewFromInt(1).Div(e.rawRate)
			if b.ask.IsZero() || ask.LessThan(b.ask) {
				b.ask, b.askVenue = ask, e.hop.Venue
			}
		}
	}

	minGross := decimal.NewFromInt(f.cfg.MinGrossBps).Div(decimal.NewFromInt(10000))
	var out []models.CycleCandidate
	for _, p := range pairs {
		b := byPair[p]
		if b.bidVenue == "" || b.askVenue == "" || b.bidVenue == b.askVenue {
			continue
		}
		if b.ask.IsZero() {
			continue
		}
		gross := b.bid.Div(b.ask)
		if gross.Sub(decimal.NewFromInt(1)).LessThanOrEqual(minGross) {
			continue
		}
		out = append(out, models.CycleCandidate{
			Cycle: models.Cycle{Hops: []models.Hop{
				{Venue: b.askVenue, Pair: p, Side: models.SideBuy},
				{Venue: b.bidVenue, Pair: p, Side: models.SideSell},
			}},
			GrossRate: gross,
		})
	}
	return out
}

// multiHop runs a Bellman-Ford style relaxation bounded to MaxHops
// iterations from every source asset. Full convergence is pointless here:
// only short cycles are economically exploitable, and bounding the passes
// keeps the cost at O(hops x edges) per source.
func (f *Finder) multiHop(g *graph) []models.CycleCandidate {
	n := len(g.assets)
	minGross := decimal.NewFromInt(f.cfg.MinGrossBps).Div(decimal.NewFromInt(10000))
	var out []models.CycleCandidate

	for src := 0; src < n; src++ {
		// best[k][v]: minimal weight of a walk of exactly k edges src->v
		best := make([][]float64, f.cfg.MaxHops+1)
		pred := make([][]int, f.cfg.MaxHops+1)
		for k := 0; k <= f.cfg.MaxHops; k++ {
			best[k] = make([]float64, n)
			pred[k] = make([]int, n)
			for v := 0; v < n; v++ {
				best[k][v] = math.Inf(1)
				pred[k][v] = -1
			}
		}
		best[0][src] = 0

		for k := 1; k <= f.cfg.MaxHops; k++ {
			for ei, e := range g.edges {
				if math.IsInf(best[k-1][e.from], 1) {
					continue
				}
				w := best[k-1][e.from] + e.weight
				if w < best[k][e.to]-relaxEps {
					best[k][e.to] = w
					pred[k][e.to] = ei
				}
			}
			if k >= 3 && best[k][src] < -relaxEps {
				if c, ok := f.reconstruct(g, pred, src, k); ok {
					gross := grossRate(g, c)
					if gross.Sub(decimal.NewFromInt(1)).GreaterThan(minGross) {
						out = append(out, models.CycleCandidate{Cycle: c, GrossRate: gross})
					}
				}
			}
		}
	}
	return out
}

// reconstruct walks the predecessor table back from src over exactly k
// edges. The result is a closed walk; Closed() re-checks the asset chaining
// as a belt-and-braces guard.
func (f *Finder) reconstruct(g *graph, pred [][]int, src, k int) (models.Cycle, bool) {
	hops := make([]models.Hop, k)
	v := src
	for i := k; i >= 1; i-- {
		ei := pred[i][v]
		if ei < 0 {
			return models.Cycle{}, false
		}
		hops[i-1] = g.edges[ei].hop
		v = g.edges[ei].from
	}
	if v != src {
		return models.Cycle{}, false
	}
	c := models.Cycle{Hops: hops}
	return c, c.Closed()
}

// grossRate multiplies the fee-free rates along a cycle's hops.
func grossRate(g *graph, c models.Cycle) decimal.Decimal {
	rate := decimal.NewFromInt(1)
	for _, h := range c.Hops {
		for _, e := range g.edges {
			if e.hop == h {
				rate = rate.Mul(e.rawRate)
				break
			}
		}
	}
	return rate
}

// canonicalKey makes cycle keys rotation-invariant so the same loop found
// from different source assets dedupes to one candidate.
func canonicalKey(c models.Cycle) string {
	n := len(c.Hops)
	if n == 0 {
		return ""
	}
	min := c.Key()
	rotated := models.Cycle{Hops: make([]models.Hop, n)}
	for r := 1; r < n; r++ {
		copy(rotated.Hops, c.Hops[r:])
		copy(rotated.Hops[n-r:], c.Hops[:r])
		if k := rotated.Key(); k < min {
			min = k
		}
	}
	return min
}
