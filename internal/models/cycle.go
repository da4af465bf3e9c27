package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Side is the trade direction of a hop relative to its pair.
type Side int

const (
	// SideBuy spends the quote asset and receives the base asset.
	SideBuy Side = iota
	// SideSell spends the base asset and receives the quote asset.
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// Hop is a single trade in a cycle: a direction on a pair at a venue.
type Hop struct {
	Venue string      `json:"venue"`
	Pair  TradingPair `json:"pair"`
	Side  Side        `json:"side"`
}

// AssetIn returns the asset this hop consumes.
func (h Hop) AssetIn() string {
	if h.Side == SideBuy {
		return h.Pair.Quote
	}
	return h.Pair.Base
}

// AssetOut returns the asset this hop produces.
func (h Hop) AssetOut() string {
	if h.Side == SideBuy {
		return h.Pair.Base
	}
	return h.Pair.Quote
}

// Cycle is an ordered sequence of hops forming a closed trading loop.
type Cycle struct {
	Hops []Hop `json:"hops"`
}

// StartAsset returns the asset the cycle begins and ends with.
func (c Cycle) StartAsset() string {
	if len(c.Hops) == 0 {
		return ""
	}
	return c.Hops[0].AssetIn()
}

// Closed reports whether consecutive hops chain correctly and the final
// output asset equals the initial input asset.
func (c Cycle) Closed() bool {
	if len(c.Hops) < 2 {
		return false
	}
	for i := 1; i < len(c.Hops); i++ {
		if c.Hops[i-1].AssetOut() != c.Hops[i].AssetIn() {
			return false
		}
	}
	return c.Hops[len(c.Hops)-1].AssetOut() == c.Hops[0].AssetIn()
}

// Key returns a canonical identifier for the hop sequence, used for
// deduplication across detection passes.
func (c Cycle) Key() string {
	var b strings.Builder
	for i, h := range c.Hops {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(h.Venue)
		b.WriteByte(':')
		b.WriteString(h.Pair.Symbol())
		b.WriteByte(':')
		b.WriteString(h.Side.String())
	}
	return b.String()
}

// AssetSetKey returns an order-insensitive identifier for the assets the
// cycle touches. Cycles sharing an asset set compete for the same capital,
// so only the best of them is acted on.
func (c Cycle) AssetSetKey() string {
	seen := make(map[string]struct{}, len(c.Hops))
	assets := make([]string, 0, len(c.Hops))
	for _, h := range c.Hops {
		for _, a := range []string{h.Pair.Base, h.Pair.Quote} {
			if _, ok := seen[a]; !ok {
				seen[a] = struct{}{}
				assets = append(assets, a)
			}
		}
	}
	// insertion sort; asset sets are tiny
	for i := 1; i < len(assets); i++ {
		for j := i; j > 0 && assets[j] < assets[j-1]; j-- {
			assets[j], assets[j-1] = assets[j-1], assets[j]
		}
	}
	return strings.Join(assets, "|")
}

func (c Cycle) String() string {
	parts := make([]string, 0, len(c.Hops)+1)
	for _, h := range c.Hops {
		parts = append(parts, h.AssetIn())
	}
	if len(c.Hops) > 0 {
		parts = append(parts, c.Hops[len(c.Hops)-1].AssetOut())
	}
	return strings.Join(parts, "->")
}

// CycleCandidate pairs a detected cycle with its raw gross per-unit return,
// before fees and execution cost are accounted for.
type CycleCandidate struct {
	Cycle     Cycle
	GrossRate decimal.Decimal // output units per input unit, fee-free
}
