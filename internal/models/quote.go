package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the latest known price for a pair on a single venue. Quotes are
// immutable once created; a newer Quote for the same (venue, pair) supersedes
// this one, it is never mutated in place.
type Quote struct {
	Venue     string          `json:"venue"`
	Pair      TradingPair     `json:"pair"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Mid       decimal.Decimal `json:"mid"`
	Volume24h decimal.Decimal `json:"volume_24h,omitempty"`
	Liquidity decimal.Decimal `json:"liquidity,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewQuote creates a Quote with the mid price derived from bid and ask.
func NewQuote(venue string, pair TradingPair, bid, ask decimal.Decimal, ts time.Time) Quote {
	return Quote{
		Venue:     venue,
		Pair:      pair,
		Bid:       bid,
		Ask:       ask,
		Mid:       bid.Add(ask).Div(decimal.NewFromInt(2)),
		Timestamp: ts,
	}
}

// SpreadPct returns the bid/ask spread as a percentage of the mid price.
func (q Quote) SpreadPct() decimal.Decimal {
	if q.Mid.IsZero() {
		return decimal.Zero
	}
	return q.Ask.Sub(q.Bid).Div(q.Mid).Mul(decimal.NewFromInt(100))
}

// Age returns how old the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// SnapshotKey identifies a (venue, pair) slot in a snapshot.
type SnapshotKey struct {
	Venue string
	Pair  TradingPair
}

// PriceSnapshot is a point-in-time, read-only copy of the latest quote per
// (venue, pair). Reader components share one snapshot without locking; it is
// rebuilt from the store on every detection tick and old snapshots are simply
// dropped.
type PriceSnapshot struct {
	Quotes  map[SnapshotKey]Quote
	TakenAt time.Time
}

// Quote returns the quote for a (venue, pair) slot, if present.
func (s *PriceSnapshot) Quote(venue string, pair TradingPair) (Quote, bool) {
	q, ok := s.Quotes[SnapshotKey{Venue: venue, Pair: pair}]
	return q, ok
}

// Len returns the number of populated slots.
func (s *PriceSnapshot) Len() int {
	return len(s.Quotes)
}
