package models

import (
	"fmt"
	"strings"
)

// TradingPair is an ordered pair of asset identifiers. It is a comparable
// value type: two pairs are equal iff base and quote match exactly.
type TradingPair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// NewPair creates a TradingPair from base and quote asset identifiers.
func NewPair(base, quote string) TradingPair {
	return TradingPair{Base: base, Quote: quote}
}

// ParsePair parses a "BASE/QUOTE" symbol.
func ParsePair(symbol string) (TradingPair, error) {
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok || base == "" || quote == "" {
		return TradingPair{}, fmt.Errorf("invalid pair symbol %q", symbol)
	}
	return TradingPair{Base: base, Quote: quote}, nil
}

// Symbol returns the pair as a display string, e.g. "SOL/USDC".
func (p TradingPair) Symbol() string {
	return fmt.Sprintf("%s/%s", p.Base, p.Quote)
}

func (p TradingPair) String() string {
	return p.Symbol()
}
