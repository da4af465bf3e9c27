package venue

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/dexarb/dexarb-go/internal/models"
)

// SwapParams describes one swap for quoting, simulation or instruction
// building.
type SwapParams struct {
	Pair     models.TradingPair
	Side     models.Side
	AmountIn decimal.Decimal
	// MaxSlippageBps bounds the acceptable deviation from the quoted output.
	MaxSlippageBps int64
}

// SwapSimulation is the projected result of a swap against current venue
// state.
type SwapSimulation struct {
	OutputAmount decimal.Decimal
	PriceImpact  decimal.Decimal // percentage
	Fee          decimal.Decimal // in output asset units
}

// Adapter is the capability contract every venue integration must satisfy.
// The core consumes adapters through the registry and never depends on a
// concrete venue type; any implementation of this interface is pluggable
// without core changes.
type Adapter interface {
	// Name returns the venue identifier used in quotes, hops and plans.
	Name() string

	// FeeBps returns the venue's trading fee in basis points.
	FeeBps() int64

	// FetchQuotes returns the venue's current quotes for the given pairs.
	// Pairs the venue does not trade are omitted, not errored.
	FetchQuotes(ctx context.Context, pairs []models.TradingPair) ([]models.Quote, error)

	// FetchLiquidity returns the available depth for a pair, denominated in
	// the pair's quote asset.
	FetchLiquidity(ctx context.Context, pair models.TradingPair) (decimal.Decimal, error)

	// BuildSwap constructs the venue-specific operation for a swap. The
	// returned instruction payload is opaque to the core.
	BuildSwap(ctx context.Context, params SwapParams) (models.VenueOp, error)

	// SimulateSwap projects the output of a swap without executing it.
	SimulateSwap(ctx context.Context, params SwapParams) (SwapSimulation, error)
}
