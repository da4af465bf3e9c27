package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dexarb/dexarb-go/internal/models"
)

// feedMessage is the wire format of one quote update on a venue's stream.
type feedMessage struct {
	Base      string          `json:"base"`
	Quote     string          `json:"quote"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Liquidity decimal.Decimal `json:"liquidity"`
	Timestamp int64           `json:"ts"`
}

// swapInstruction is the payload BuildSwap encodes for downstream submission.
type swapInstruction struct {
	Venue        string `json:"venue"`
	Pair         string `json:"pair"`
	Side         string `json:"side"`
	AmountIn     string `json:"amount_in"`
	MinAmountOut string `json:"min_amount_out"`
}

// FeedAdapter is a venue integration backed by a websocket quote stream. It
// keeps the latest quote per pair in memory; FetchQuotes serves from that
// cache so the detection loop never blocks on venue I/O.
type FeedAdapter struct {
	name    string
	feedURL string
	feeBps  int64
	logger  *logrus.Logger

	mu     sync.RWMutex
	quotes map[models.TradingPair]models.Quote
}

// NewFeedAdapter creates an adapter for a venue quoting over a websocket
// stream at feedURL.
func NewFeedAdapter(name, feedURL string, feeBps int64, logger *logrus.Logger) *FeedAdapter {
	return &FeedAdapter{
		name:    name,
		feedURL: feedURL,
		feeBps:  feeBps,
		logger:  logger,
		quotes:  make(map[models.TradingPair]models.Quote),
	}
}

func (f *FeedAdapter) Name() string {
	return f.name
}

func (f *FeedAdapter) FeeBps() int64 {
	return f.feeBps
}

// Run connects to the venue's stream and consumes quote updates until ctx is
// cancelled, reconnecting with a fixed delay on disconnect.
func (f *FeedAdapter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := f.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.WithFields(logrus.Fields{
				"venue": f.name,
				"error": err.Error(),
			}).Warn("Venue feed disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *FeedAdapter) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.feedURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.feedURL, err)
	}
	defer conn.Close()

	f.logger.WithField("venue", f.name).Info("Venue feed connected")

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var msg feedMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		pair := models.NewPair(msg.Base, msg.Quote)
		q := models.NewQuote(f.name, pair, msg.Bid, msg.Ask, time.UnixMilli(msg.Timestamp))
		q.Liquidity = msg.Liquidity
		f.store(q)
	}
}

func (f *FeedAdapter) store(q models.Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// per-(venue,pair) monotonic timestamp ordering
	if prev, ok := f.quotes[q.Pair]; ok && !q.Timestamp.After(prev.Timestamp) {
		return
	}
	f.quotes[q.Pair] = q
}

// FetchQuotes returns cached quotes for the requested pairs. Pairs without a
// quote yet are omitted.
func (f *FeedAdapter) FetchQuotes(_ context.Context, pairs []models.TradingPair) ([]models.Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]models.Quote, 0, len(pairs))
	for _, p := range pairs {
		if q, ok := f.quotes[p]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// FetchLiquidity returns the cached depth for a pair in quote-asset units.
func (f *FeedAdapter) FetchLiquidity(_ context.Context, pair models.TradingPair) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q, ok := f.quotes[pair]
	if !ok {
		return decimal.Zero, fmt.Errorf("venue %s: no liquidity data for %s", f.name, pair)
	}
	return q.Liquidity, nil
}

// BuildSwap constructs the venue operation for a swap based on the latest
// cached quote.
func (f *FeedAdapter) BuildSwap(ctx context.Context, params SwapParams) (models.VenueOp, error) {
	sim, err := f.SimulateSwap(ctx, params)
	if err != nil {
		return models.VenueOp{}, err
	}

	slip := decimal.NewFromInt(10000 - params.MaxSlippageBps).Div(decimal.NewFromInt(10000))
	minOut := sim.OutputAmount.Mul(slip)

	payload, err := json.Marshal(swapInstruction{
		Venue:        f.name,
		Pair:         params.Pair.Symbol(),
		Side:         params.Side.String(),
		AmountIn:     params.AmountIn.String(),
		MinAmountOut: minOut.String(),
	})
	if err != nil {
		return models.VenueOp{}, fmt.Errorf("venue %s: encode swap: %w", f.name, err)
	}

	return models.VenueOp{
		Venue:        f.name,
		Pair:         params.Pair,
		Side:         params.Side,
		AmountIn:     params.AmountIn,
		MinAmountOut: minOut,
		Instruction:  payload,
	}, nil
}

// SimulateSwap projects a swap against the cached quote, applying the venue
// fee and a constant-product price impact against available depth.
func (f *FeedAdapter) SimulateSwap(_ context.Context, params SwapParams) (SwapSimulation, error) {
	f.mu.RLock()
	q, ok := f.quotes[params.Pair]
	f.mu.RUnlock()
	if !ok {
		return SwapSimulation{}, fmt.Errorf("venue %s: no quote for %s", f.name, params.Pair)
	}

	var raw decimal.Decimal
	switch params.Side {
	case models.SideBuy:
		if q.Ask.IsZero() {
			return SwapSimulation{}, fmt.Errorf("venue %s: zero ask for %s", f.name, params.Pair)
		}
		raw = params.AmountIn.Div(q.Ask)
	default:
		raw = params.AmountIn.Mul(q.Bid)
	}

	impact := decimal.Zero
	out := raw
	if q.Liquidity.IsPositive() {
		// x*y=k style impact: marginal output shrinks as size grows
		factor := q.Liquidity.Div(q.Liquidity.Add(params.AmountIn))
		out = raw.Mul(factor)
		impact = decimal.NewFromInt(1).Sub(factor).Mul(decimal.NewFromInt(100))
	}

	fee := out.Mul(decimal.NewFromInt(f.feeBps)).Div(decimal.NewFromInt(10000))
	out = out.Sub(fee)

	return SwapSimulation{
		OutputAmount: out,
		PriceImpact:  impact,
		Fee:          fee,
	}, nil
}

var _ Adapter = (*FeedAdapter)(nil)
