package venue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexarb/dexarb-go/internal/models"
)

func venueLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func seededAdapter(t *testing.T, liquidity float64) *FeedAdapter {
	t.Helper()
	f := NewFeedAdapter("orca", "ws://unused", 30, venueLogger())
	q := models.NewQuote("orca", models.NewPair("SOL", "USDC"),
		decimal.NewFromFloat(99.9), decimal.NewFromFloat(100.0), time.Now())
	q.Liquidity = decimal.NewFromFloat(liquidity)
	f.store(q)
	return f
}

func TestFetchQuotesOmitsUnknownPairs(t *testing.T) {
	f := seededAdapter(t, 0)

	quotes, err := f.FetchQuotes(context.Background(), []models.TradingPair{
		models.NewPair("SOL", "USDC"),
		models.NewPair("RAY", "USDC"),
	})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "SOL/USDC", quotes[0].Pair.Symbol())
}

func TestStoreKeepsNewestQuote(t *testing.T) {
	f := seededAdapter(t, 0)
	pair := models.NewPair("SOL", "USDC")
	old := models.NewQuote("orca", pair, decimal.NewFromInt(1), decimal.NewFromInt(2),
		time.Now().Add(-time.Minute))
	f.store(old)

	quotes, err := f.FetchQuotes(context.Background(), []models.TradingPair{pair})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.True(t, quotes[0].Bid.Equal(decimal.NewFromFloat(99.9)), "older quote must not overwrite")
}

func TestSimulateSwapAppliesFeeAndImpact(t *testing.T) {
	f := seededAdapter(t, 50000)

	sim, err := f.SimulateSwap(context.Background(), SwapParams{
		Pair:     models.NewPair("SOL", "USDC"),
		Side:     models.SideBuy,
		AmountIn: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)

	// 1000/100 * (50000/51000), then minus 30 bps
	raw := decimal.NewFromInt(10).Mul(decimal.NewFromInt(50000).Div(decimal.NewFromInt(51000)))
	want := raw.Sub(raw.Mul(decimal.NewFromInt(30)).Div(decimal.NewFromInt(10000)))
	assert.True(t, sim.OutputAmount.Equal(want))
	assert.True(t, sim.PriceImpact.IsPositive())
	assert.True(t, sim.Fee.IsPositive())
}

func TestSimulateSwapNoQuote(t *testing.T) {
	f := NewFeedAdapter("orca", "ws://unused", 30, venueLogger())

	_, err := f.SimulateSwap(context.Background(), SwapParams{
		Pair: models.NewPair("SOL", "USDC"),
		Side: models.SideBuy,
	})
	assert.Error(t, err)
}

func TestBuildSwapEncodesMinOut(t *testing.T) {
	f := seededAdapter(t, 0)

	op, err := f.BuildSwap(context.Background(), SwapParams{
		Pair:           models.NewPair("SOL", "USDC"),
		Side:           models.SideBuy,
		AmountIn:       decimal.NewFromInt(1000),
		MaxSlippageBps: 50,
	})
	require.NoError(t, err)

	assert.Equal(t, "orca", op.Venue)
	assert.True(t, op.MinAmountOut.LessThan(decimal.NewFromInt(10)), "min out sits below the quoted output")
	assert.True(t, op.MinAmountOut.IsPositive())

	var instr map[string]string
	require.NoError(t, json.Unmarshal(op.Instruction, &instr))
	assert.Equal(t, "SOL/USDC", instr["pair"])
	assert.Equal(t, "buy", instr["side"])
	assert.Equal(t, op.MinAmountOut.String(), instr["min_amount_out"])
}

func TestRunConsumesFeed(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msg := feedMessage{
			Base:      "SOL",
			Quote:     "USDC",
			Bid:       decimal.NewFromFloat(99.9),
			Ask:       decimal.NewFromFloat(100.1),
			Liquidity: decimal.NewFromInt(50000),
			Timestamp: time.Now().UnixMilli(),
		}
		_ = conn.WriteJSON(msg)
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := NewFeedAdapter("orca", url, 30, venueLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	pair := models.NewPair("SOL", "USDC")
	require.Eventually(t, func() bool {
		quotes, _ := f.FetchQuotes(context.Background(), []models.TradingPair{pair})
		return len(quotes) == 1
	}, 2*time.Second, 20*time.Millisecond)

	quotes, _ := f.FetchQuotes(context.Background(), []models.TradingPair{pair})
	assert.True(t, quotes[0].Liquidity.Equal(decimal.NewFromInt(50000)))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(NewFeedAdapter("orca", "ws://a", 30, venueLogger()))
	r.Register(NewFeedAdapter("raydium", "ws://b", 25, venueLogger()))

	a, err := r.Get("orca")
	require.NoError(t, err)
	assert.Equal(t, "orca", a.Name())

	_, err = r.Get("phoenix")
	assert.Error(t, err)

	assert.Equal(t, int64(25), r.FeeBps("raydium"))
	assert.Equal(t, int64(0), r.FeeBps("phoenix"))
	assert.Equal(t, []string{"orca", "raydium"}, r.Names())
	assert.Len(t, r.All(), 2)
}
