package planner

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// BorrowProvider builds the borrow and repay legs of a flash-borrow
// envelope. Implementations wrap one lending venue; the planner treats the
// built payloads as opaque.
type BorrowProvider interface {
	Name() string
	FeeBps() int64

	// MaxBorrow returns the amount of the asset currently borrowable.
	MaxBorrow(ctx context.Context, asset string) (decimal.Decimal, error)

	BuildBorrow(ctx context.Context, asset string, amount decimal.Decimal) ([]byte, error)
	BuildRepay(ctx context.Context, asset string, amount decimal.Decimal) ([]byte, error)
}

// BalanceSource reports spendable balances when borrow execution is
// disabled and plans are funded from inventory.
type BalanceSource interface {
	Balance(ctx context.Context, asset string) (decimal.Decimal, error)
}

// PoolProvider is a BorrowProvider backed by a single lending pool with a
// fixed fee schedule and a per-asset ceiling.
type PoolProvider struct {
	name     string
	feeBps   int64
	ceilings map[string]decimal.Decimal
}

// NewPoolProvider creates a provider named name charging feeBps per borrow.
// ceilings caps borrowable amounts per asset; assets absent from the map
// cannot be borrowed.
func NewPoolProvider(name string, feeBps int64, ceilings map[string]decimal.Decimal) *PoolProvider {
	return &PoolProvider{name: name, feeBps: feeBps, ceilings: ceilings}
}

func (p *PoolProvider) Name() string  { return p.name }
func (p *PoolProvider) FeeBps() int64 { return p.feeBps }

func (p *PoolProvider) MaxBorrow(_ context.Context, asset string) (decimal.Decimal, error) {
	return p.ceilings[asset], nil
}

type borrowInstruction struct {
	Provider string `json:"provider"`
	Op       string `json:"op"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
}

func (p *PoolProvider) BuildBorrow(_ context.Context, asset string, amount decimal.Decimal) ([]byte, error) {
	return json.Marshal(borrowInstruction{Provider: p.name, Op: "borrow", Asset: asset, Amount: amount.String()})
}

func (p *PoolProvider) BuildRepay(_ context.Context, asset string, amount decimal.Decimal) ([]byte, error) {
	return json.Marshal(borrowInstruction{Provider: p.name, Op: "repay", Asset: asset, Amount: amount.String()})
}

var _ BorrowProvider = (*PoolProvider)(nil)

// StaticBalances is a BalanceSource over a fixed balance table, used for
// dry runs and tests.
type StaticBalances map[string]decimal.Decimal

func (s StaticBalances) Balance(_ context.Context, asset string) (decimal.Decimal, error) {
	return s[asset], nil
}
