package submit

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"

	"github.com/dexarb/dexarb-go/internal/models"
)

// SignedTx is a signed, submission-ready transaction.
type SignedTx struct {
	PlanID      string
	Payload     []byte
	Signature   string
	PriorityFee int64
}

// Signer turns an assembled payload into a signed transaction.
type Signer interface {
	Sign(ctx context.Context, planID string, payload []byte, priorityFee int64) (SignedTx, error)
}

// LocalSigner signs with an in-process ed25519 key.
type LocalSigner struct {
	key ed25519.PrivateKey
}

// NewLocalSigner wraps an ed25519 private key.
func NewLocalSigner(key ed25519.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key}
}

func (s *LocalSigner) Sign(_ context.Context, planID string, payload []byte, priorityFee int64) (SignedTx, error) {
	sig := ed25519.Sign(s.key, payload)
	return SignedTx{
		PlanID:      planID,
		Payload:     payload,
		Signature:   hex.EncodeToString(sig),
		PriorityFee: priorityFee,
	}, nil
}

var _ Signer = (*LocalSigner)(nil)

// wireTx is the serialized form of an execution plan: the borrow leg (if
// any), each venue instruction in order, then the repay leg.
type wireTx struct {
	PlanID       string            `json:"plan_id"`
	PriorityFee  int64             `json:"priority_fee"`
	Instructions []json.RawMessage `json:"instructions"`
}

// assemble flattens a plan into a single submission payload. Instruction
// ordering is the atomicity contract: a borrowed plan always closes with
// its repay leg.
func assemble(plan *models.ExecutionPlan, priorityFee int64) ([]byte, error) {
	instrs := make([]json.RawMessage, 0, len(plan.Ops)+2)
	if plan.Borrowed() {
		instrs = append(instrs, plan.Borrow.BorrowOp)
	}
	for _, op := range plan.Ops {
		instrs = append(instrs, op.Instruction)
	}
	if plan.Borrowed() {
		instrs = append(instrs, plan.Borrow.RepayOp)
	}
	return json.Marshal(wireTx{
		PlanID:       plan.ID,
		PriorityFee:  priorityFee,
		Instructions: instrs,
	})
}
