package submit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// SimulationResult is the projected effect of a transaction. A non-empty
// Err means the program would revert; the transaction must not be
// submitted.
type SimulationResult struct {
	ExpectedOutput decimal.Decimal
	Err            string
}

// Ok reports whether the simulation passed.
func (r SimulationResult) Ok() bool { return r.Err == "" }

// Simulator dry-runs a signed transaction against current chain state.
// The error return is transport failure; a program revert comes back in
// the result.
type Simulator interface {
	Simulate(ctx context.Context, tx SignedTx) (SimulationResult, error)
}

// RPCSimulator simulates through a node's simulateTransaction endpoint.
type RPCSimulator struct {
	url    string
	client *http.Client
}

func NewRPCSimulator(url string, client *http.Client) *RPCSimulator {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RPCSimulator{url: url, client: client}
}

type simulateValue struct {
	Value struct {
		Err        json.RawMessage `json:"err"`
		Logs       []string        `json:"logs"`
		ReturnData *struct {
			Data []string `json:"data"`
		} `json:"returnData"`
	} `json:"value"`
}

func (s *RPCSimulator) Simulate(ctx context.Context, tx SignedTx) (SimulationResult, error) {
	encoded := base64.StdEncoding.EncodeToString(tx.Payload)
	var sv simulateValue
	err := rpcCall(ctx, s.client, s.url, "simulateTransaction", []interface{}{
		encoded,
		map[string]interface{}{"encoding": "base64", "sigVerify": false},
	}, &sv)
	if err != nil {
		return SimulationResult{}, err
	}
	if len(sv.Value.Err) > 0 && string(sv.Value.Err) != "null" {
		return SimulationResult{Err: string(sv.Value.Err)}, nil
	}

	res := SimulationResult{}
	if sv.Value.ReturnData != nil && len(sv.Value.ReturnData.Data) > 0 {
		if raw, decErr := base64.StdEncoding.DecodeString(sv.Value.ReturnData.Data[0]); decErr == nil {
			if out, parseErr := decimal.NewFromString(string(raw)); parseErr == nil {
				res.ExpectedOutput = out
			}
		}
	}
	return res, nil
}

var _ Simulator = (*RPCSimulator)(nil)
