package submit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrTxFailed marks an on-chain execution failure, as opposed to a
// transport or timeout error.
var ErrTxFailed = errors.New("transaction failed on chain")

// Channel submits a signed transaction and returns the acknowledgment
// identifier the submission path reported.
type Channel interface {
	Name() string
	Submit(ctx context.Context, tx SignedTx) (string, error)
}

// Confirmer blocks until a submitted signature reaches a terminal state.
// A nil return means confirmed; ErrTxFailed means the transaction landed
// and reverted; a context error means the wait was abandoned.
type Confirmer interface {
	Await(ctx context.Context, signature string) error
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func rpcCall(ctx context.Context, client *http.Client, url, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
	}
	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return err
	}
	if rr.Error != nil {
		return fmt.Errorf("%s: rpc error %d: %s", method, rr.Error.Code, rr.Error.Message)
	}
	if out != nil && rr.Result != nil {
		return json.Unmarshal(rr.Result, out)
	}
	return nil
}

// RPCChannel submits directly to a node over JSON-RPC.
type RPCChannel struct {
	url    string
	client *http.Client
}

func NewRPCChannel(url string, client *http.Client) *RPCChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RPCChannel{url: url, client: client}
}

func (c *RPCChannel) Name() string { return "rpc" }

func (c *RPCChannel) Submit(ctx context.Context, tx SignedTx) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(tx.Payload)
	var sig string
	err := rpcCall(ctx, c.client, c.url, "sendTransaction", []interface{}{
		encoded,
		map[string]interface{}{"encoding": "base64", "skipPreflight": true, "maxRetries": 0},
	}, &sig)
	if err != nil {
		return "", err
	}
	if sig == "" {
		sig = tx.Signature
	}
	return sig, nil
}

// BundleChannel submits through a bundle relay. The bundle carries the
// transaction plus the relay tip; acceptance returns a bundle id, not a
// transaction signature, so confirmation still keys off the signature.
type BundleChannel struct {
	url    string
	tip    int64
	client *http.Client
}

func NewBundleChannel(url string, tip int64, client *http.Client) *BundleChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &BundleChannel{url: url, tip: tip, client: client}
}

func (c *BundleChannel) Name() string { return "bundle" }

func (c *BundleChannel) Submit(ctx context.Context, tx SignedTx) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(tx.Payload)
	var bundleID string
	err := rpcCall(ctx, c.client, c.url, "sendBundle", []interface{}{
		[]string{encoded},
		map[string]interface{}{"encoding": "base64", "tipLamports": c.tip},
	}, &bundleID)
	if err != nil {
		return "", err
	}
	return tx.Signature, nil
}

var (
	_ Channel = (*RPCChannel)(nil)
	_ Channel = (*BundleChannel)(nil)
)

// RPCConfirmer polls signature status over JSON-RPC until the signature
// lands, fails, or the context expires.
type RPCConfirmer struct {
	url      string
	client   *http.Client
	interval time.Duration
}

func NewRPCConfirmer(url string, client *http.Client, interval time.Duration) *RPCConfirmer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &RPCConfirmer{url: url, client: client, interval: interval}
}

type signatureStatus struct {
	Value []*struct {
		ConfirmationStatus string          `json:"confirmationStatus"`
		Err                json.RawMessage `json:"err"`
	} `json:"value"`
}

func (c *RPCConfirmer) Await(ctx context.Context, signature string) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var st signatureStatus
		err := rpcCall(ctx, c.client, c.url, "getSignatureStatuses", []interface{}{
			[]string{signature},
			map[string]interface{}{"searchTransactionHistory": false},
		}, &st)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// transient poll failure; keep waiting
			continue
		}
		if len(st.Value) == 0 || st.Value[0] == nil {
			continue
		}
		if len(st.Value[0].Err) > 0 && string(st.Value[0].Err) != "null" {
			return ErrTxFailed
		}
		switch st.Value[0].ConfirmationStatus {
		case "confirmed", "finalized":
			return nil
		}
	}
}

var _ Confirmer = (*RPCConfirmer)(nil)
