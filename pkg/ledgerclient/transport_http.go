package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/codekinian-dev/seed-chain-zta/pkg/contract"
)

// txRequest is the JSON body posted to the peer gateway.
type txRequest struct {
	Channel  string            `json:"channel"`
	Contract string            `json:"contract"`
	Function string            `json:"function"`
	Args     []string          `json:"args"`
	Caller   contract.Identity `json:"caller"`
}

type txError struct {
	Error string `json:"error"`
}

// HTTPTransport submits transactions to an external peer gateway over JSON.
type HTTPTransport struct {
	baseURL      string
	channel      string
	contractName string
	http         *http.Client
}

// NewHTTPTransport creates a transport for the peer gateway at baseURL.
func NewHTTPTransport(baseURL, channel, contractName string) *HTTPTransport {
	return &HTTPTransport{
		baseURL:      baseURL,
		channel:      channel,
		contractName: contractName,
		http:         &http.Client{},
	}
}

// Connect verifies the gateway is reachable. The transport itself is
// stateless; every transaction is one HTTP request.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	return t.Probe(ctx)
}

// Close is a no-op for the stateless transport.
func (t *HTTPTransport) Close() error { return nil }

// Submit posts a state-changing transaction to /invoke.
func (t *HTTPTransport) Submit(ctx context.Context, caller contract.Identity, fn string, args ...string) ([]byte, error) {
	return t.post(ctx, "/invoke", caller, fn, args)
}

// Evaluate posts a read-only query to /query.
func (t *HTTPTransport) Evaluate(ctx context.Context, caller contract.Identity, fn string, args ...string) ([]byte, error) {
	return t.post(ctx, "/query", caller, fn, args)
}

func (t *HTTPTransport) post(ctx context.Context, path string, caller contract.Identity, fn string, args []string) ([]byte, error) {
	if args == nil {
		args = []string{}
	}
	body, err := json.Marshal(txRequest{
		Channel:  t.channel,
		Contract: t.contractName,
		Function: fn,
		Args:     args,
		Caller:   caller,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var te txError
		if json.Unmarshal(raw, &te) == nil && te.Error != "" {
			return nil, fmt.Errorf("ledger rejected %s: %s", fn, te.Error)
		}
		return nil, fmt.Errorf("ledger returned status %d for %s", resp.StatusCode, fn)
	}
	return raw, nil
}

// Probe checks the gateway's health endpoint.
func (t *HTTPTransport) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger gateway returned status %d", resp.StatusCode)
	}
	return nil
}
