package ledgerclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codekinian-dev/seed-chain-zta/pkg/contract"
	"github.com/codekinian-dev/seed-chain-zta/pkg/policy"
)

type fakeTransport struct {
	mu         sync.Mutex
	connects   int
	closes     int
	submitErr  error
	submitResp []byte
	evalResp   []byte
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) Submit(context.Context, contract.Identity, string, ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.submitResp, nil
}

func (f *fakeTransport) Evaluate(context.Context, contract.Identity, string, ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evalResp, nil
}

func (f *fakeTransport) Probe(context.Context) error { return nil }

func (f *fakeTransport) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.closes
}

var caller = contract.Identity{UserID: "11111111-1111-1111-1111-111111111111", Roles: []string{policy.RoleProducer}}

func TestConnectIsIdempotent(t *testing.T) {
	ft := &fakeTransport{}
	c := NewClient(ft, nil)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	connects, _ := ft.counts()
	assert.Equal(t, 1, connects)
}

func TestSubmitConnectsLazily(t *testing.T) {
	ft := &fakeTransport{submitResp: []byte(`{"id":"B1"}`)}
	c := NewClient(ft, nil)

	out, err := c.Submit(context.Background(), caller, contract.FnQuerySeedBatch, "B1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"B1"}`, string(out))

	connects, _ := ft.counts()
	assert.Equal(t, 1, connects)
}

// A connection-level failure triggers exactly one reconnect and re-raises
// the original error; domain errors do not reconnect.
func TestSubmitReconnectsOnConnectionErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		reconnect bool
	}{
		{"connection refused", errors.New("connection refused by peer"), true},
		{"timeout", errors.New("commit timeout exceeded"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"domain error", errors.New("status must be REGISTERED"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &fakeTransport{submitErr: tt.err}
			c := NewClient(ft, nil)
			require.NoError(t, c.Connect(context.Background()))

			_, err := c.Submit(context.Background(), caller, "submitCertification", "B1")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)

			connects, closes := ft.counts()
			if tt.reconnect {
				assert.Equal(t, 2, connects)
				assert.Equal(t, 1, closes)
			} else {
				assert.Equal(t, 1, connects)
				assert.Equal(t, 0, closes)
			}
		})
	}
}

func TestEvaluateRejectsEmptyResponse(t *testing.T) {
	ft := &fakeTransport{evalResp: []byte("  ")}
	c := NewClient(ft, nil)

	_, err := c.Evaluate(context.Background(), caller, contract.FnQueryAllSeedBatches)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

func TestDisconnect(t *testing.T) {
	ft := &fakeTransport{}
	c := NewClient(ft, nil)

	require.NoError(t, c.Disconnect()) // not connected, no-op
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Disconnect())

	_, closes := ft.counts()
	assert.Equal(t, 1, closes)
}

func TestInProcessTransport(t *testing.T) {
	cc := contract.New(nil)
	c := NewClient(NewInProcessTransport(cc), nil)
	ctx := context.Background()

	cid := "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	out, err := c.Submit(ctx, caller, contract.FnCreateSeedBatch,
		"B1", "IR64", "Rice", "2025-05-01", "SRC-1", "Origin", "IUP-1", "BD", caller.UserID, "doc.pdf", cid)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"current_status":"REGISTERED"`)

	out, err = c.Evaluate(ctx, caller, contract.FnQuerySeedBatch, "B1")
	require.NoError(t, err)
	assert.Contains(t, string(out), `"id":"B1"`)

	// Writes cannot sneak through the read path.
	_, err = c.Evaluate(ctx, caller, contract.FnSubmitCertification, "B1", "doc.pdf", cid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a query function")

	assert.True(t, c.Probe(ctx))
}

func TestHTTPTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/invoke":
			var req txRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "benihchannel", req.Channel)
			assert.Equal(t, "benih-certification", req.Contract)
			assert.Equal(t, contract.FnSubmitCertification, req.Function)
			assert.Equal(t, caller.UserID, req.Caller.UserID)
			w.Write([]byte(`{"id":"B1","current_status":"SUBMITTED"}`))
		case "/query":
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"record B9 not found"}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "benihchannel", "benih-certification")
	c := NewClient(tr, nil)
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))

	out, err := c.Submit(ctx, caller, contract.FnSubmitCertification, "B1", "doc.pdf", "cid")
	require.NoError(t, err)
	assert.Contains(t, string(out), "SUBMITTED")

	_, err = c.Evaluate(ctx, caller, contract.FnQuerySeedBatch, "B9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record B9 not found")
}
