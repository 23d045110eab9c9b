// Package ledgerclient is the gateway's connection to the distributed
// ledger. The transport is pluggable: an HTTP peer gateway in production, an
// in-process contract for dev and tests.
package ledgerclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/codekinian-dev/seed-chain-zta/pkg/contract"
)

const probeTimeout = 5 * time.Second

// Transport carries transactions to one ledger endpoint.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	// Submit sends a state-changing transaction.
	Submit(ctx context.Context, caller contract.Identity, fn string, args ...string) ([]byte, error)
	// Evaluate sends a read-only query.
	Evaluate(ctx context.Context, caller contract.Identity, fn string, args ...string) ([]byte, error)
	Probe(ctx context.Context) error
}

// Client wraps a transport with connection management. Connection and
// timeout failures trigger one reconnect attempt, then the original error is
// re-raised; the caller decides whether to retry. Reconnects are serialized
// so concurrent failures do not race each other.
type Client struct {
	transport Transport
	logger    *slog.Logger

	mu        sync.Mutex
	connected bool
}

// NewClient wraps transport. Connect must be called before use; Submit and
// Evaluate connect lazily if it was not.
func NewClient(transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{transport: transport, logger: logger}
}

// Connect establishes the transport connection. Calling Connect on a
// connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.connected {
		return nil
	}
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to ledger: %w", err)
	}
	c.connected = true
	c.logger.Info("connected to ledger")
	return nil
}

// Disconnect closes the transport connection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	c.connected = false
	if err := c.transport.Close(); err != nil {
		c.logger.Error("ledger disconnect error", "error", err)
		return err
	}
	c.logger.Info("disconnected from ledger")
	return nil
}

// Reconnect tears the connection down and brings it back up.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("reconnecting to ledger")
	if c.connected {
		c.connected = false
		if err := c.transport.Close(); err != nil {
			c.logger.Error("ledger disconnect error", "error", err)
		}
	}
	return c.connectLocked(ctx)
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

// Submit sends a state-changing transaction and returns the contract's JSON
// result.
func (c *Client) Submit(ctx context.Context, caller contract.Identity, fn string, args ...string) ([]byte, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	c.logger.Info("submitting ledger transaction", "function", fn)
	start := time.Now()

	result, err := c.transport.Submit(ctx, caller, fn, args...)
	if err != nil {
		c.logger.Error("ledger transaction failed", "function", fn, "error", err)
		c.maybeReconnect(ctx, err)
		return nil, err
	}

	c.logger.Info("ledger transaction submitted", "function", fn, "duration", time.Since(start))
	return result, nil
}

// Evaluate sends a read-only query and returns the contract's JSON result.
// An empty response is an error: every query function returns a body.
func (c *Client) Evaluate(ctx context.Context, caller contract.Identity, fn string, args ...string) ([]byte, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	c.logger.Info("evaluating ledger query", "function", fn)
	start := time.Now()

	result, err := c.transport.Evaluate(ctx, caller, fn, args...)
	if err != nil {
		c.logger.Error("ledger query failed", "function", fn, "error", err)
		c.maybeReconnect(ctx, err)
		return nil, err
	}
	if len(strings.TrimSpace(string(result))) == 0 {
		return nil, fmt.Errorf("ledger returned empty response for %s", fn)
	}

	c.logger.Info("ledger query successful", "function", fn, "duration", time.Since(start))
	return result, nil
}

// maybeReconnect attempts one reconnect after a connection-level failure.
// The original error is always re-raised by the caller.
func (c *Client) maybeReconnect(ctx context.Context, err error) {
	if !isConnectionError(err) {
		return
	}
	c.logger.Warn("connection error detected, attempting reconnect", "error", err)
	if rerr := c.Reconnect(ctx); rerr != nil {
		c.logger.Error("ledger reconnect failed", "error", rerr)
	}
}

// Probe reports whether the ledger endpoint answers within five seconds.
func (c *Client) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := c.ensureConnected(ctx); err != nil {
		return false
	}
	if err := c.transport.Probe(ctx); err != nil {
		c.logger.Error("ledger not available", "error", err)
		return false
	}
	return true
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection") || strings.Contains(msg, "timeout")
}
