package ledgerclient

import (
	"context"
	"fmt"

	"github.com/codekinian-dev/seed-chain-zta/pkg/contract"
)

// InProcessTransport runs the contract in the same process. Used in dev mode
// and tests, where no external peer gateway exists.
type InProcessTransport struct {
	contract *contract.Contract
}

// NewInProcessTransport wraps an in-process contract.
func NewInProcessTransport(c *contract.Contract) *InProcessTransport {
	return &InProcessTransport{contract: c}
}

func (t *InProcessTransport) Connect(context.Context) error { return nil }

func (t *InProcessTransport) Close() error { return nil }

// Submit invokes any contract function.
func (t *InProcessTransport) Submit(_ context.Context, caller contract.Identity, fn string, args ...string) ([]byte, error) {
	return t.contract.Invoke(caller, fn, args...)
}

// Evaluate invokes read-only functions; a write through Evaluate is refused,
// matching a real peer's behavior.
func (t *InProcessTransport) Evaluate(_ context.Context, caller contract.Identity, fn string, args ...string) ([]byte, error) {
	if !contract.IsQuery(fn) {
		return nil, fmt.Errorf("%s is not a query function", fn)
	}
	return t.contract.Invoke(caller, fn, args...)
}

func (t *InProcessTransport) Probe(context.Context) error { return nil }
