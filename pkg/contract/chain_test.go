package contract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainAppendAndHistory(t *testing.T) {
	c := NewChain()
	assert.Equal(t, "genesis", c.Head())

	seq, err := c.Append("tx-1", "B1", "CREATE_SEED_BATCH", "alice", json.RawMessage(`{"v":1}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	_, err = c.Append("tx-2", "B2", "CREATE_SEED_BATCH", "bob", json.RawMessage(`{"v":1}`))
	require.NoError(t, err)
	_, err = c.Append("tx-3", "B1", "SUBMIT_CERTIFICATION", "alice", json.RawMessage(`{"v":2}`))
	require.NoError(t, err)

	history := c.History("B1")
	require.Len(t, history, 2)
	assert.Equal(t, "tx-1", history[0].TxID)
	assert.Equal(t, "tx-3", history[1].TxID)
	assert.Equal(t, history[0].ContentHash, history[1].PrevHash)

	ok, msg := c.Verify()
	assert.True(t, ok, msg)
}

func TestChainDetectsTampering(t *testing.T) {
	c := NewChain()
	_, err := c.Append("tx-1", "B1", "CREATE_SEED_BATCH", "alice", json.RawMessage(`{"v":1}`))
	require.NoError(t, err)
	_, err = c.Append("tx-2", "B1", "SUBMIT_CERTIFICATION", "alice", json.RawMessage(`{"v":2}`))
	require.NoError(t, err)

	c.entries[0].State = json.RawMessage(`{"v":99}`)

	ok, msg := c.Verify()
	assert.False(t, ok)
	assert.Contains(t, msg, "hash mismatch")
}
