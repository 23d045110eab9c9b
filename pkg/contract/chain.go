package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ChainEntry is one immutable, hash-chained transaction record. Every write to
// the world state appends exactly one entry; the per-record history used by
// getHistory is the subsequence of entries carrying that record id.
type ChainEntry struct {
	Sequence    uint64          `json:"sequence"`
	TxID        string          `json:"tx_id"`
	RecordID    string          `json:"record_id"`
	Action      string          `json:"action"`
	ContentHash string          `json:"content_hash"`
	PrevHash    string          `json:"prev_hash"`
	Timestamp   time.Time       `json:"timestamp"`
	Author      string          `json:"author,omitempty"`
	State       json.RawMessage `json:"state,omitempty"`
}

// Chain is the append-only transaction log behind the world state. Entries are
// never mutated or deleted.
type Chain struct {
	mu       sync.RWMutex
	entries  []ChainEntry
	headHash string
	clock    func() time.Time
}

// NewChain creates an empty chain with the genesis head.
func NewChain() *Chain {
	return &Chain{
		entries:  make([]ChainEntry, 0),
		headHash: "genesis",
		clock:    time.Now,
	}
}

// WithClock overrides the clock for testing.
func (c *Chain) WithClock(clock func() time.Time) *Chain {
	c.clock = clock
	return c
}

// Append records a transaction against recordID. The state snapshot is the
// record as written; nil for reads and index-only writes. Returns the sequence
// number.
func (c *Chain) Append(txID, recordID, action, author string, state json.RawMessage) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := uint64(len(c.entries)) + 1

	contentHash, err := entryHash(seq, recordID, action, state, c.headHash)
	if err != nil {
		return 0, err
	}

	c.entries = append(c.entries, ChainEntry{
		Sequence:    seq,
		TxID:        txID,
		RecordID:    recordID,
		Action:      action,
		ContentHash: contentHash,
		PrevHash:    c.headHash,
		Timestamp:   c.clock(),
		Author:      author,
		State:       state,
	})
	c.headHash = contentHash

	return seq, nil
}

// History returns the chain entries for one record, oldest first.
func (c *Chain) History(recordID string) []ChainEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []ChainEntry
	for _, e := range c.entries {
		if e.RecordID == recordID {
			out = append(out, e)
		}
	}
	return out
}

// Head returns the current head hash.
func (c *Chain) Head() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headHash
}

// Length returns the number of entries.
func (c *Chain) Length() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Verify walks the whole chain and checks every link and content hash.
func (c *Chain) Verify() (bool, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prevHash := "genesis"
	for i, e := range c.entries {
		if e.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, e.PrevHash)
		}
		computed, err := entryHash(e.Sequence, e.RecordID, e.Action, e.State, e.PrevHash)
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d", i+1)
		}
		if computed != e.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = e.ContentHash
	}

	return true, "chain verified"
}

func entryHash(seq uint64, recordID, action string, state json.RawMessage, prevHash string) (string, error) {
	hashInput := struct {
		Seq      uint64          `json:"seq"`
		RecordID string          `json:"record_id"`
		Action   string          `json:"action"`
		State    json.RawMessage `json:"state,omitempty"`
		PrevHash string          `json:"prev"`
	}{seq, recordID, action, state, prevHash}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry: %w", err)
	}
	h := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}
