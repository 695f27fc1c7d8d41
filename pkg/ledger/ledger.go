// Package ledger is an append-only, hash-chained log of audit payloads.
// Each entry commits to its predecessor; any edit breaks Verify.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
)

// Genesis is the PrevHash of the first entry.
const Genesis = "genesis"

// Entry is an immutable, hash-chained entry.
type Entry struct {
	Sequence    uint64          `json:"sequence"`
	Kind        string          `json:"kind"`
	ContentHash string          `json:"content_hash"`
	PrevHash    string          `json:"prev_hash"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	entries  []Entry
	headHash string
	clock    func() time.Time
}

func New() *Ledger {
	return &Ledger{headHash: Genesis, clock: time.Now}
}

// WithClock overrides clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

func contentHash(seq uint64, kind string, payload json.RawMessage, prev string) (string, error) {
	raw, err := json.Marshal(struct {
		Seq      uint64          `json:"seq"`
		Kind     string          `json:"kind"`
		Payload  json.RawMessage `json:"payload"`
		PrevHash string          `json:"prev"`
	}{seq, kind, payload, prev})
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize entry: %w", err)
	}
	h := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

// Append adds payload under kind and returns the new entry.
func (l *Ledger) Append(kind string, payload any) (Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq := uint64(len(l.entries)) + 1
	hash, err := contentHash(seq, kind, raw, l.headHash)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		Sequence:    seq,
		Kind:        kind,
		ContentHash: hash,
		PrevHash:    l.headHash,
		Timestamp:   l.clock(),
		Payload:     raw,
	}
	l.entries = append(l.entries, e)
	l.headHash = hash
	return e, nil
}

// Restore loads previously persisted entries and verifies the chain.
// It only works on an empty ledger.
func (l *Ledger) Restore(entries []Entry) error {
	if ok, reason := verifyChain(entries); !ok {
		return fmt.Errorf("restore rejected: %s", reason)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) > 0 {
		return fmt.Errorf("restore into non-empty ledger")
	}
	l.entries = append([]Entry(nil), entries...)
	if n := len(entries); n > 0 {
		l.headHash = entries[n-1].ContentHash
	}
	return nil
}

// Get retrieves an entry by sequence number.
func (l *Ledger) Get(seq uint64) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq == 0 || seq > uint64(len(l.entries)) {
		return Entry{}, fmt.Errorf("entry %d not found", seq)
	}
	return l.entries[seq-1], nil
}

// Entries returns a copy of all entries.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Head returns the current head hash.
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

func (l *Ledger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Verify checks the integrity of the entire chain.
func (l *Ledger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyChain(l.entries)
}

func verifyChain(entries []Entry) (bool, string) {
	prev := Genesis
	for i, e := range entries {
		if e.Sequence != uint64(i)+1 {
			return false, fmt.Sprintf("sequence gap at entry %d", i+1)
		}
		if e.PrevHash != prev {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prev, e.PrevHash)
		}
		computed, err := contentHash(e.Sequence, e.Kind, e.Payload, e.PrevHash)
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d", i+1)
		}
		if computed != e.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prev = e.ContentHash
	}
	return true, "chain verified"
}
