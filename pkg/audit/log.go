// Package audit records every mutating engine operation in a tamper-evident,
// hash-chained log. The chain is observability-side: engine correctness does
// not depend on it, but any later edit to a recorded entry is detectable.
package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cryptodevs/daoengine/pkg/canonicalize"
)

// Entry is a single tamper-evident log record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Details   string    `json:"details,omitempty"`

	// PreviousHash links this entry to the preceding one.
	PreviousHash string `json:"previous_hash"`

	// Hash is the SHA-256 digest of this entry (including PreviousHash).
	Hash string `json:"hash"`
}

// Log manages a sequence of audit entries.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	clock   func() time.Time
}

// NewLog creates an empty audit log using wall-clock time.
func NewLog() *Log {
	return &Log{
		entries: make([]Entry, 0),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// Append adds a new entry, linking it to the previous one.
func (l *Log) Append(actor, action, target, details string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash := ""
	if len(l.entries) > 0 {
		prevHash = l.entries[len(l.entries)-1].Hash
	}

	entry := Entry{
		ID:           uuid.New().String(),
		Timestamp:    l.clock().UTC(),
		Actor:        actor,
		Action:       action,
		Target:       target,
		Details:      details,
		PreviousHash: prevHash,
	}

	hash, err := computeEntryHash(&entry)
	if err != nil {
		return nil, err
	}
	entry.Hash = hash

	l.entries = append(l.entries, entry)
	return &entry, nil
}

// Entries returns a copy of the log contents.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// VerifyChain checks the integrity of the log: each entry's PreviousHash must
// match the hash of the preceding entry, and each entry's Hash must match its
// content.
func (l *Log) VerifyChain() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, entry := range l.entries {
		if i > 0 {
			if entry.PreviousHash != l.entries[i-1].Hash {
				return false, fmt.Errorf("chain broken at index %d: previous hash mismatch", i)
			}
		} else if entry.PreviousHash != "" {
			return false, fmt.Errorf("genesis entry has non-empty previous hash")
		}

		computed, err := computeEntryHash(&entry)
		if err != nil {
			return false, fmt.Errorf("failed to recompute hash at index %d: %w", i, err)
		}
		if computed != entry.Hash {
			return false, fmt.Errorf("integrity failure at index %d: computed %s, stored %s", i, computed, entry.Hash)
		}
	}

	return true, nil
}

// tamper is a test hook: it mutates the entry at index i in place.
func (l *Log) tamper(i int, mutate func(*Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mutate(&l.entries[i])
}

// computeEntryHash calculates the SHA-256 hash of the entry fields, excluding
// the Hash field itself, over their JCS canonical form.
func computeEntryHash(e *Entry) (string, error) {
	data := map[string]interface{}{
		"id":            e.ID,
		"timestamp":     e.Timestamp,
		"actor":         e.Actor,
		"action":        e.Action,
		"target":        e.Target,
		"details":       e.Details,
		"previous_hash": e.PreviousHash,
	}
	return canonicalize.CanonicalHash(data)
}
