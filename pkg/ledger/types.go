// Package ledger is the append-only, monotonically-indexed store of proposal
// records — the source of truth for lifecycle state. Records are never
// deleted or renumbered; a proposal's id doubles as its stable external
// reference.
package ledger

import (
	"context"
	"errors"

	"github.com/cryptodevs/daoengine/pkg/contracts"
)

// ErrVersionConflict is returned by Update when the stored record's version
// no longer matches the version the caller read. It signals a concurrent
// mutation attempt in distributed deployments; the single-writer engine
// never observes it.
var ErrVersionConflict = errors.New("proposal version conflict")

// Store persists proposal records.
type Store interface {
	// Append allocates the next sequential id, stores the record, and
	// returns the id. The caller fills every field except ID.
	Append(ctx context.Context, p *contracts.Proposal) (contracts.ProposalID, error)

	// Get returns a copy of the record, or contracts.ErrNotFound if the id
	// is outside the allocated range.
	Get(ctx context.Context, id contracts.ProposalID) (*contracts.Proposal, error)

	// Count returns the number of proposals ever created. Ids range over
	// [0, Count).
	Count(ctx context.Context) (uint64, error)

	// Update persists a mutated record. p.Version must equal the stored
	// version; on success the stored version is bumped by one. Returns
	// contracts.ErrNotFound for unknown ids and ErrVersionConflict on a
	// version mismatch, in which case nothing changes.
	Update(ctx context.Context, p *contracts.Proposal) error
}
