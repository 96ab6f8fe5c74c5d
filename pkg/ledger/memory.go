package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/cryptodevs/daoengine/pkg/contracts"
)

// MemoryStore is the in-process Store used by unit tests and transient
// deployments. All records live on one slice indexed by proposal id.
type MemoryStore struct {
	mu        sync.RWMutex
	proposals []*contracts.Proposal
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{proposals: make([]*contracts.Proposal, 0)}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, p *contracts.Proposal) (contracts.ProposalID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := contracts.ProposalID(len(s.proposals))
	stored := p.Clone()
	stored.ID = id
	stored.Version = 0
	s.proposals = append(s.proposals, stored)
	return id, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id contracts.ProposalID) (*contracts.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if uint64(id) >= uint64(len(s.proposals)) {
		return nil, fmt.Errorf("proposal %d: %w", id, contracts.ErrNotFound)
	}
	return s.proposals[id].Clone(), nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.proposals)), nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, p *contracts.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uint64(p.ID) >= uint64(len(s.proposals)) {
		return fmt.Errorf("proposal %d: %w", p.ID, contracts.ErrNotFound)
	}
	current := s.proposals[p.ID]
	if current.Version != p.Version {
		return fmt.Errorf("proposal %d: stored version %d, caller read %d: %w",
			p.ID, current.Version, p.Version, ErrVersionConflict)
	}

	stored := p.Clone()
	stored.Version = p.Version + 1
	s.proposals[p.ID] = stored
	return nil
}
