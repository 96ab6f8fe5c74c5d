package treasury

import (
	"context"
	"fmt"
	"sync"

	"github.com/cryptodevs/daoengine/pkg/contracts"
)

// MemoryBalanceStore keeps the balance in process memory.
type MemoryBalanceStore struct {
	mu      sync.Mutex
	balance int64
}

// NewMemoryBalanceStore creates a store with the given starting balance.
func NewMemoryBalanceStore(initial int64) *MemoryBalanceStore {
	return &MemoryBalanceStore{balance: initial}
}

// Balance implements BalanceStore.
func (s *MemoryBalanceStore) Balance(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

// Credit implements BalanceStore.
func (s *MemoryBalanceStore) Credit(_ context.Context, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance += amount
	return s.balance, nil
}

// Debit implements BalanceStore.
func (s *MemoryBalanceStore) Debit(_ context.Context, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount > s.balance {
		return s.balance, fmt.Errorf("balance %d, requested %d: %w",
			s.balance, amount, contracts.ErrInsufficientFunds)
	}
	s.balance -= amount
	return s.balance, nil
}
