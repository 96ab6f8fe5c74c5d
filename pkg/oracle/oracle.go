// Package oracle answers membership questions against the external
// non-fungible membership registry: how many tokens an address holds, and
// which address owns a given token. Lookups are live — eligibility reflects
// the registry at call time, not at proposal creation (see DESIGN.md).
package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/cryptodevs/daoengine/pkg/contracts"
)

// MembershipOracle is the read-only capability consumed by the engine.
type MembershipOracle interface {
	// TokenBalance returns how many membership tokens the address holds.
	TokenBalance(ctx context.Context, addr contracts.Address) (int, error)

	// OwnerOf returns the current owner of the token. Fails with
	// contracts.ErrUnknownToken if the token was never minted.
	OwnerOf(ctx context.Context, token contracts.TokenID) (contracts.Address, error)
}

// StaticRegistry is an in-process membership registry. It backs unit tests
// and dev mode, where no live chain registry is reachable.
type StaticRegistry struct {
	mu     sync.RWMutex
	owners map[contracts.TokenID]contracts.Address
}

// NewStaticRegistry creates an empty registry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{owners: make(map[contracts.TokenID]contracts.Address)}
}

// Mint assigns a token to an owner. Re-minting an existing token is an error.
func (r *StaticRegistry) Mint(token contracts.TokenID, owner contracts.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.owners[token]; exists {
		return fmt.Errorf("token %d already minted", token)
	}
	r.owners[token] = owner
	return nil
}

// Transfer moves a token to a new owner. Models the fairness gap the engine
// inherits from live lookups: a token transferred mid-proposal grants its new
// owner a fresh voting identity check.
func (r *StaticRegistry) Transfer(token contracts.TokenID, to contracts.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.owners[token]; !exists {
		return fmt.Errorf("transfer of unminted token %d: %w", token, contracts.ErrUnknownToken)
	}
	r.owners[token] = to
	return nil
}

// TokenBalance implements MembershipOracle.
func (r *StaticRegistry) TokenBalance(_ context.Context, addr contracts.Address) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, owner := range r.owners {
		if owner == addr {
			count++
		}
	}
	return count, nil
}

// OwnerOf implements MembershipOracle.
func (r *StaticRegistry) OwnerOf(_ context.Context, token contracts.TokenID) (contracts.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[token]
	if !ok {
		return "", fmt.Errorf("token %d: %w", token, contracts.ErrUnknownToken)
	}
	return owner, nil
}
