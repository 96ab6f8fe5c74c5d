package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/cryptodevs/daoengine/pkg/contracts"
	"github.com/cryptodevs/daoengine/pkg/finance"
)

// FakeMarketplace is an in-process marketplace for tests and dev mode. Every
// asset is quoted at a flat price until purchased; a purchased asset is no
// longer available. Per-asset price overrides can be set for scenarios.
type FakeMarketplace struct {
	mu        sync.Mutex
	basePrice finance.Money
	overrides map[contracts.AssetID]finance.Money
	owned     map[contracts.AssetID]bool

	// FailPurchases makes every Purchase call fail, for exercising the
	// engine's external-failure path.
	FailPurchases bool
}

// NewFakeMarketplace creates a marketplace quoting basePrice for all assets.
func NewFakeMarketplace(basePrice finance.Money) *FakeMarketplace {
	return &FakeMarketplace{
		basePrice: basePrice,
		overrides: make(map[contracts.AssetID]finance.Money),
		owned:     make(map[contracts.AssetID]bool),
	}
}

// SetPrice overrides the quote for one asset.
func (m *FakeMarketplace) SetPrice(asset contracts.AssetID, price finance.Money) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[asset] = price
}

// Price implements Marketplace.
func (m *FakeMarketplace) Price(_ context.Context, asset contracts.AssetID) (finance.Money, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.overrides[asset]; ok {
		return p, nil
	}
	return m.basePrice, nil
}

// Available implements Marketplace. An asset already purchased is gone.
func (m *FakeMarketplace) Available(_ context.Context, asset contracts.AssetID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.owned[asset], nil
}

// Purchase implements Marketplace.
func (m *FakeMarketplace) Purchase(_ context.Context, asset contracts.AssetID, price finance.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPurchases {
		return fmt.Errorf("marketplace unavailable")
	}
	if m.owned[asset] {
		return fmt.Errorf("asset %d not for sale", asset)
	}
	quote := m.basePrice
	if p, ok := m.overrides[asset]; ok {
		quote = p
	}
	if cmp, err := price.Cmp(quote); err != nil || cmp < 0 {
		return fmt.Errorf("asset %d costs %s, offered %s", asset, quote, price)
	}
	m.owned[asset] = true
	return nil
}

// Owned reports whether the fake has sold the asset. Test helper.
func (m *FakeMarketplace) Owned(asset contracts.AssetID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owned[asset]
}
