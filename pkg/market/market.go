// Package market defines the external marketplace capability the execution
// engine consumes: asset pricing and purchase. The engine never owns
// marketplace state; a purchase is treated as one atomic external step that
// either fully succeeds or fully fails.
package market

import (
	"context"

	"github.com/cryptodevs/daoengine/pkg/contracts"
	"github.com/cryptodevs/daoengine/pkg/finance"
)

// Marketplace is the consumed pricing/purchase capability.
type Marketplace interface {
	// Price returns the current quote for the asset.
	Price(ctx context.Context, asset contracts.AssetID) (finance.Money, error)

	// Available reports whether the asset can still be purchased.
	Available(ctx context.Context, asset contracts.AssetID) (bool, error)

	// Purchase buys the asset at the quoted price on behalf of the treasury.
	Purchase(ctx context.Context, asset contracts.AssetID, price finance.Money) error
}
