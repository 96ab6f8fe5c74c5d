// Package treasury holds the engine's single pooled balance of spendable
// funds. The balance only increases on deposits and only decreases on a
// successful asset purchase during execution or an owner withdrawal; it can
// never go negative.
package treasury

import (
	"context"
	"fmt"

	"github.com/cryptodevs/daoengine/pkg/contracts"
	"github.com/cryptodevs/daoengine/pkg/finance"
)

// BalanceStore persists the treasury balance in minor units.
type BalanceStore interface {
	// Balance returns the current balance.
	Balance(ctx context.Context) (int64, error)

	// Credit adds amount (> 0) and returns the new balance.
	Credit(ctx context.Context, amount int64) (int64, error)

	// Debit subtracts amount (> 0) and returns the new balance. Fails with
	// contracts.ErrInsufficientFunds, leaving the balance untouched, when
	// amount exceeds it.
	Debit(ctx context.Context, amount int64) (int64, error)
}

// Treasury wraps a BalanceStore with the configured currency and owner.
type Treasury struct {
	store    BalanceStore
	currency string
	owner    contracts.Address
}

// New creates a treasury for the given owner and currency.
func New(store BalanceStore, owner contracts.Address, currency string) *Treasury {
	return &Treasury{store: store, currency: currency, owner: owner}
}

// Owner returns the designated withdrawal owner.
func (t *Treasury) Owner() contracts.Address {
	return t.owner
}

// Currency returns the treasury's currency code.
func (t *Treasury) Currency() string {
	return t.currency
}

// Balance returns the current balance.
func (t *Treasury) Balance(ctx context.Context) (finance.Money, error) {
	n, err := t.store.Balance(ctx)
	if err != nil {
		return finance.Money{}, fmt.Errorf("read treasury balance: %w", err)
	}
	return finance.NewMoney(n, t.currency), nil
}

// Deposit credits the balance. Deposits are open to anyone and always
// succeed for positive amounts.
func (t *Treasury) Deposit(ctx context.Context, amount finance.Money) (finance.Money, error) {
	if err := t.checkAmount(amount); err != nil {
		return finance.Money{}, err
	}
	n, err := t.store.Credit(ctx, amount.AmountMinor)
	if err != nil {
		return finance.Money{}, fmt.Errorf("credit treasury: %w", err)
	}
	return finance.NewMoney(n, t.currency), nil
}

// Debit subtracts the amount, failing with contracts.ErrInsufficientFunds
// when the balance cannot cover it.
func (t *Treasury) Debit(ctx context.Context, amount finance.Money) (finance.Money, error) {
	if err := t.checkAmount(amount); err != nil {
		return finance.Money{}, err
	}
	n, err := t.store.Debit(ctx, amount.AmountMinor)
	if err != nil {
		return finance.Money{}, err
	}
	return finance.NewMoney(n, t.currency), nil
}

func (t *Treasury) checkAmount(amount finance.Money) error {
	if amount.Currency != t.currency {
		return fmt.Errorf("treasury holds %s, got %s", t.currency, amount.Currency)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", amount)
	}
	return nil
}
