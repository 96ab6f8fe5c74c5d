package treasury

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cryptodevs/daoengine/pkg/contracts"
)

// SQLBalanceStore persists the balance as a single guarded row. The debit
// guard runs inside the UPDATE itself, so the balance can never be driven
// negative even by a racing writer outside the engine lock.
type SQLBalanceStore struct {
	db *sql.DB
}

// NewSQLBalanceStore creates the store, runs the migration, and seeds the
// balance row if absent.
func NewSQLBalanceStore(ctx context.Context, db *sql.DB, initial int64) (*SQLBalanceStore, error) {
	s := &SQLBalanceStore{db: db}
	if err := s.migrate(ctx, initial); err != nil {
		return nil, fmt.Errorf("treasury migration failed: %w", err)
	}
	return s, nil
}

const balanceSchema = `
CREATE TABLE IF NOT EXISTS treasury (
	id BIGINT PRIMARY KEY,
	balance BIGINT NOT NULL CHECK (balance >= 0)
);
`

func (s *SQLBalanceStore) migrate(ctx context.Context, initial int64) error {
	if _, err := s.db.ExecContext(ctx, balanceSchema); err != nil {
		return err
	}
	// Seed the singleton row only on first boot; ON CONFLICT keeps an
	// existing balance across restarts.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO treasury (id, balance) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`, initial)
	return err
}

// Balance implements BalanceStore.
func (s *SQLBalanceStore) Balance(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT balance FROM treasury WHERE id = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return n, nil
}

// Credit implements BalanceStore.
func (s *SQLBalanceStore) Credit(ctx context.Context, amount int64) (int64, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE treasury SET balance = balance + $1 WHERE id = 1`, amount); err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return s.Balance(ctx)
}

// Debit implements BalanceStore.
func (s *SQLBalanceStore) Debit(ctx context.Context, amount int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE treasury SET balance = balance - $1 WHERE id = 1 AND balance >= $1`, amount)
	if err != nil {
		return 0, fmt.Errorf("debit balance: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("debit balance: rows affected: %w", err)
	}
	if rows == 0 {
		current, berr := s.Balance(ctx)
		if berr != nil {
			return 0, berr
		}
		return current, fmt.Errorf("balance %d, requested %d: %w",
			current, amount, contracts.ErrInsufficientFunds)
	}
	return s.Balance(ctx)
}
