package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cryptodevs/daoengine/pkg/contracts"
)

// SQLStore implements Store using database/sql.
// It supports both Postgres and SQLite via standard drivers; $1-style
// placeholders are understood by lib/pq and modernc.org/sqlite alike.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store and runs the schema migration.
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("ledger migration failed: %w", err)
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS proposals (
	id BIGINT PRIMARY KEY,
	asset_id BIGINT NOT NULL,
	proposer TEXT NOT NULL,
	created_at TEXT NOT NULL,
	deadline TEXT NOT NULL,
	yay_votes BIGINT NOT NULL DEFAULT 0,
	nay_votes BIGINT NOT NULL DEFAULT 0,
	executed BOOLEAN NOT NULL DEFAULT FALSE,
	voters TEXT NOT NULL DEFAULT '[]',
	version BIGINT NOT NULL DEFAULT 0
);
`

func (s *SQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const proposalColumns = `id, asset_id, proposer, created_at, deadline, yay_votes, nay_votes, executed, voters, version`

// Append implements Store. The id is allocated inside one transaction so two
// concurrent appends can never claim the same index.
func (s *SQLStore) Append(ctx context.Context, p *contracts.Proposal) (contracts.ProposalID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next uint64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id)+1, 0) FROM proposals`).Scan(&next); err != nil {
		return 0, fmt.Errorf("allocate proposal id: %w", err)
	}

	voters, err := marshalVoters(p)
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO proposals (id, asset_id, proposer, created_at, deadline, yay_votes, nay_votes, executed, voters, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0)`,
		next, uint64(p.AssetID), string(p.Proposer),
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
		p.Deadline.UTC().Format(time.RFC3339Nano),
		p.YayVotes, p.NayVotes, p.Executed, voters,
	)
	if err != nil {
		return 0, fmt.Errorf("insert proposal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return contracts.ProposalID(next), nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, id contracts.ProposalID) (*contracts.Proposal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, uint64(id))
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("proposal %d: %w", id, contracts.ErrNotFound)
		}
		return nil, err
	}
	return p, nil
}

// Count implements Store.
func (s *SQLStore) Count(ctx context.Context) (uint64, error) {
	var n uint64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM proposals`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count proposals: %w", err)
	}
	return n, nil
}

// Update implements Store with compare-and-swap on the version column.
func (s *SQLStore) Update(ctx context.Context, p *contracts.Proposal) error {
	voters, err := marshalVoters(p)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE proposals
		SET yay_votes = $1, nay_votes = $2, executed = $3, voters = $4, version = version + 1
		WHERE id = $5 AND version = $6`,
		p.YayVotes, p.NayVotes, p.Executed, voters, uint64(p.ID), p.Version,
	)
	if err != nil {
		return fmt.Errorf("update proposal %d: %w", p.ID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update proposal %d: rows affected: %w", p.ID, err)
	}
	if rows == 1 {
		return nil
	}

	// Distinguish missing record from concurrent mutation.
	var stored uint64
	err = s.db.QueryRowContext(ctx, `SELECT version FROM proposals WHERE id = $1`, uint64(p.ID)).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("proposal %d: %w", p.ID, contracts.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update proposal %d: %w", p.ID, err)
	}
	return fmt.Errorf("proposal %d: stored version %d, caller read %d: %w",
		p.ID, stored, p.Version, ErrVersionConflict)
}

func marshalVoters(p *contracts.Proposal) (string, error) {
	raw, err := json.Marshal(p.VoterList())
	if err != nil {
		return "", fmt.Errorf("marshal voters for proposal %d: %w", p.ID, err)
	}
	return string(raw), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*contracts.Proposal, error) {
	var (
		id        uint64
		assetID   uint64
		proposer  string
		createdAt string
		deadline  string
		yay       uint64
		nay       uint64
		executed  bool
		votersRaw string
		version   uint64
	)
	if err := row.Scan(&id, &assetID, &proposer, &createdAt, &deadline, &yay, &nay, &executed, &votersRaw, &version); err != nil {
		return nil, err
	}

	var tokens []contracts.TokenID
	if votersRaw != "" {
		if err := json.Unmarshal([]byte(votersRaw), &tokens); err != nil {
			return nil, fmt.Errorf("decode voters for proposal %d: %w", id, err)
		}
	}
	voters := make(map[contracts.TokenID]struct{}, len(tokens))
	for _, t := range tokens {
		voters[t] = struct{}{}
	}

	return &contracts.Proposal{
		ID:        contracts.ProposalID(id),
		AssetID:   contracts.AssetID(assetID),
		Proposer:  contracts.Address(proposer),
		CreatedAt: parseTime(createdAt),
		Deadline:  parseTime(deadline),
		YayVotes:  yay,
		NayVotes:  nay,
		Executed:  executed,
		Voters:    voters,
		Version:   version,
	}, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
