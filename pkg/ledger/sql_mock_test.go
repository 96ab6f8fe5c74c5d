package ledger

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptodevs/daoengine/pkg/contracts"
)

// The sqlmock tests pin the Postgres-dialect statements without needing a
// server; real round trips are covered by the SQLite suite.

func TestSQLStore_Get_Postgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := &SQLStore{db: db}
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "asset_id", "proposer", "created_at", "deadline",
		"yay_votes", "nay_votes", "executed", "voters", "version",
	}).AddRow(
		0, 7, "0xalice",
		"2026-03-01T12:00:00Z", "2026-03-01T12:05:00Z",
		2, 1, false, "[1,2,3]", 3,
	)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+proposalColumns+` FROM proposals WHERE id = $1`)).
		WithArgs(uint64(0)).
		WillReturnRows(rows)

	p, err := store.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, contracts.AssetID(7), p.AssetID)
	assert.Equal(t, uint64(2), p.YayVotes)
	assert.True(t, p.HasVoted(3))
	assert.Equal(t, uint64(3), p.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Update_VersionConflict_Postgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := &SQLStore{db: db}

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE proposals`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT version FROM proposals WHERE id = $1`)).
		WithArgs(uint64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(5))

	p := &contracts.Proposal{ID: 0, Version: 2, Voters: map[contracts.TokenID]struct{}{}}
	err = store.Update(context.Background(), p)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Append_AllocatesNextID_Postgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := &SQLStore{db: db}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX(id)+1, 0) FROM proposals`)).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(4))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO proposals`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	p := &contracts.Proposal{AssetID: 9, Proposer: "0xbob", Voters: map[contracts.TokenID]struct{}{}}
	id, err := store.Append(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, contracts.ProposalID(4), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}
