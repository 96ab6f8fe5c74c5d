package dao

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptodevs/daoengine/pkg/audit"
	"github.com/cryptodevs/daoengine/pkg/contracts"
	"github.com/cryptodevs/daoengine/pkg/finance"
	"github.com/cryptodevs/daoengine/pkg/ledger"
	"github.com/cryptodevs/daoengine/pkg/market"
	"github.com/cryptodevs/daoengine/pkg/oracle"
	"github.com/cryptodevs/daoengine/pkg/treasury"
)

const (
	testCurrency = "WEI"
	owner        = contracts.Address("0xowner")
	alice        = contracts.Address("0xalice")
	bob          = contracts.Address("0xbob")
	carol        = contracts.Address("0xcarol")
	stranger     = contracts.Address("0xstranger")
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	engine   *Engine
	clock    *fakeClock
	registry *oracle.StaticRegistry
	market   *market.FakeMarketplace
	treasury *treasury.Treasury
	audit    *audit.Log
}

// newFixture builds an engine over in-memory stores: three members (alice
// holds tokens 1 and 2, bob token 3, carol token 4), a marketplace quoting
// 100 per asset, and the given opening balance.
func newFixture(t *testing.T, balance int64) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}

	registry := oracle.NewStaticRegistry()
	require.NoError(t, registry.Mint(1, alice))
	require.NoError(t, registry.Mint(2, alice))
	require.NoError(t, registry.Mint(3, bob))
	require.NoError(t, registry.Mint(4, carol))

	mkt := market.NewFakeMarketplace(finance.NewMoney(100, testCurrency))
	tr := treasury.New(treasury.NewMemoryBalanceStore(balance), owner, testCurrency)

	e := NewEngine(ledger.NewMemoryStore(), tr, registry, mkt, DefaultVotingPeriod, clock)
	log := audit.NewLog().WithClock(clock.Now)
	e.SetAuditLog(log)

	return &fixture{engine: e, clock: clock, registry: registry, market: mkt, treasury: tr, audit: log}
}

func (f *fixture) pastDeadline() { f.clock.Advance(DefaultVotingPeriod + time.Second) }

func TestCreateProposal(t *testing.T) {
	f := newFixture(t, 150)
	ctx := context.Background()

	id, err := f.engine.CreateProposal(ctx, alice, 7)
	require.NoError(t, err)
	assert.Equal(t, contracts.ProposalID(0), id)

	id2, err := f.engine.CreateProposal(ctx, bob, 8)
	require.NoError(t, err)
	assert.Equal(t, contracts.ProposalID(1), id2)

	p, err := f.engine.GetProposal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, contracts.AssetID(7), p.AssetID)
	assert.Equal(t, alice, p.Proposer)
	assert.Equal(t, f.clock.Now().Add(DefaultVotingPeriod), p.Deadline)
	assert.False(t, p.Executed)
	assert.Zero(t, p.YayVotes)
	assert.Zero(t, p.NayVotes)

	n, err := f.engine.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestCreateProposal_NonMemberRejected(t *testing.T) {
	f := newFixture(t, 150)

	_, err := f.engine.CreateProposal(context.Background(), stranger, 7)
	assert.ErrorIs(t, err, contracts.ErrNotAMember)

	n, err := f.engine.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVote_TallyAndVoterSet(t *testing.T) {
	f := newFixture(t, 150)
	ctx := context.Background()

	id, err := f.engine.CreateProposal(ctx, alice, 7)
	require.NoError(t, err)

	require.NoError(t, f.engine.Vote(ctx, id, alice, 1, contracts.VoteYay))
	require.NoError(t, f.engine.Vote(ctx, id, alice, 2, contracts.VoteYay))
	require.NoError(t, f.engine.Vote(ctx, id, bob, 3, contracts.VoteNay))

	p, err := f.engine.GetProposal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), p.YayVotes)
	assert.Equal(t, uint64(1), p.NayVotes)
	assert.Equal(t, []contracts.TokenID{1, 2, 3}, p.VoterList())
}

func TestVote_Preconditions(t *testing.T) {
	f := newFixture(t, 150)
	ctx := context.Background()

	id, err := f.engine.CreateProposal(ctx, alice, 7)
	require.NoError(t, err)

	// Unknown proposal.
	err = f.engine.Vote(ctx, 99, alice, 1, contracts.VoteYay)
	assert.ErrorIs(t, err, contracts.ErrNotFound)

	// Token the caller does not own.
	err = f.engine.Vote(ctx, id, alice, 3, contracts.VoteYay)
	assert.ErrorIs(t, err, contracts.ErrNotAMember)

	// Token that was never minted.
	err = f.engine.Vote(ctx, id, alice, 99, contracts.VoteYay)
	assert.ErrorIs(t, err, contracts.ErrNotAMember)

	// Same token twice, even with a flipped choice.
	require.NoError(t, f.engine.Vote(ctx, id, alice, 1, contracts.VoteYay))
	err = f.engine.Vote(ctx, id, alice, 1, contracts.VoteNay)
	assert.ErrorIs(t, err, contracts.ErrAlreadyVoted)

	p, err := f.engine.GetProposal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.YayVotes)
	assert.Zero(t, p.NayVotes)
}

func TestVote_DeadlineClosesVoting(t *testing.T) {
	f := newFixture(t, 150)
	ctx := context.Background()

	id, err := f.engine.CreateProposal(ctx, alice, 7)
	require.NoError(t, err)

	// A vote exactly at the deadline is already too late.
	f.clock.Advance(DefaultVotingPeriod)
	err = f.engine.Vote(ctx, id, alice, 1, contracts.VoteYay)
	assert.ErrorIs(t, err, contracts.ErrVotingClosed)
}

func TestVote_TransferredTokenVotesForNewOwner(t *testing.T) {
	f := newFixture(t, 150)
	ctx := context.Background()

	id, err := f.engine.CreateProposal(ctx, alice, 7)
	require.NoError(t, err)

	// Eligibility is checked live against the registry, so after a
	// transfer the old owner loses the token's vote and the new owner
	// gains it, mid-proposal.
	require.NoError(t, f.registry.Transfer(3, alice))
	err = f.engine.Vote(ctx, id, bob, 3, contracts.VoteYay)
	assert.ErrorIs(t, err, contracts.ErrNotAMember)
	require.NoError(t, f.engine.Vote(ctx, id, alice, 3, contracts.VoteYay))
}

func TestExecute_MajorityPurchases(t *testing.T) {
	f := newFixture(t, 150)
	ctx := context.Background()

	id, err := f.engine.CreateProposal(ctx, alice, 7)
	require.NoError(t, err)
	require.NoError(t, f.engine.Vote(ctx, id, alice, 1, contracts.VoteYay))
	require.NoError(t, f.engine.Vote(ctx, id, alice, 2, contracts.VoteYay))
	require.NoError(t, f.engine.Vote(ctx, id, bob, 3, contracts.VoteNay))

	f.pastDeadline()
	res, err := f.engine.Execute(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomePurchased, res.Outcome)
	assert.Equal(t, int64(100), res.PricePaid)

	bal, err := f.engine.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal.AmountMinor)
	assert.True(t, f.market.Owned(7))

	p, err := f.engine.GetProposal(ctx, id)
	require.NoError(t, err)
	assert.True(t, p.Executed)
}

func TestExecute_BeforeDeadlineRejected(t *testing.T) {
	f := newFixture(t, 150)
	ctx := context.Background()

	id, err := f.engine.CreateProposal(ctx, alice, 7)
	require.NoError(t, err)

	_, err = f.engine.Execute(ctx, id)
	assert.ErrorIs(t, err, contracts.ErrVotingStillOpen)
}

func TestExecute_ZeroVotesSkips(t *testing.T) {
	f := newFixture(t, 150)
	ctx := context.Background()

	id, err := f.engine.CreateProposal(ctx, alice, 7)
	require.NoError(t, err)

	f.pastDeadline()
	res, err := f.engine.Execute(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeSkipped, res.Outcome)
	assert.Zero(t, res.PricePaid)

	// Skipped still finalizes the proposal and leaves the treasury alone.
	bal, err := f.engine.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(150), bal.AmountMinor)
	assert.False(t, f.market.Owned(7))

	p, err := f.engine.GetProposal(ctx, id)
	require.NoError(t, err)
	assert.True(t, p.Executed)
}

func TestExecute_TieSkips(t *testing.T) {
	f := newFixture(t, 150)
	ctx := context.Background()

	id, err := f.engine.CreateProposal(ctx, alice, 7)
	require.NoError(t, err)
	require.NoError(t, f.engine.Vote(ctx, id, alice, 1, contracts.VoteYay))
	require.NoError(t, f.engine.Vote(ctx, id, bob, 3, contracts.VoteNay))

	f.pastDeadline()
	res, err := f.engine.Execute(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeSkipped, res.Outcome)
	assert.False(t, f.market.Owned(7))
}

func TestExecute_InsufficientFundsIsRetryable(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()

	id, err := f.engine.CreateProposal(ctx, alice, 7)
	require.NoError(t, err)
	require.NoError(t, f.engine.Vote(ctx, id, alice, 1, contracts.VoteYay))

	f.pastDeadline()
	_, err = f.engine.Execute(ctx, id)
	assert.ErrorIs(t, err, contracts.ErrInsufficientFunds)

	// The failed attempt leaves every side unchanged and the proposal open
	// for retry.
	p, err := f.engine.GetProposal(ctx, id)
	require.NoError(t, err)
	assert.False(t, p.Executed)
	bal, err := f.engine.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal.AmountMinor)
	assert.False(t, f.market.Owned(7))

	// Funding the gap makes the retry succeed.
	_, err = f.engine.Deposit(ctx, bob, finance.NewMoney(50, testCurrency))
	require.NoError(t, err)
	res, err := f.engine.Execute(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomePurchased, res.Outcome)

	bal, err = f.engine.Balance(ctx)
	require.NoError(t, err)
	assert.Zero(t, bal.AmountMinor)
}

func TestExecute_SecondCallChangesNothing(t *testing.T) {
	f := newFixture(t, 150)
	ctx := context.Background()

	id, err := f.engine.CreateProposal(ctx, alice, 7)
	require.NoError(t, err)
	require.NoError(t, f.engine.Vote(ctx, id, alice, 1, contracts.VoteYay))

	f.pastDeadline()
	_, err = f.engine.Execute(ctx, id)
	require.NoError(t, err)

	before, err := f.engine.GetProposal(ctx, id)
	require.NoError(t, err)
	balBefore, err := f.engine.Balance(ctx)
	require.NoError(t, err)

	_, err = f.engine.Execute(ctx, id)
	assert.ErrorIs(t, err, contracts.ErrAlreadyExecuted)

	after, err := f.engine.GetProposal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	balAfter, err := f.engine.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, balBefore, balAfter)
	assert.True(t, f.market.Owned(7))
}

func TestExecute_PurchaseFailureLeavesProposalOpen(t *testing.T) {
	f := newFixture(t, 150)
	ctx := context.Background()

	id, err := f.engine.CreateProposal(ctx, alice, 7)
	require.NoError(t, err)
	require.NoError(t, f.engine.Vote(ctx, id, alice, 1, contracts.VoteYay))

	f.pastDeadline()
	f.market.FailPurchases = true
	_, err = f.engine.Execute(ctx, id)
	require.Error(t, err)

	p, err := f.engine.GetProposal(ctx, id)
	require.NoError(t, err)
	assert.False(t, p.Executed)
	bal, err := f.engine.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(150), bal.AmountMinor)

	f.market.FailPurchases = false
	res, err := f.engine.Execute(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomePurchased, res.Outcome)
}

// flakyStore fails a configurable number of Update calls before
// delegating to the wrapped store.
type flakyStore struct {
	ledger.Store
	updateFailures int
}

func (s *flakyStore) Update(ctx context.Context, p *contracts.Proposal) error {
	if s.updateFailures > 0 {
		s.updateFailures--
		return errors.New("store temporarily unavailable")
	}
	return s.Store.Update(ctx, p)
}

func TestExecute_FinalizeFailureRestoresTreasury(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	registry := oracle.NewStaticRegistry()
	require.NoError(t, registry.Mint(1, alice))
	store := &flakyStore{Store: ledger.NewMemoryStore()}
	tr := treasury.New(treasury.NewMemoryBalanceStore(150), owner, testCurrency)
	mkt := market.NewFakeMarketplace(finance.NewMoney(100, testCurrency))
	e := NewEngine(store, tr, registry, mkt, DefaultVotingPeriod, clock)
	ctx := context.Background()

	id, err := e.CreateProposal(ctx, alice, 7)
	require.NoError(t, err)
	require.NoError(t, e.Vote(ctx, id, alice, 1, contracts.VoteYay))
	clock.Advance(DefaultVotingPeriod + time.Second)

	// Purchase and debit succeed, then persisting the executed flag fails.
	// The debit must be credited back so the caller sees the treasury it
	// started with.
	store.updateFailures = 1
	_, err = e.Execute(ctx, id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, contracts.ErrInsufficientFunds)

	bal, err := e.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(150), bal.AmountMinor)

	p, err := e.GetProposal(ctx, id)
	require.NoError(t, err)
	assert.False(t, p.Executed)
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t, 150)
	ctx := context.Background()

	// Only the owner may withdraw.
	_, err := f.engine.Withdraw(ctx, alice, finance.NewMoney(10, testCurrency))
	assert.ErrorIs(t, err, contracts.ErrNotOwner)

	// An open, unexecuted proposal blocks withdrawal.
	id, err := f.engine.CreateProposal(ctx, alice, 7)
	require.NoError(t, err)
	_, err = f.engine.Withdraw(ctx, owner, finance.NewMoney(10, testCurrency))
	assert.ErrorIs(t, err, contracts.ErrOutstandingProposals)

	// Once the proposal resolves, withdrawal goes through.
	f.pastDeadline()
	_, err = f.engine.Execute(ctx, id)
	require.NoError(t, err)

	bal, err := f.engine.Withdraw(ctx, owner, finance.NewMoney(10, testCurrency))
	require.NoError(t, err)
	assert.Equal(t, int64(140), bal.AmountMinor)

	// More than the balance.
	_, err = f.engine.Withdraw(ctx, owner, finance.NewMoney(1000, testCurrency))
	assert.ErrorIs(t, err, contracts.ErrInsufficientFunds)
}

func TestWithdraw_ExpiredUnexecutedProposalDoesNotBlock(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()

	// A passed proposal stuck on funds is past its deadline, so it no
	// longer counts as outstanding.
	id, err := f.engine.CreateProposal(ctx, alice, 7)
	require.NoError(t, err)
	require.NoError(t, f.engine.Vote(ctx, id, alice, 1, contracts.VoteYay))
	f.pastDeadline()
	_, err = f.engine.Execute(ctx, id)
	require.ErrorIs(t, err, contracts.ErrInsufficientFunds)

	bal, err := f.engine.Withdraw(ctx, owner, finance.NewMoney(50, testCurrency))
	require.NoError(t, err)
	assert.Zero(t, bal.AmountMinor)
}

func TestGetProposal_NotFound(t *testing.T) {
	f := newFixture(t, 150)

	_, err := f.engine.GetProposal(context.Background(), 0)
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestListProposals(t *testing.T) {
	f := newFixture(t, 150)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.engine.CreateProposal(ctx, alice, contracts.AssetID(i))
		require.NoError(t, err)
	}

	list, err := f.engine.ListProposals(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, p := range list {
		assert.Equal(t, contracts.ProposalID(i), p.ID)
	}
}

func TestAuditTrailCoversLifecycle(t *testing.T) {
	f := newFixture(t, 150)
	ctx := context.Background()

	id, err := f.engine.CreateProposal(ctx, alice, 7)
	require.NoError(t, err)
	require.NoError(t, f.engine.Vote(ctx, id, alice, 1, contracts.VoteYay))
	f.pastDeadline()
	_, err = f.engine.Execute(ctx, id)
	require.NoError(t, err)
	_, err = f.engine.Withdraw(ctx, owner, finance.NewMoney(10, testCurrency))
	require.NoError(t, err)

	entries := f.audit.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, "CREATE_PROPOSAL", entries[0].Action)
	assert.Equal(t, "VOTE", entries[1].Action)
	assert.Equal(t, "EXECUTE", entries[2].Action)
	assert.Equal(t, "WITHDRAW", entries[3].Action)

	ok, err := f.audit.VerifyChain()
	require.NoError(t, err)
	assert.True(t, ok)
}
