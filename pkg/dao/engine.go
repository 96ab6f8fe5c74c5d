// Package dao implements the proposal-and-vote engine: lifecycle state
// machine, vote-eligibility gating, tallying, deadline-triggered execution,
// and treasury withdrawal control. Every mutating operation is applied as
// one indivisible transaction under a single writer lock, so no partial
// application is ever observable and operations on the same proposal are
// strictly ordered.
package dao

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cryptodevs/daoengine/pkg/audit"
	"github.com/cryptodevs/daoengine/pkg/contracts"
	"github.com/cryptodevs/daoengine/pkg/finance"
	"github.com/cryptodevs/daoengine/pkg/ledger"
	"github.com/cryptodevs/daoengine/pkg/market"
	"github.com/cryptodevs/daoengine/pkg/observability"
	"github.com/cryptodevs/daoengine/pkg/oracle"
	"github.com/cryptodevs/daoengine/pkg/treasury"
)

// DefaultVotingPeriod matches the original contract's five-minute window.
const DefaultVotingPeriod = 5 * time.Minute

// Clock provides authority time for deadline comparisons. Inject a fake for
// deterministic tests; "deadline" is a data comparison, never a scheduler.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Engine wires the ledger, treasury, membership oracle, and marketplace
// capability behind the six public operations.
type Engine struct {
	mu sync.Mutex

	ledger       ledger.Store
	treasury     *treasury.Treasury
	oracle       oracle.MembershipOracle
	market       market.Marketplace
	clock        Clock
	votingPeriod time.Duration

	auditLog *audit.Log
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewEngine creates an engine. If clock is nil, wall-clock time is used.
func NewEngine(
	store ledger.Store,
	tr *treasury.Treasury,
	membership oracle.MembershipOracle,
	marketplace market.Marketplace,
	votingPeriod time.Duration,
	clock ...Clock,
) *Engine {
	var c Clock = wallClock{}
	if len(clock) > 0 && clock[0] != nil {
		c = clock[0]
	}
	if votingPeriod <= 0 {
		votingPeriod = DefaultVotingPeriod
	}
	return &Engine{
		ledger:       store,
		treasury:     tr,
		oracle:       membership,
		market:       marketplace,
		clock:        c,
		votingPeriod: votingPeriod,
		logger:       slog.Default().With("component", "dao-engine"),
	}
}

// SetAuditLog injects the tamper-evident audit log.
func (e *Engine) SetAuditLog(l *audit.Log) {
	e.auditLog = l
}

// SetMetrics injects the engine instruments.
func (e *Engine) SetMetrics(m *observability.Metrics) {
	e.metrics = m
}

// CreateProposal appends a new proposal targeting the given asset. The
// proposer must hold at least one membership token; the deadline is the
// current time plus the configured voting window.
func (e *Engine) CreateProposal(ctx context.Context, proposer contracts.Address, asset contracts.AssetID) (contracts.ProposalID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.timeOp(ctx, "create_proposal", e.clock.Now())

	held, err := e.oracle.TokenBalance(ctx, proposer)
	if err != nil {
		return 0, fmt.Errorf("membership lookup for %s: %w", proposer, err)
	}
	if held == 0 {
		return 0, fmt.Errorf("%s holds no membership token: %w", proposer, contracts.ErrNotAMember)
	}

	now := e.clock.Now()
	p := &contracts.Proposal{
		AssetID:   asset,
		Proposer:  proposer,
		CreatedAt: now,
		Deadline:  now.Add(e.votingPeriod),
		Voters:    make(map[contracts.TokenID]struct{}),
	}
	id, err := e.ledger.Append(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("append proposal: %w", err)
	}

	e.record("member:"+string(proposer), "CREATE_PROPOSAL", fmt.Sprintf("proposal:%d", id),
		fmt.Sprintf("asset=%d deadline=%s", asset, p.Deadline.UTC().Format(time.RFC3339)))
	e.metrics.RecordProposalCreated(ctx)
	e.logger.InfoContext(ctx, "proposal created",
		"proposal_id", id, "asset_id", asset, "proposer", proposer, "deadline", p.Deadline)
	return id, nil
}

// Vote applies one vote. Preconditions are checked in order, first violation
// wins: proposal exists, voting open, not executed, caller owns a valid
// membership token, token unspent on this proposal. One vote is tied to one
// token, so a member may cast one vote per token they own.
func (e *Engine) Vote(ctx context.Context, id contracts.ProposalID, caller contracts.Address, token contracts.TokenID, choice contracts.VoteChoice) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.timeOp(ctx, "vote", e.clock.Now())

	p, err := e.ledger.Get(ctx, id)
	if err != nil {
		return err
	}
	now := e.clock.Now()
	if !now.Before(p.Deadline) {
		return fmt.Errorf("proposal %d deadline %s passed: %w",
			id, p.Deadline.UTC().Format(time.RFC3339), contracts.ErrVotingClosed)
	}
	// Implied by the deadline check under a well-behaved clock, but must
	// hold even under skew or reentry.
	if p.Executed {
		return fmt.Errorf("proposal %d: %w", id, contracts.ErrAlreadyExecuted)
	}

	owner, err := e.oracle.OwnerOf(ctx, token)
	if err != nil {
		if errors.Is(err, contracts.ErrUnknownToken) {
			return fmt.Errorf("token %d is not a membership token: %w", token, contracts.ErrNotAMember)
		}
		return fmt.Errorf("ownership lookup for token %d: %w", token, err)
	}
	if owner != caller {
		return fmt.Errorf("token %d is owned by %s, not %s: %w", token, owner, caller, contracts.ErrNotAMember)
	}
	if p.HasVoted(token) {
		return fmt.Errorf("token %d: %w", token, contracts.ErrAlreadyVoted)
	}

	switch choice {
	case contracts.VoteYay:
		p.YayVotes++
	case contracts.VoteNay:
		p.NayVotes++
	default:
		return fmt.Errorf("invalid vote choice %d", choice)
	}
	p.Voters[token] = struct{}{}

	if err := e.ledger.Update(ctx, p); err != nil {
		return fmt.Errorf("persist vote on proposal %d: %w", id, err)
	}

	e.record("member:"+string(caller), "VOTE", fmt.Sprintf("proposal:%d", id),
		fmt.Sprintf("token=%d choice=%s", token, choice))
	e.metrics.RecordVote(ctx, choice.String())
	e.logger.InfoContext(ctx, "vote cast",
		"proposal_id", id, "token", token, "choice", choice.String(),
		"yay", p.YayVotes, "nay", p.NayVotes)
	return nil
}

// Execute finalizes a proposal after its deadline. A majority of yay votes
// resolves to Purchased: the marketplace is queried for the current price,
// the treasury debited, and the purchase invoked. A tie or majority of nay
// resolves to Skipped with no external call and no treasury change. Either
// way the executed flag flips exactly once; a second call fails with
// AlreadyExecuted and performs no side effect.
//
// InsufficientFunds is the one precondition failure that does not set
// executed: the failure is economic, not structural, and the proposal stays
// retryable once the treasury is funded.
func (e *Engine) Execute(ctx context.Context, id contracts.ProposalID) (contracts.ExecutionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.timeOp(ctx, "execute", e.clock.Now())

	var result contracts.ExecutionResult

	p, err := e.ledger.Get(ctx, id)
	if err != nil {
		return result, err
	}
	now := e.clock.Now()
	if now.Before(p.Deadline) {
		return result, fmt.Errorf("proposal %d deadline %s not reached: %w",
			id, p.Deadline.UTC().Format(time.RFC3339), contracts.ErrVotingStillOpen)
	}
	if p.Executed {
		return result, fmt.Errorf("proposal %d: %w", id, contracts.ErrAlreadyExecuted)
	}

	result.ProposalID = id
	var debited finance.Money
	if p.Passed() {
		price, err := e.market.Price(ctx, p.AssetID)
		if err != nil {
			return result, fmt.Errorf("price lookup for asset %d: %w", p.AssetID, err)
		}
		balance, err := e.treasury.Balance(ctx)
		if err != nil {
			return result, err
		}
		cmp, err := price.Cmp(balance)
		if err != nil {
			return result, fmt.Errorf("compare price to balance: %w", err)
		}
		if cmp > 0 {
			return result, fmt.Errorf("asset %d costs %s, treasury holds %s: %w",
				p.AssetID, price, balance, contracts.ErrInsufficientFunds)
		}

		// The purchase is one atomic external step; on failure the
		// proposal stays unexecuted and the treasury untouched. The
		// debit afterwards cannot come up short: the writer lock
		// serializes all treasury mutations and the balance was just
		// checked.
		if err := e.market.Purchase(ctx, p.AssetID, price); err != nil {
			return result, fmt.Errorf("purchase asset %d: %w", p.AssetID, err)
		}
		if _, err := e.treasury.Debit(ctx, price); err != nil {
			return result, fmt.Errorf("debit treasury after purchase of asset %d: %w", p.AssetID, err)
		}
		debited = price
		result.Outcome = contracts.OutcomePurchased
		result.PricePaid = price.AmountMinor
	} else {
		result.Outcome = contracts.OutcomeSkipped
	}

	p.Executed = true
	if err := e.ledger.Update(ctx, p); err != nil {
		// A finalization failure must not leave the debit behind: credit
		// it back so the treasury reads as if the call never happened.
		// The purchase is the one external step that cannot be unwound.
		if debited.IsPositive() {
			if _, cerr := e.treasury.Deposit(ctx, debited); cerr != nil {
				e.logger.ErrorContext(ctx, "compensating credit failed",
					"proposal_id", id, "amount", debited, "error", cerr)
			}
		}
		return contracts.ExecutionResult{}, fmt.Errorf("finalize proposal %d: %w", id, err)
	}

	e.record("system", "EXECUTE", fmt.Sprintf("proposal:%d", id),
		fmt.Sprintf("outcome=%s price=%d yay=%d nay=%d", result.Outcome, result.PricePaid, p.YayVotes, p.NayVotes))
	e.metrics.RecordExecution(ctx, string(result.Outcome))
	e.logger.InfoContext(ctx, "proposal executed",
		"proposal_id", id, "outcome", result.Outcome, "price_paid", result.PricePaid)
	return result, nil
}

// Deposit credits the treasury. Open to anyone; models proposal bonding and
// direct funding.
func (e *Engine) Deposit(ctx context.Context, from contracts.Address, amount finance.Money) (finance.Money, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.timeOp(ctx, "deposit", e.clock.Now())

	balance, err := e.treasury.Deposit(ctx, amount)
	if err != nil {
		return finance.Money{}, err
	}

	e.record("member:"+string(from), "DEPOSIT", "treasury", fmt.Sprintf("amount=%d", amount.AmountMinor))
	e.metrics.RecordDeposit(ctx)
	e.logger.InfoContext(ctx, "treasury deposit", "from", from, "amount", amount, "balance", balance)
	return balance, nil
}

// Withdraw transfers surplus treasury funds to the owner. It fails with
// NotOwner for anyone else, with OutstandingProposals while any proposal is
// still open and unexecuted (its execution could require the funds), and
// with InsufficientFunds when the balance cannot cover the amount.
func (e *Engine) Withdraw(ctx context.Context, caller contracts.Address, amount finance.Money) (finance.Money, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.timeOp(ctx, "withdraw", e.clock.Now())

	if caller != e.treasury.Owner() {
		return finance.Money{}, fmt.Errorf("caller %s: %w", caller, contracts.ErrNotOwner)
	}

	outstanding, err := e.outstandingProposal(ctx)
	if err != nil {
		return finance.Money{}, err
	}
	if outstanding >= 0 {
		return finance.Money{}, fmt.Errorf("proposal %d is still open: %w",
			outstanding, contracts.ErrOutstandingProposals)
	}

	balance, err := e.treasury.Debit(ctx, amount)
	if err != nil {
		return finance.Money{}, err
	}

	e.record("owner:"+string(caller), "WITHDRAW", "treasury", fmt.Sprintf("amount=%d", amount.AmountMinor))
	e.metrics.RecordWithdrawal(ctx)
	e.logger.InfoContext(ctx, "treasury withdrawal", "owner", caller, "amount", amount, "balance", balance)
	return balance, nil
}

// GetProposal returns a copy of the proposal record.
func (e *Engine) GetProposal(ctx context.Context, id contracts.ProposalID) (*contracts.Proposal, error) {
	return e.ledger.Get(ctx, id)
}

// Count returns the number of proposals ever created; callers iterate ids
// over [0, Count).
func (e *Engine) Count(ctx context.Context) (uint64, error) {
	return e.ledger.Count(ctx)
}

// ListProposals returns copies of every proposal in id order.
func (e *Engine) ListProposals(ctx context.Context) ([]*contracts.Proposal, error) {
	n, err := e.ledger.Count(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*contracts.Proposal, 0, n)
	for id := uint64(0); id < n; id++ {
		p, err := e.ledger.Get(ctx, contracts.ProposalID(id))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Balance returns the current treasury balance.
func (e *Engine) Balance(ctx context.Context) (finance.Money, error) {
	return e.treasury.Balance(ctx)
}

// Owner returns the treasury owner address.
func (e *Engine) Owner() contracts.Address {
	return e.treasury.Owner()
}

// Currency returns the treasury currency code.
func (e *Engine) Currency() string {
	return e.treasury.Currency()
}

// AuditLog returns the injected audit log, or nil.
func (e *Engine) AuditLog() *audit.Log {
	return e.auditLog
}

// outstandingProposal returns the id of some proposal with executed == false
// and now < deadline, or -1 when none exists. A proposal past its deadline
// but pending funds does not block withdrawal.
func (e *Engine) outstandingProposal(ctx context.Context) (int64, error) {
	n, err := e.ledger.Count(ctx)
	if err != nil {
		return -1, err
	}
	now := e.clock.Now()
	for id := uint64(0); id < n; id++ {
		p, err := e.ledger.Get(ctx, contracts.ProposalID(id))
		if err != nil {
			return -1, err
		}
		if !p.Executed && now.Before(p.Deadline) {
			return int64(id), nil
		}
	}
	return -1, nil
}

func (e *Engine) record(actor, action, target, details string) {
	if e.auditLog == nil {
		return
	}
	if _, err := e.auditLog.Append(actor, action, target, details); err != nil {
		e.logger.Warn("audit append failed", "action", action, "error", err)
	}
}

func (e *Engine) timeOp(ctx context.Context, op string, start time.Time) {
	e.metrics.RecordDuration(ctx, op, e.clock.Now().Sub(start))
}
