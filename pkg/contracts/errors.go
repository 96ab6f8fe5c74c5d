package contracts

import "errors"

// The engine's error kinds are exhaustive and closed. Every operation either
// succeeds or fails with exactly one of these; callers match with errors.Is
// and surface the kind verbatim. None are retried internally.
var (
	// ErrNotFound — the proposal id is outside the allocated range.
	ErrNotFound = errors.New("proposal not found")

	// ErrNotAMember — the caller holds no membership token, or the token
	// presented is not a valid membership token owned by the caller.
	ErrNotAMember = errors.New("not a member")

	// ErrAlreadyVoted — the membership token was already spent on this proposal.
	ErrAlreadyVoted = errors.New("token already voted")

	// ErrVotingClosed — the proposal's deadline has passed.
	ErrVotingClosed = errors.New("voting closed")

	// ErrVotingStillOpen — execution attempted before the deadline.
	ErrVotingStillOpen = errors.New("voting still open")

	// ErrAlreadyExecuted — the proposal has already been finalized.
	ErrAlreadyExecuted = errors.New("proposal already executed")

	// ErrInsufficientFunds — the treasury cannot cover the requested amount.
	// During execution this is the single retryable failure: the proposal
	// stays unexecuted and a later Execute may succeed after more deposits.
	ErrInsufficientFunds = errors.New("insufficient treasury funds")

	// ErrNotOwner — treasury withdrawal attempted by a non-owner.
	ErrNotOwner = errors.New("caller is not the treasury owner")

	// ErrOutstandingProposals — withdrawal blocked while a proposal is still
	// open and unexecuted; its eventual execution could require the funds.
	ErrOutstandingProposals = errors.New("outstanding proposals block withdrawal")

	// ErrUnknownToken — the membership registry has never minted this token.
	ErrUnknownToken = errors.New("unknown membership token")
)
