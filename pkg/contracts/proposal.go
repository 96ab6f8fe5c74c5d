// Package contracts holds the shared data model of the DAO engine: proposal
// records, identifiers, vote choices, execution outcomes, and the closed set
// of error kinds every operation resolves to.
package contracts

import (
	"fmt"
	"sort"
	"time"
)

// Address identifies a member or the treasury owner.
type Address string

// TokenID identifies a single membership token. Each token is a distinct,
// one-time voting right per proposal.
type TokenID uint64

// AssetID identifies an external asset listed on the marketplace.
type AssetID uint64

// ProposalID is the ledger-assigned index of a proposal. IDs start at 0 and
// are strictly increasing for the lifetime of the ledger; they are never
// reused, even for proposals that resolve to Skipped.
type ProposalID uint64

// VoteChoice is a member's position on a proposal.
type VoteChoice int

const (
	VoteYay VoteChoice = iota
	VoteNay
)

// String implements fmt.Stringer for VoteChoice.
func (v VoteChoice) String() string {
	switch v {
	case VoteYay:
		return "YAY"
	case VoteNay:
		return "NAY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(v))
	}
}

// ParseVoteChoice converts the wire form ("YAY"/"NAY") back to a VoteChoice.
func ParseVoteChoice(s string) (VoteChoice, error) {
	switch s {
	case "YAY":
		return VoteYay, nil
	case "NAY":
		return VoteNay, nil
	default:
		return 0, fmt.Errorf("invalid vote choice %q", s)
	}
}

// ExecutionOutcome is the terminal resolution of a proposal.
type ExecutionOutcome string

const (
	// OutcomePurchased — the vote passed and the asset was bought.
	OutcomePurchased ExecutionOutcome = "PURCHASED"
	// OutcomeSkipped — the vote failed or tied; no treasury effect.
	OutcomeSkipped ExecutionOutcome = "SKIPPED"
)

// ExecutionResult reports what Execute did.
type ExecutionResult struct {
	ProposalID ProposalID       `json:"proposal_id"`
	Outcome    ExecutionOutcome `json:"outcome"`
	// PricePaid is the marketplace-quoted amount debited from the treasury,
	// in minor units. Zero for Skipped.
	PricePaid int64 `json:"price_paid"`
}

// Proposal is a time-boxed request to spend treasury funds purchasing one
// external asset. Created once, mutated only by the voting and execution
// engines, and permanently immutable once Executed is true. Records are
// retained in the ledger indefinitely for audit, never deleted.
type Proposal struct {
	ID       ProposalID `json:"id"`
	AssetID  AssetID    `json:"asset_id"`
	Proposer Address    `json:"proposer"`

	// Deadline = creation time + the configured voting window. Immutable.
	Deadline  time.Time `json:"deadline"`
	CreatedAt time.Time `json:"created_at"`

	YayVotes uint64 `json:"yay_votes"`
	NayVotes uint64 `json:"nay_votes"`
	Executed bool   `json:"executed"`

	// Voters is the append-only set of membership tokens already spent on
	// this proposal. Invariant: YayVotes+NayVotes == len(Voters).
	Voters map[TokenID]struct{} `json:"-"`

	// Version counts applied mutations, for optimistic concurrency control
	// in durable stores. Starts at 0 and increments on every update.
	Version uint64 `json:"version"`
}

// HasVoted reports whether the token was already spent on this proposal.
func (p *Proposal) HasVoted(token TokenID) bool {
	_, ok := p.Voters[token]
	return ok
}

// VotingOpen reports whether votes are still accepted at the given instant.
func (p *Proposal) VotingOpen(now time.Time) bool {
	return now.Before(p.Deadline) && !p.Executed
}

// Passed reports whether the tally resolves to a purchase. Ties favor
// inaction and resolve to Skipped.
func (p *Proposal) Passed() bool {
	return p.YayVotes > p.NayVotes
}

// VoterList returns the voter set as a sorted slice, for stable
// serialization and hashing.
func (p *Proposal) VoterList() []TokenID {
	out := make([]TokenID, 0, len(p.Voters))
	for t := range p.Voters {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate ledger state through a read.
func (p *Proposal) Clone() *Proposal {
	cp := *p
	cp.Voters = make(map[TokenID]struct{}, len(p.Voters))
	for t := range p.Voters {
		cp.Voters[t] = struct{}{}
	}
	return &cp
}
