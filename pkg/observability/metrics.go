package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the engine's instruments. A nil *Metrics is valid and
// records nothing, so the engine can run unobserved in tests.
type Metrics struct {
	proposalsCreated metric.Int64Counter
	votesCast        metric.Int64Counter
	executions       metric.Int64Counter
	deposits         metric.Int64Counter
	withdrawals      metric.Int64Counter
	opDuration       metric.Float64Histogram
}

// NewMetrics creates the engine instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.proposalsCreated, err = meter.Int64Counter("dao.proposals.created",
		metric.WithDescription("Proposals appended to the ledger")); err != nil {
		return nil, fmt.Errorf("create proposals counter: %w", err)
	}
	if m.votesCast, err = meter.Int64Counter("dao.votes.cast",
		metric.WithDescription("Votes accepted by the voting engine")); err != nil {
		return nil, fmt.Errorf("create votes counter: %w", err)
	}
	if m.executions, err = meter.Int64Counter("dao.executions",
		metric.WithDescription("Proposal executions by outcome")); err != nil {
		return nil, fmt.Errorf("create executions counter: %w", err)
	}
	if m.deposits, err = meter.Int64Counter("dao.treasury.deposits",
		metric.WithDescription("Treasury deposits")); err != nil {
		return nil, fmt.Errorf("create deposits counter: %w", err)
	}
	if m.withdrawals, err = meter.Int64Counter("dao.treasury.withdrawals",
		metric.WithDescription("Owner withdrawals")); err != nil {
		return nil, fmt.Errorf("create withdrawals counter: %w", err)
	}
	if m.opDuration, err = meter.Float64Histogram("dao.operation.duration",
		metric.WithDescription("Engine operation duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	return m, nil
}

// RecordProposalCreated increments the proposal counter.
func (m *Metrics) RecordProposalCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.proposalsCreated.Add(ctx, 1)
}

// RecordVote increments the vote counter, labeled by choice.
func (m *Metrics) RecordVote(ctx context.Context, choice string) {
	if m == nil {
		return
	}
	m.votesCast.Add(ctx, 1, metric.WithAttributes(attribute.String("choice", choice)))
}

// RecordExecution increments the execution counter, labeled by outcome.
func (m *Metrics) RecordExecution(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.executions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordDeposit increments the deposit counter.
func (m *Metrics) RecordDeposit(ctx context.Context) {
	if m == nil {
		return
	}
	m.deposits.Add(ctx, 1)
}

// RecordWithdrawal increments the withdrawal counter.
func (m *Metrics) RecordWithdrawal(ctx context.Context) {
	if m == nil {
		return
	}
	m.withdrawals.Add(ctx, 1)
}

// RecordDuration records one operation's latency.
func (m *Metrics) RecordDuration(ctx context.Context, op string, d time.Duration) {
	if m == nil {
		return
	}
	m.opDuration.Record(ctx, float64(d.Milliseconds()),
		metric.WithAttributes(attribute.String("operation", op)))
}
