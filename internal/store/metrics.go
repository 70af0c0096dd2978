package store

import (
	"context"
	"fmt"

	"github.com/bdobrica/ruriko-events/internal/events"
)

// GetMetrics returns the current point-in-time counters across events,
// rule runs, and approvals.
func (s *Store) GetMetrics(ctx context.Context) (events.Metrics, error) {
	var m events.Metrics

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM events`).Scan(&m.EventsTotal); err != nil {
		return m, fmt.Errorf("failed to count events: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM rule_runs`).Scan(&m.RuleRunsTotal); err != nil {
		return m, fmt.Errorf("failed to count rule runs: %w", err)
	}

	statusCounts := []struct {
		status string
		dest   *int64
	}{
		{events.RunStatusCompleted, &m.RuleRunsCompleted},
		{events.RunStatusSkipped, &m.RuleRunsSkipped},
		{events.RunStatusFailed, &m.RuleRunsFailed},
		{events.RunStatusAwaitingApproval, &m.RuleRunsAwaiting},
	}
	for _, sc := range statusCounts {
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM rule_runs WHERE status = ?`, sc.status,
		).Scan(sc.dest); err != nil {
			return m, fmt.Errorf("failed to count rule runs by status: %w", err)
		}
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM approvals`).Scan(&m.ApprovalsTotal); err != nil {
		return m, fmt.Errorf("failed to count approvals: %w", err)
	}

	approvalCounts := []struct {
		status string
		dest   *int64
	}{
		{events.ApprovalPending, &m.ApprovalsPending},
		{events.ApprovalApproved, &m.ApprovalsApproved},
		{events.ApprovalRejected, &m.ApprovalsRejected},
	}
	for _, ac := range approvalCounts {
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM approvals WHERE status = ?`, ac.status,
		).Scan(ac.dest); err != nil {
			return m, fmt.Errorf("failed to count approvals by status: %w", err)
		}
	}

	return m, nil
}
