package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bdobrica/ruriko-events/internal/events"
)

// InsertRuleRun records a new rule run in status "running".
func (s *Store) InsertRuleRun(ctx context.Context, run *events.RuleRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_runs (run_id, rule_id, event_id, decision, reason, status, action_trace_id, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.RuleID, run.EventID, run.Decision, run.Reason, run.Status,
		run.ActionTraceID, run.DurationMs, formatTime(run.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert rule run: %w", err)
	}
	return nil
}

// UpdateRuleRun mutates a rule run to its terminal status.
func (s *Store) UpdateRuleRun(ctx context.Context, runID, status, reason, actionTraceID string, durationMs int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rule_runs SET status = ?, reason = ?, action_trace_id = ?, duration_ms = ?
		WHERE run_id = ?
	`, status, reason, actionTraceID, durationMs, runID)
	if err != nil {
		return fmt.Errorf("failed to update rule run: %w", err)
	}
	return nil
}

// HasRuleEventRun reports whether rule ruleID has already produced a
// non-failed run for event eventID. A failed run doesn't count, so a
// replay can retry it.
func (s *Store) HasRuleEventRun(ctx context.Context, ruleID, eventID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM rule_runs WHERE rule_id = ? AND event_id = ? AND status != ?`,
		ruleID, eventID, events.RunStatusFailed,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check rule event run: %w", err)
	}
	return count > 0, nil
}

// HasRecentRuleSubjectRun reports whether ruleID has run against subject
// within the last windowSeconds.
func (s *Store) HasRecentRuleSubjectRun(ctx context.Context, ruleID, subject string, windowSeconds int) (bool, error) {
	cutoff := formatTime(time.Now().Add(-time.Duration(windowSeconds) * time.Second))
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM rule_runs rr
		JOIN events e ON e.event_id = rr.event_id
		WHERE rr.rule_id = ? AND e.subject = ? AND rr.created_at >= ?
	`, ruleID, subject, cutoff).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check recent rule subject run: %w", err)
	}
	return count > 0, nil
}

// LastRuleRunAt returns the unix timestamp of the most recent run for
// ruleID, if any.
func (s *Store) LastRuleRunAt(ctx context.Context, ruleID string) (bool, int64, error) {
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM rule_runs WHERE rule_id = ? ORDER BY created_at DESC LIMIT 1
	`, ruleID).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to get last rule run: %w", err)
	}
	ts, err := parseTime(createdAt)
	if err != nil {
		return false, 0, fmt.Errorf("failed to parse rule run timestamp: %w", err)
	}
	return true, ts.Unix(), nil
}

// ListRuleRuns filters by optional ruleID, eventID, status; limit <= 0
// means unlimited. Newest first.
func (s *Store) ListRuleRuns(ctx context.Context, ruleID, eventID, status string, limit int) ([]events.RuleRun, error) {
	query := `
		SELECT run_id, rule_id, event_id, decision, reason, status, action_trace_id, duration_ms, created_at
		FROM rule_runs WHERE 1=1
	`
	var args []any
	if ruleID != "" {
		query += " AND rule_id = ?"
		args = append(args, ruleID)
	}
	if eventID != "" {
		query += " AND event_id = ?"
		args = append(args, eventID)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule runs: %w", err)
	}
	defer rows.Close()

	var out []events.RuleRun
	for rows.Next() {
		var run events.RuleRun
		var createdAt string
		if err := rows.Scan(&run.RunID, &run.RuleID, &run.EventID, &run.Decision, &run.Reason,
			&run.Status, &run.ActionTraceID, &run.DurationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule run: %w", err)
		}
		ts, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse rule run timestamp: %w", err)
		}
		run.CreatedAt = ts
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
