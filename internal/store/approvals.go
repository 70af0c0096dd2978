package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bdobrica/ruriko-events/internal/events"
	"github.com/bdobrica/ruriko-events/internal/events/errs"
)

// InsertApproval persists a new pending ApprovalRequest.
func (s *Store) InsertApproval(ctx context.Context, approval *events.ApprovalRequest) error {
	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = time.Now().UTC()
	}
	contextJSON, err := json.Marshal(approval.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal approval context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approvals (approval_id, rule_id, event_id, risk_level, context, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, approval.ApprovalID, approval.RuleID, approval.EventID, approval.RiskLevel,
		string(contextJSON), approval.Status, formatTime(approval.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert approval: %w", err)
	}
	return nil
}

// GetApproval retrieves a single approval by id.
func (s *Store) GetApproval(ctx context.Context, approvalID string) (*events.ApprovalRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT approval_id, rule_id, event_id, risk_level, context, status, created_at, resolved_at
		FROM approvals WHERE approval_id = ?
	`, approvalID)
	approval, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return approval, nil
}

// ListPendingApprovals returns every approval still in status pending,
// newest first.
func (s *Store) ListPendingApprovals(ctx context.Context) ([]events.ApprovalRequest, error) {
	return s.listApprovalsWhere(ctx, "status = ?", []any{events.ApprovalPending}, 0)
}

// ListApprovals filters by optional status; limit <= 0 means unlimited.
// Newest first.
func (s *Store) ListApprovals(ctx context.Context, status string, limit int) ([]events.ApprovalRequest, error) {
	if status == "" {
		return s.listApprovalsWhere(ctx, "1=1", nil, limit)
	}
	return s.listApprovalsWhere(ctx, "status = ?", []any{status}, limit)
}

func (s *Store) listApprovalsWhere(ctx context.Context, where string, args []any, limit int) ([]events.ApprovalRequest, error) {
	query := `
		SELECT approval_id, rule_id, event_id, risk_level, context, status, created_at, resolved_at
		FROM approvals WHERE ` + where + ` ORDER BY created_at DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var out []events.ApprovalRequest
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		out = append(out, *approval)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateApproval sets approvalID's status and stamps resolved_at.
func (s *Store) UpdateApproval(ctx context.Context, approvalID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET status = ?, resolved_at = ? WHERE approval_id = ?
	`, status, formatTime(time.Now()), approvalID)
	if err != nil {
		return fmt.Errorf("failed to update approval: %w", err)
	}
	return nil
}

func scanApproval(row rowScanner) (*events.ApprovalRequest, error) {
	var approval events.ApprovalRequest
	var contextJSON string
	var createdAt string
	var resolvedAt sql.NullString

	err := row.Scan(&approval.ApprovalID, &approval.RuleID, &approval.EventID, &approval.RiskLevel,
		&contextJSON, &approval.Status, &createdAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(contextJSON), &approval.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal approval context: %w", err)
	}

	ts, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse approval created_at: %w", err)
	}
	approval.CreatedAt = ts

	if resolvedAt.Valid {
		resolved, err := parseTime(resolvedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse approval resolved_at: %w", err)
		}
		approval.ResolvedAt = &resolved
	}

	return &approval, nil
}
