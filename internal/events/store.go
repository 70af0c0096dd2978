package events

import "context"

// Store is the narrow persistence contract the events package depends on.
// internal/store's concrete *store.Store satisfies this structurally; the
// events package never imports internal/store directly, which keeps the
// dependency one-directional (store -> events, not events -> store).
type Store interface {
	// Events
	AppendEvent(ctx context.Context, event *Event) error
	ExistsIdempotency(ctx context.Context, key string) (bool, error)
	GetEvent(ctx context.Context, eventID string) (*Event, error)
	ListEvents(ctx context.Context, eventType string, limit int) ([]Event, error)
	ListEventsAfter(ctx context.Context, eventID, eventType string, limit int) ([]Event, error)

	// Rule runs
	InsertRuleRun(ctx context.Context, run *RuleRun) error
	UpdateRuleRun(ctx context.Context, runID, status, reason, actionTraceID string, durationMs int) error
	HasRuleEventRun(ctx context.Context, ruleID, eventID string) (bool, error)
	HasRecentRuleSubjectRun(ctx context.Context, ruleID, subject string, windowSeconds int) (bool, error)
	LastRuleRunAt(ctx context.Context, ruleID string) (found bool, unixSeconds int64, err error)
	ListRuleRuns(ctx context.Context, ruleID, eventID, status string, limit int) ([]RuleRun, error)

	// Approvals
	InsertApproval(ctx context.Context, approval *ApprovalRequest) error
	GetApproval(ctx context.Context, approvalID string) (*ApprovalRequest, error)
	ListPendingApprovals(ctx context.Context) ([]ApprovalRequest, error)
	ListApprovals(ctx context.Context, status string, limit int) ([]ApprovalRequest, error)
	UpdateApproval(ctx context.Context, approvalID, status string) error

	// Metrics
	GetMetrics(ctx context.Context) (Metrics, error)
}
