package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/ruriko-events/internal/audit"
	"github.com/bdobrica/ruriko-events/internal/events/errs"
)

// ApprovalManager is the human-in-the-loop gate a rule escalates to when
// its decision is ModeAsk. Resolution is the only path that unblocks
// actions deferred by the router.
type ApprovalManager struct {
	store    Store
	bus      *EventBus
	notifier audit.Notifier
}

// NewApprovalManager wires an ApprovalManager over store, publishing
// lifecycle events on bus. Audit notification is a no-op until
// SetNotifier is called.
func NewApprovalManager(store Store, bus *EventBus) *ApprovalManager {
	return &ApprovalManager{store: store, bus: bus, notifier: audit.Noop{}}
}

// SetNotifier wires an audit trail for approval lifecycle events. Callers
// typically pass a MatrixNotifier pointed at an ops room.
func (m *ApprovalManager) SetNotifier(notifier audit.Notifier) {
	if notifier == nil {
		notifier = audit.Noop{}
	}
	m.notifier = notifier
}

// Request creates a pending ApprovalRequest and emits approval.requested.
func (m *ApprovalManager) Request(ctx context.Context, ruleID, eventID, riskLevel string, reqContext map[string]any) (*ApprovalRequest, error) {
	if reqContext == nil {
		reqContext = map[string]any{}
	}
	approval := &ApprovalRequest{
		ApprovalID: "apr_" + uuid.NewString(),
		RuleID:     ruleID,
		EventID:    eventID,
		RiskLevel:  riskLevel,
		Context:    reqContext,
		Status:     ApprovalPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.store.InsertApproval(ctx, approval); err != nil {
		return nil, err
	}

	m.publish(ctx, "approval.requested", map[string]any{
		"approval_id": approval.ApprovalID,
		"rule_id":     ruleID,
		"event_id":    eventID,
		"risk_level":  riskLevel,
	})
	m.notifier.Notify(ctx, audit.Event{
		Kind:    audit.KindApprovalRequested,
		Target:  approval.ApprovalID,
		Message: fmt.Sprintf("approval %s requested by rule %s (risk=%s)", approval.ApprovalID, ruleID, riskLevel),
	})
	return approval, nil
}

// ListPending returns every approval still awaiting a decision.
func (m *ApprovalManager) ListPending(ctx context.Context) ([]ApprovalRequest, error) {
	return m.store.ListPendingApprovals(ctx)
}

// Get returns a single approval by id.
func (m *ApprovalManager) Get(ctx context.Context, approvalID string) (*ApprovalRequest, error) {
	return m.store.GetApproval(ctx, approvalID)
}

// ResolveResult is Resolve's outcome.
type ResolveResult struct {
	Resolved bool
	Status   string
}

// Resolve applies decision ("approved" or "rejected") to approvalID. If the
// approval is already terminal, it returns {Resolved: false, Status:
// current} without emitting anything — resolution is idempotent.
func (m *ApprovalManager) Resolve(ctx context.Context, approvalID, decision string) (ResolveResult, error) {
	if decision != ApprovalApproved && decision != ApprovalRejected {
		return ResolveResult{}, errs.ErrInvalidInput
	}

	approval, err := m.store.GetApproval(ctx, approvalID)
	if err != nil {
		return ResolveResult{}, err
	}
	if approval.IsTerminal() {
		return ResolveResult{Resolved: false, Status: approval.Status}, nil
	}

	if err := m.store.UpdateApproval(ctx, approvalID, decision); err != nil {
		return ResolveResult{}, err
	}

	eventType := "approval.denied"
	if decision == ApprovalApproved {
		eventType = "approval.granted"
	}
	m.publish(ctx, eventType, map[string]any{
		"approval_id": approval.ApprovalID,
		"rule_id":     approval.RuleID,
		"event_id":    approval.EventID,
	})

	auditKind := audit.KindApprovalDenied
	if decision == ApprovalApproved {
		auditKind = audit.KindApprovalGranted
	}
	m.notifier.Notify(ctx, audit.Event{
		Kind:    auditKind,
		Target:  approval.ApprovalID,
		Message: fmt.Sprintf("approval %s %s", approval.ApprovalID, decision),
	})

	return ResolveResult{Resolved: true, Status: decision}, nil
}

func (m *ApprovalManager) publish(ctx context.Context, eventType string, payload map[string]any) {
	_ = ctx
	event := &Event{
		EventID:        "evt_" + uuid.NewString(),
		EventType:      eventType,
		Source:         "approval_manager",
		Payload:        payload,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: eventType + ":" + payload["approval_id"].(string),
	}
	// Best-effort: approval lifecycle events are persisted and routed
	// through the same bus as any other event, but a publish failure must
	// not roll back the already-committed status change.
	_, _ = m.bus.Emit(event)
}
