package events

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/ruriko-events/internal/events/errs"
)

// RulesEngine matches active rules against incoming events, decides each
// rule's action mode, and routes the decided actions.
type RulesEngine struct {
	store     Store
	evaluator *Evaluator
	router    *EventRouter
	approvals *ApprovalManager
	budget    *AttentionBudget

	rules []EventRule
}

// NewRulesEngine wires a RulesEngine over its collaborators. The active rule
// set starts empty; callers install it with SetRules after a load or reload.
func NewRulesEngine(store Store, router *EventRouter, approvals *ApprovalManager, budget *AttentionBudget) *RulesEngine {
	return &RulesEngine{
		store:     store,
		evaluator: NewEvaluator(),
		router:    router,
		approvals: approvals,
		budget:    budget,
	}
}

// SetRules replaces the active rule set used by HandleEvent.
func (e *RulesEngine) SetRules(rules []EventRule) {
	e.rules = rules
}

// ListRules returns the currently active rule set.
func (e *RulesEngine) ListRules() []EventRule {
	return e.rules
}

// HandleEvent matches event against the active rule set and runs each
// matching rule to completion. When persistEvent is true, the event is
// appended to the store first; a duplicate idempotency key is swallowed
// (HandleEvent returns an empty result, not an error).
func (e *RulesEngine) HandleEvent(ctx context.Context, event *Event, persistEvent bool) ([]RuleExecutionResult, error) {
	return e.handleEvent(ctx, event, persistEvent, false)
}

// HandleEventBypassGuard is identical to HandleEvent except it skips the
// hasRuleEventRun short-circuit, forcing every matching rule to decide and
// run again even if it already processed this event. Used only by
// replay-force entry points.
func (e *RulesEngine) HandleEventBypassGuard(ctx context.Context, event *Event, persistEvent bool) ([]RuleExecutionResult, error) {
	return e.handleEvent(ctx, event, persistEvent, true)
}

func (e *RulesEngine) handleEvent(ctx context.Context, event *Event, persistEvent, bypassRuleEventGuard bool) ([]RuleExecutionResult, error) {
	if persistEvent {
		if err := e.store.AppendEvent(ctx, event); err != nil {
			if err == errs.ErrDuplicateEvent {
				return nil, nil
			}
			return nil, err
		}
	}

	matching := e.matchingRules(event)
	results := make([]RuleExecutionResult, 0, len(matching))
	for i := range matching {
		rule := matching[i]
		result, err := e.runRule(ctx, &rule, event, bypassRuleEventGuard)
		if err != nil {
			// A storage failure is fatal to this rule's run only; the
			// remaining rules still process the event.
			slog.Warn("rules engine: rule run failed", "rule_id", rule.ID, "event_id", event.EventID, "err", err)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// matchingRules returns the active rules whose event_type matches event,
// ordered by priority descending (load order preserved for ties).
func (e *RulesEngine) matchingRules(event *Event) []EventRule {
	out := make([]EventRule, 0, len(e.rules))
	for _, rule := range e.rules {
		if !rule.IsActive {
			continue
		}
		if rule.EventType != event.EventType && rule.EventType != "*" {
			continue
		}
		out = append(out, rule)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// runRule decides and executes a single (rule, event) pair, persisting a
// RuleRun row for it.
func (e *RulesEngine) runRule(ctx context.Context, rule *EventRule, event *Event, bypassRuleEventGuard bool) (RuleExecutionResult, error) {
	decision, reason, skip := e.decide(ctx, rule, event, bypassRuleEventGuard)

	runID := "run_" + uuid.NewString()
	run := &RuleRun{
		RunID:     runID,
		RuleID:    rule.ID,
		EventID:   event.EventID,
		Decision:  decision,
		Reason:    reason,
		Status:    RunStatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.InsertRuleRun(ctx, run); err != nil {
		return RuleExecutionResult{}, err
	}

	result := RuleExecutionResult{
		RunID:    runID,
		RuleID:   rule.ID,
		EventID:  event.EventID,
		Decision: decision,
		Reason:   reason,
	}

	if skip || decision == ModeSkip {
		if err := e.store.UpdateRuleRun(ctx, runID, RunStatusSkipped, reason, "", 0); err != nil {
			return result, err
		}
		result.Status = RunStatusSkipped
		return result, nil
	}

	start := time.Now()

	if decision == ModeAsk {
		approval, err := e.approvals.Request(ctx, rule.ID, event.EventID, rule.RiskLevel, map[string]any{
			"event_type": event.EventType,
			"subject":    event.Subject,
		})
		if err != nil {
			return result, err
		}
		result.ApprovalID = approval.ApprovalID
	}

	report := e.router.Route(ctx, decision, event, rule)
	result.Errors = report.Errors
	durationMs := int(time.Since(start).Milliseconds())

	status := e.terminalStatus(decision, result.ApprovalID, report)
	finalReason := reason
	if len(report.Errors) > 0 {
		finalReason = fmt.Sprintf("%s;errors=%d", reason, len(report.Errors))
	}

	if err := e.store.UpdateRuleRun(ctx, runID, status, finalReason, report.TraceID, durationMs); err != nil {
		return result, err
	}
	result.Status = status
	result.Reason = finalReason
	return result, nil
}

// terminalStatus computes a RuleRun's final status from the route report
// per the status-priority order: partial/failed take precedence, then an
// ask decision that produced a pending approval, otherwise completed.
func (e *RulesEngine) terminalStatus(decision, approvalID string, report RouteReport) string {
	switch {
	case report.Failed > 0 && report.Executed > 0:
		return RunStatusPartial
	case report.Failed > 0:
		return RunStatusFailed
	case decision == ModeAsk && approvalID != "":
		return RunStatusAwaitingApproval
	default:
		return RunStatusCompleted
	}
}

// decide applies the full skip/escalation ladder for one (rule, event)
// pair. skip is true when the rule should not run at all; in that case
// decision is always ModeSkip.
func (e *RulesEngine) decide(ctx context.Context, rule *EventRule, event *Event, bypassRuleEventGuard bool) (decision string, reason string, skip bool) {
	if !e.evaluator.Evaluate(rule.Conditions, event) {
		return ModeSkip, "condition_not_met", true
	}

	if !bypassRuleEventGuard {
		if already, err := e.store.HasRuleEventRun(ctx, rule.ID, event.EventID); err == nil && already {
			return ModeSkip, "rule_event_already_processed", true
		}
	}

	if rule.DedupeWindowSeconds > 0 && event.Subject != "" {
		if hit, err := e.store.HasRecentRuleSubjectRun(ctx, rule.ID, event.Subject, rule.DedupeWindowSeconds); err == nil && hit {
			return ModeSkip, "dedupe_window_hit", true
		}
	}

	if rule.CooldownSeconds > 0 {
		if found, lastRunAt, err := e.store.LastRuleRunAt(ctx, rule.ID); err == nil && found {
			elapsed := time.Now().UTC().Unix() - lastRunAt
			remaining := int64(rule.CooldownSeconds) - elapsed
			if remaining > 0 {
				return ModeSkip, fmt.Sprintf("cooldown_active:%ds", remaining), true
			}
		}
	}

	if rule.AttentionBudgetPerDay > 0 {
		scope := rule.ID + ":" + scopeSubject(event.Subject)
		if !e.budget.Consume(scope, rule.AttentionBudgetPerDay) {
			return ModeSkip, "attention_budget_exceeded", true
		}
	}

	decision = rule.ActionMode
	switch decision {
	case ModeSkip, ModeAsk, ModeSuggest, ModeAuto:
	default:
		decision = ModeSuggest
	}
	reason = "matched"

	if rule.RiskLevel == RiskHigh && decision == ModeAuto {
		decision = ModeAsk
		reason = "high_risk_requires_approval"
	}

	if strings.HasPrefix(event.EventType, "approval.") && decision == ModeAsk {
		decision = ModeSuggest
		reason = "approval_event_cannot_require_approval_again"
	}

	return decision, reason, false
}

func scopeSubject(subject string) string {
	if subject == "" {
		return "_"
	}
	return subject
}
