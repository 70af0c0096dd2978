// Package actions implements the closed set of action executors an
// EventRule may dispatch to: notify, log_only, call_webhook, run_agent, and
// execute_plan.
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Request is everything an executor needs to act on one rule action.
type Request struct {
	TraceID   string
	EventID   string
	EventType string
	Subject   string
	RuleID    string
	Target    string
	Params    map[string]any
}

// Executor is the single-method contract every action tag implements.
type Executor interface {
	Execute(ctx context.Context, req Request) error
}

// NotificationSink is the narrow interface the notify executor forwards
// to. The built-in default is a mautrix-backed sink; tests and
// unconfigured deployments use a no-op sink.
type NotificationSink interface {
	SendNotice(ctx context.Context, target, message string) error
}

// Registry maps an action_type tag to its Executor. Unknown tags are a
// router-level error, not a panic.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry builds the default registry: notify (backed by sink),
// log_only, call_webhook, run_agent and execute_plan (both backed by
// runner).
func NewRegistry(sink NotificationSink, runner TaskRunner) *Registry {
	r := &Registry{executors: make(map[string]Executor)}
	r.Register("notify", &NotifyExecutor{Sink: sink})
	r.Register("log_only", &LogOnlyExecutor{})
	r.Register("call_webhook", NewCallWebhookExecutor())
	r.Register("run_agent", &RunAgentExecutor{Runner: runner})
	r.Register("execute_plan", &ExecutePlanExecutor{Runner: runner})
	return r
}

// Register adds or overrides the executor for tag.
func (r *Registry) Register(tag string, executor Executor) {
	r.executors[tag] = executor
}

// Lookup returns the executor registered for tag.
func (r *Registry) Lookup(tag string) (Executor, bool) {
	e, ok := r.executors[tag]
	return e, ok
}

// NotifyExecutor forwards a human-readable summary to a NotificationSink.
type NotifyExecutor struct {
	Sink NotificationSink
}

func (e *NotifyExecutor) Execute(ctx context.Context, req Request) error {
	sink := e.Sink
	if sink == nil {
		sink = NoopSink{}
	}
	message := fmt.Sprintf("[%s] rule %s matched event %s (%s)", req.TraceID, req.RuleID, req.EventID, req.EventType)
	if req.Subject != "" {
		message += " subject=" + req.Subject
	}
	return sink.SendNotice(ctx, req.Target, message)
}

// NoopSink discards every notification; it is the default when no sink is
// configured.
type NoopSink struct{}

func (NoopSink) SendNotice(context.Context, string, string) error { return nil }

// LogOnlyExecutor writes a structured slog line and nothing else.
type LogOnlyExecutor struct{}

func (LogOnlyExecutor) Execute(_ context.Context, req Request) error {
	slog.Info("rule action: log_only",
		"trace_id", req.TraceID,
		"rule_id", req.RuleID,
		"event_id", req.EventID,
		"event_type", req.EventType,
		"subject", req.Subject,
	)
	return nil
}

// CallWebhookExecutor POSTs the action payload to action.target. There is
// no retry or circuit breaker: a single non-2xx response is a failure.
type CallWebhookExecutor struct {
	Client *http.Client
}

// NewCallWebhookExecutor returns an executor with a 10s request timeout.
func NewCallWebhookExecutor() *CallWebhookExecutor {
	return &CallWebhookExecutor{Client: &http.Client{Timeout: 10 * time.Second}}
}

func (e *CallWebhookExecutor) Execute(ctx context.Context, req Request) error {
	if req.Target == "" {
		return fmt.Errorf("call_webhook: rule %s has no target URL", req.RuleID)
	}

	body := map[string]any{
		"trace_id":   req.TraceID,
		"event_id":   req.EventID,
		"event_type": req.EventType,
		"subject":    req.Subject,
		"rule_id":    req.RuleID,
		"params":     req.Params,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("call_webhook: marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("call_webhook: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Trace-Id", req.TraceID)

	resp, err := e.Client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call_webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("call_webhook: target %s returned status %d", req.Target, resp.StatusCode)
	}
	return nil
}

// TaskRunner is the external collaborator run_agent and execute_plan hand
// work to. Production task execution is out of scope; only StubTaskRunner
// ships a concrete implementation.
type TaskRunner interface {
	Run(ctx context.Context, req TaskRequest) (TaskResult, error)
}

// TaskRequest describes one unit of delegated work.
type TaskRequest struct {
	TraceID   string
	EventID   string
	EventType string
	RuleID    string
	Params    map[string]any
}

// TaskResult is the runner's outcome.
type TaskResult struct {
	Output string
}

// RunAgentExecutor hands the action off to a TaskRunner.
type RunAgentExecutor struct {
	Runner TaskRunner
}

func (e *RunAgentExecutor) Execute(ctx context.Context, req Request) error {
	if e.Runner == nil {
		return fmt.Errorf("run_agent: no task runner configured")
	}
	_, err := e.Runner.Run(ctx, TaskRequest{
		TraceID:   req.TraceID,
		EventID:   req.EventID,
		EventType: req.EventType,
		RuleID:    req.RuleID,
		Params:    req.Params,
	})
	return err
}

// ExecutePlanExecutor is identical to RunAgentExecutor in this
// implementation: no plan-building machinery exists, so a "plan" is just
// another params entry forwarded to the same TaskRunner.
type ExecutePlanExecutor struct {
	Runner TaskRunner
}

func (e *ExecutePlanExecutor) Execute(ctx context.Context, req Request) error {
	if e.Runner == nil {
		return fmt.Errorf("execute_plan: no task runner configured")
	}
	params := req.Params
	if params == nil {
		params = map[string]any{}
	}
	if _, ok := params["plan"]; !ok {
		params["plan"] = req.Target
	}
	_, err := e.Runner.Run(ctx, TaskRequest{
		TraceID:   req.TraceID,
		EventID:   req.EventID,
		EventType: req.EventType,
		RuleID:    req.RuleID,
		Params:    params,
	})
	return err
}
