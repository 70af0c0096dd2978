package events

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// EventEngine is the composition root wiring the store, rule loader,
// rules engine, approval manager, bus, and scheduler together. It is the
// single entry point callers (the HTTP API, the scheduler, the gateway)
// use to emit events and inspect engine state.
type EventEngine struct {
	store      Store
	loader     *RuleLoader
	rulesPath  string
	rulesMu    sync.Mutex
	engine     *RulesEngine
	approvals  *ApprovalManager
	bus        *EventBus
	scheduler  *TriggerScheduler
	lastMtimes map[string]time.Time

	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
}

// NewEventEngine wires an EventEngine reading rule files from rulesPath.
func NewEventEngine(store Store, rulesPath string, rulesEngine *RulesEngine, approvals *ApprovalManager, bus *EventBus) *EventEngine {
	eng := &EventEngine{
		store:     store,
		loader:    NewRuleLoader(),
		rulesPath: rulesPath,
		engine:    rulesEngine,
		approvals: approvals,
		bus:       bus,
	}
	eng.scheduler = NewTriggerScheduler(func(event *Event) ([]RuleExecutionResult, error) {
		return eng.Emit(context.Background(), event)
	})
	bus.Subscribe(func(event *Event) ([]RuleExecutionResult, error) {
		return eng.engine.HandleEvent(context.Background(), event, true)
	})
	return eng
}

// Emit reloads rules if the rule directory changed, then publishes event
// on the bus.
func (e *EventEngine) Emit(ctx context.Context, event *Event) ([]RuleExecutionResult, error) {
	_ = e.ReloadRulesIfChanged()
	_ = ctx
	return e.bus.Emit(event)
}

// ReloadRules loads rulesPath unconditionally and swaps the active set.
func (e *EventEngine) ReloadRules() error {
	rules, err := e.loader.LoadRules(e.rulesPath)
	if err != nil {
		return err
	}
	e.rulesMu.Lock()
	e.engine.SetRules(rules)
	e.rulesMu.Unlock()
	e.captureRuleFilesMtime()
	return nil
}

// ReloadRulesIfChanged reloads only if any rule file's modification time
// changed since the last snapshot.
func (e *EventEngine) ReloadRulesIfChanged() error {
	if !e.rulesChanged() {
		return nil
	}
	return e.ReloadRules()
}

func (e *EventEngine) rulesChanged() bool {
	snapshot := e.snapshotMtimes()
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	if e.lastMtimes == nil {
		return true
	}
	if len(snapshot) != len(e.lastMtimes) {
		return true
	}
	for file, mtime := range snapshot {
		prev, ok := e.lastMtimes[file]
		if !ok || !prev.Equal(mtime) {
			return true
		}
	}
	return false
}

func (e *EventEngine) captureRuleFilesMtime() {
	snapshot := e.snapshotMtimes()
	e.rulesMu.Lock()
	e.lastMtimes = snapshot
	e.rulesMu.Unlock()
}

func (e *EventEngine) snapshotMtimes() map[string]time.Time {
	files, err := e.loader.ListRuleFiles(e.rulesPath)
	if err != nil {
		slog.Warn("engine: failed to list rule files", "path", e.rulesPath, "err", err)
		return map[string]time.Time{}
	}
	out := make(map[string]time.Time, len(files))
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		out[file] = info.ModTime()
	}
	return out
}

// StartRuleWatch begins polling the rule directory every pollInterval for
// changes, reloading on any difference. Stop via StopRuleWatch.
func (e *EventEngine) StartRuleWatch(pollInterval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	e.watchCancel = cancel
	e.watchWG.Add(1)
	go func() {
		defer e.watchWG.Done()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := e.ReloadRulesIfChanged(); err != nil {
					slog.Warn("engine: rule watch reload failed", "err", err)
				}
			}
		}
	}()
}

// StopRuleWatch cancels the background rule-watch loop, if running.
func (e *EventEngine) StopRuleWatch() {
	if e.watchCancel != nil {
		e.watchCancel()
	}
	e.watchWG.Wait()
}

// SetRules replaces the active rule set directly, bypassing the loader.
func (e *EventEngine) SetRules(rules []EventRule) {
	e.rulesMu.Lock()
	e.engine.SetRules(rules)
	e.rulesMu.Unlock()
}

// AddRule appends a single rule to the active set.
func (e *EventEngine) AddRule(rule EventRule) {
	e.rulesMu.Lock()
	e.engine.SetRules(append(e.engine.ListRules(), rule))
	e.rulesMu.Unlock()
}

// ListRules returns the currently active rule set.
func (e *EventEngine) ListRules() []EventRule {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	return e.engine.ListRules()
}

// ListEvents delegates to the store, newest first.
func (e *EventEngine) ListEvents(ctx context.Context, eventType string, limit int) ([]Event, error) {
	return e.store.ListEvents(ctx, eventType, limit)
}

// ListEventsAfter delegates to the store for cursor pagination.
func (e *EventEngine) ListEventsAfter(ctx context.Context, eventID, eventType string, limit int) ([]Event, error) {
	return e.store.ListEventsAfter(ctx, eventID, eventType, limit)
}

// ExistsIdempotency reports whether an event with the given idempotency
// key has already been persisted. Gateways use it to drop replayed
// webhook deliveries before spawning a task run.
func (e *EventEngine) ExistsIdempotency(ctx context.Context, key string) (bool, error) {
	return e.store.ExistsIdempotency(ctx, key)
}

// ListPendingApprovals delegates to the approval manager.
func (e *EventEngine) ListPendingApprovals(ctx context.Context) ([]ApprovalRequest, error) {
	return e.approvals.ListPending(ctx)
}

// ListApprovals delegates to the store.
func (e *EventEngine) ListApprovals(ctx context.Context, status string, limit int) ([]ApprovalRequest, error) {
	return e.store.ListApprovals(ctx, status, limit)
}

// ListRuleRuns delegates to the store.
func (e *EventEngine) ListRuleRuns(ctx context.Context, ruleID, eventID, status string, limit int) ([]RuleRun, error) {
	return e.store.ListRuleRuns(ctx, ruleID, eventID, status, limit)
}

// Metrics returns the store's current counters.
func (e *EventEngine) Metrics(ctx context.Context) (Metrics, error) {
	return e.store.GetMetrics(ctx)
}

// ResolveApproval delegates to the approval manager.
func (e *EventEngine) ResolveApproval(ctx context.Context, approvalID, decision string) (ResolveResult, error) {
	return e.approvals.Resolve(ctx, approvalID, decision)
}

// ReplayEvent re-runs a previously persisted event through the rules
// engine without re-appending it. The existing rule-event-run dedup check
// makes this a no-op for rules that already ran against the event.
func (e *EventEngine) ReplayEvent(ctx context.Context, eventID string) ([]RuleExecutionResult, error) {
	event, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return e.engine.HandleEvent(ctx, event, false)
}

// ReplayEventForce is identical to ReplayEvent but bypasses the
// hasRuleEventRun guard, forcing every matching rule to decide and run
// again even though it already produced a run for this event.
func (e *EventEngine) ReplayEventForce(ctx context.Context, eventID string) ([]RuleExecutionResult, error) {
	event, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return e.engine.HandleEventBypassGuard(ctx, event, false)
}

// ReplayByType re-runs every stored event of eventType emitted at or after
// since, returning the count of events replayed.
func (e *EventEngine) ReplayByType(ctx context.Context, eventType string, since time.Time) (int, error) {
	events, err := e.store.ListEvents(ctx, eventType, 0)
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range events {
		event := events[i]
		if event.Timestamp.Before(since) {
			continue
		}
		if _, err := e.engine.HandleEvent(ctx, &event, false); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// StartHeartbeat starts the engine's periodic heartbeat emission.
// intervalSeconds may be fractional.
func (e *EventEngine) StartHeartbeat(intervalSeconds float64, source string) bool {
	return e.scheduler.StartHeartbeat(intervalSeconds, "health.heartbeat.tick", source, "", nil)
}

// StartCronJobs starts the engine's configured cron-like trigger jobs.
func (e *EventEngine) StartCronJobs(jobs []CronJob) {
	e.scheduler.StartCronJobs(jobs)
}

// StopTriggers cancels the heartbeat and all cron jobs.
func (e *EventEngine) StopTriggers() {
	e.scheduler.Stop()
}
