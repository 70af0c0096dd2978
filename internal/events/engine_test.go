package events

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestEventEngine(t *testing.T, rulesPath string) (*EventEngine, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	bus := NewEventBus()
	approvals := NewApprovalManager(store, bus)
	registry := newTestRegistry()
	router := NewEventRouter(registry)
	rulesEngine := NewRulesEngine(store, router, approvals, NewAttentionBudget())
	return NewEventEngine(store, rulesPath, rulesEngine, approvals, bus), store
}

func TestEventEngineEmitRunsMatchingRules(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "default.json"), `[{"id": "r1", "name": "r1", "event_type": "x", "action_mode": "auto"}]`)

	eng, _ := newTestEventEngine(t, dir)
	if err := eng.ReloadRules(); err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}

	results, err := eng.Emit(context.Background(), &Event{EventID: "evt_1", EventType: "x"})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(results) != 1 || results[0].RuleID != "r1" {
		t.Fatalf("expected r1 to match, got %+v", results)
	}
}

func TestEventEngineReloadRulesIfChangedPicksUpEdits(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "default.json")
	writeFile(t, file, `[{"id": "r1", "name": "r1", "event_type": "x", "action_mode": "auto"}]`)

	eng, _ := newTestEventEngine(t, dir)
	if err := eng.ReloadRules(); err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}
	if len(eng.ListRules()) != 1 {
		t.Fatalf("expected 1 rule after initial load, got %d", len(eng.ListRules()))
	}

	// Bump the mtime forward so the poll-based change detector is guaranteed
	// to observe a difference regardless of filesystem timestamp resolution.
	writeFile(t, file, `[{"id": "r1", "name": "r1", "event_type": "x", "action_mode": "auto"}, {"id": "r2", "name": "r2", "event_type": "y", "action_mode": "auto"}]`)
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(file, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	if err := eng.ReloadRulesIfChanged(); err != nil {
		t.Fatalf("ReloadRulesIfChanged: %v", err)
	}
	if len(eng.ListRules()) != 2 {
		t.Fatalf("expected reload to pick up the new rule, got %d rules", len(eng.ListRules()))
	}
}

func TestEventEngineReplayEventVsReplayEventForce(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "default.json"), `[{"id": "r1", "name": "r1", "event_type": "x", "action_mode": "auto"}]`)

	eng, store := newTestEventEngine(t, dir)
	if err := eng.ReloadRules(); err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}

	event := &Event{EventID: "evt_1", EventType: "x", Timestamp: time.Now().UTC()}
	if err := store.AppendEvent(context.Background(), event); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if _, err := eng.engine.HandleEvent(context.Background(), event, false); err != nil {
		t.Fatalf("initial HandleEvent: %v", err)
	}

	results, err := eng.ReplayEvent(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("ReplayEvent: %v", err)
	}
	if len(results) != 1 || results[0].Status != RunStatusSkipped {
		t.Fatalf("ReplayEvent should be a no-op for an already-run rule, got %+v", results)
	}

	forced, err := eng.ReplayEventForce(context.Background(), "evt_1")
	if err != nil {
		t.Fatalf("ReplayEventForce: %v", err)
	}
	if len(forced) != 1 || forced[0].Status == RunStatusSkipped {
		t.Fatalf("ReplayEventForce should bypass the guard and actually run, got %+v", forced)
	}
}

func TestEventEngineReplayEventUnknownIDErrors(t *testing.T) {
	dir := t.TempDir()
	eng, _ := newTestEventEngine(t, dir)
	if _, err := eng.ReplayEvent(context.Background(), "evt_missing"); err == nil {
		t.Fatal("expected an error replaying an unknown event id")
	}
}

func TestEventEngineStartHeartbeatAndStop(t *testing.T) {
	dir := t.TempDir()
	eng, _ := newTestEventEngine(t, dir)
	if !eng.StartHeartbeat(60, "test") {
		t.Fatal("StartHeartbeat(60) should succeed")
	}
	eng.StopTriggers()
}

func TestEventEngineRuleWatchStartStop(t *testing.T) {
	dir := t.TempDir()
	eng, _ := newTestEventEngine(t, dir)
	eng.StartRuleWatch(10 * time.Millisecond)
	eng.StopRuleWatch()
}
