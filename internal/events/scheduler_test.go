package events

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestParseScheduleToIntervalEvery(t *testing.T) {
	d, err := ParseScheduleToInterval("@every:30")
	if err != nil {
		t.Fatalf("ParseScheduleToInterval: %v", err)
	}
	if d.Seconds() != 30 {
		t.Fatalf("got %v, want 30s", d)
	}
}

func TestParseScheduleToIntervalCronMinuteStep(t *testing.T) {
	d, err := ParseScheduleToInterval("*/5 * * * *")
	if err != nil {
		t.Fatalf("ParseScheduleToInterval: %v", err)
	}
	if d.Minutes() != 5 {
		t.Fatalf("got %v, want 5m", d)
	}
}

func TestParseScheduleToIntervalRejectsFullCron(t *testing.T) {
	cases := []string{
		"0 9 * * 1-5",
		"*/5 1 * * *",
		"not-a-schedule",
		"@every:0",
		"@every:-1",
	}
	for _, schedule := range cases {
		if _, err := ParseScheduleToInterval(schedule); err == nil {
			t.Errorf("ParseScheduleToInterval(%q): expected error, got nil", schedule)
		}
	}
}

func TestSchedulerStopWithNoJobsIsSafe(t *testing.T) {
	s := NewTriggerScheduler(func(*Event) ([]RuleExecutionResult, error) { return nil, nil })
	s.Stop()
}

func TestStartHeartbeatRejectsNonPositiveInterval(t *testing.T) {
	s := NewTriggerScheduler(func(*Event) ([]RuleExecutionResult, error) { return nil, nil })
	if s.StartHeartbeat(0, "", "test", "", nil) {
		t.Fatal("StartHeartbeat(0) should return false")
	}
	s.Stop()
}

func TestStartHeartbeatSupportsSubSecondInterval(t *testing.T) {
	var ticks int64
	s := NewTriggerScheduler(func(*Event) ([]RuleExecutionResult, error) {
		atomic.AddInt64(&ticks, 1)
		return nil, nil
	})
	if !s.StartHeartbeat(0.02, "", "test", "", nil) {
		t.Fatal("StartHeartbeat(0.02) should return true")
	}
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	if atomic.LoadInt64(&ticks) < 2 {
		t.Fatalf("expected at least 2 ticks within 100ms at a 20ms cadence, got %d", ticks)
	}
}
