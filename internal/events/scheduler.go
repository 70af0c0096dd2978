package events

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CronJob describes one scheduled synthetic event emission.
type CronJob struct {
	Name      string
	Schedule  string
	EventType string
	Source    string
	Subject   string
	Payload   map[string]any
}

// TriggerScheduler runs a heartbeat and a set of cron-like jobs, emitting
// synthetic events through Emit. Timing is drift-resistant: each tick's
// next fire time is computed as the previous target plus the interval, not
// as now-plus-interval, so a slow tick does not push every later tick back.
type TriggerScheduler struct {
	Emit func(event *Event) ([]RuleExecutionResult, error)

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTriggerScheduler wires a scheduler that publishes through emit.
func NewTriggerScheduler(emit func(event *Event) ([]RuleExecutionResult, error)) *TriggerScheduler {
	return &TriggerScheduler{Emit: emit}
}

// ensureContext lazily creates the scheduler's shared cancellation
// context so every job started across separate StartHeartbeat /
// StartCronJobs calls stops together on Stop.
func (s *TriggerScheduler) ensureContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	return s.ctx
}

// StartHeartbeat starts a repeating task emitting a synthetic event every
// intervalSeconds, which may be fractional (e.g. 0.02 for a 20ms cadence).
// Returns false without starting anything if intervalSeconds <= 0.
func (s *TriggerScheduler) StartHeartbeat(intervalSeconds float64, eventType, source, subject string, payload map[string]any) bool {
	if intervalSeconds <= 0 {
		return false
	}
	if eventType == "" {
		eventType = "health.heartbeat.tick"
	}
	s.startLoop("heartbeat", time.Duration(intervalSeconds*float64(time.Second)), func() *Event {
		return s.buildEvent(eventType, source, subject, payload)
	})
	return true
}

// StartCronJobs starts one periodic task per job. Jobs whose schedule
// cannot be parsed are skipped with a WARN log line.
func (s *TriggerScheduler) StartCronJobs(jobs []CronJob) {
	for _, job := range jobs {
		interval, err := ParseScheduleToInterval(job.Schedule)
		if err != nil {
			slog.Warn("scheduler: skipping job with unparseable schedule", "job", job.Name, "schedule", job.Schedule, "err", err)
			continue
		}
		job := job
		eventType := job.EventType
		if eventType == "" {
			eventType = "trigger." + job.Name
		}
		s.startLoop(job.Name, interval, func() *Event {
			return s.buildEvent(eventType, job.Source, job.Subject, job.Payload)
		})
	}
}

func (s *TriggerScheduler) buildEvent(eventType, source, subject string, payload map[string]any) *Event {
	if payload == nil {
		payload = map[string]any{}
	}
	now := time.Now().UTC()
	return &Event{
		EventID:        "evt_" + uuid.NewString(),
		EventType:      eventType,
		Source:         source,
		Subject:        subject,
		Payload:        payload,
		Timestamp:      now,
		IdempotencyKey: eventType + ":" + now.Format(time.RFC3339Nano),
	}
}

// startLoop runs build+emit every interval using a drift-resistant timer:
// the next target is always the previous target plus the interval, so
// ticks stay aligned to the original schedule even if one run is slow.
func (s *TriggerScheduler) startLoop(name string, interval time.Duration, build func() *Event) {
	ctx := s.ensureContext()
	target := time.Now().Add(interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(interval)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				target = target.Add(interval)
				if _, err := s.Emit(build()); err != nil {
					slog.Warn("scheduler: emit failed", "job", name, "err", err)
				}
				delay := time.Until(target)
				if delay < 0 {
					delay = 0
				}
				timer.Reset(delay)
			}
		}
	}()
}

// Stop cancels every scheduled job and waits for their goroutines to exit.
func (s *TriggerScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// ParseScheduleToInterval parses the narrow schedule grammar this
// scheduler supports: "@every:<seconds>" (float) and "*/N * * * *" (every
// N minutes, the only cron subset implemented).
func ParseScheduleToInterval(schedule string) (time.Duration, error) {
	schedule = strings.TrimSpace(schedule)
	if strings.HasPrefix(schedule, "@every:") {
		raw := strings.TrimPrefix(schedule, "@every:")
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("scheduler: invalid @every schedule %q: %w", schedule, err)
		}
		if seconds <= 0 {
			return 0, fmt.Errorf("scheduler: @every schedule must be positive, got %v", seconds)
		}
		return time.Duration(seconds * float64(time.Second)), nil
	}

	fields := strings.Fields(schedule)
	if len(fields) != 5 {
		return 0, fmt.Errorf("scheduler: unsupported schedule %q", schedule)
	}
	minuteField := fields[0]
	if fields[1] != "*" || fields[2] != "*" || fields[3] != "*" || fields[4] != "*" {
		return 0, fmt.Errorf("scheduler: only minute-step cron (*/N * * * *) is supported, got %q", schedule)
	}
	if !strings.HasPrefix(minuteField, "*/") {
		return 0, fmt.Errorf("scheduler: only */N minute steps are supported, got %q", schedule)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(minuteField, "*/"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("scheduler: invalid minute step in %q", schedule)
	}
	return time.Duration(n) * time.Minute, nil
}
