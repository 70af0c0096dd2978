// Package taskrunner provides an in-memory echo implementation of the
// external TaskRunner collaborator. A real TaskRunner is an LLM-driven
// agent process supplied by the host application; this package exists so
// the gateway and action-router integration points have something concrete
// to run against in tests and local/dev boots.
package taskrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/bdobrica/ruriko-events/internal/events/actions"
	"github.com/bdobrica/ruriko-events/internal/gateway"
)

// StubTaskRunner answers every request with a canned response echoing the
// request's task text and the current UTC time. It has no side effects, so
// repeated calls for the same (session, task) pair are idempotent, though
// the timestamp in the response text differs between calls.
type StubTaskRunner struct{}

// New returns a StubTaskRunner.
func New() *StubTaskRunner {
	return &StubTaskRunner{}
}

func (s *StubTaskRunner) respond(task string) string {
	if task == "" {
		task = "(empty task)"
	}
	return fmt.Sprintf("stub task runner: completed %q at %s", task, time.Now().UTC().Format(time.RFC3339))
}

// ForGateway adapts StubTaskRunner to gateway.TaskRunner, the interface
// GatewayContextService invokes from its background execution goroutine.
func (s *StubTaskRunner) ForGateway() gateway.TaskRunner {
	return gatewayAdapter{s}
}

// ForActions adapts StubTaskRunner to actions.TaskRunner, the interface the
// run_agent and execute_plan action executors invoke.
func (s *StubTaskRunner) ForActions() actions.TaskRunner {
	return actionsAdapter{s}
}

type gatewayAdapter struct{ s *StubTaskRunner }

func (a gatewayAdapter) Run(_ context.Context, req gateway.TaskRequest) (gateway.TaskResult, error) {
	return gateway.TaskResult{FinalResponse: a.s.respond(req.Task)}, nil
}

type actionsAdapter struct{ s *StubTaskRunner }

func (a actionsAdapter) Run(_ context.Context, req actions.TaskRequest) (actions.TaskResult, error) {
	label := req.RuleID
	if label == "" {
		label = req.EventType
	}
	return actions.TaskResult{Output: a.s.respond(label)}, nil
}
