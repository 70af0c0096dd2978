package events

import (
	"context"

	"github.com/bdobrica/ruriko-events/internal/events/actions"
	"github.com/bdobrica/ruriko-events/internal/events/errs"

	"github.com/bdobrica/ruriko-events/common/trace"
)

// RouteReport summarizes the outcome of routing one decided rule against
// one event.
type RouteReport struct {
	TraceID  string
	Executed int
	Failed   int
	Errors   []string
}

// EventRouter dispatches a decided rule's actions to their registered
// executors.
type EventRouter struct {
	registry *actions.Registry
}

// NewEventRouter builds a router over the given executor registry.
func NewEventRouter(registry *actions.Registry) *EventRouter {
	return &EventRouter{registry: registry}
}

// Route executes rule's actions for event under decision. When decision is
// ModeAsk, only notify actions run; everything else is deferred until the
// pending approval is resolved.
func (r *EventRouter) Route(ctx context.Context, decision string, event *Event, rule *EventRule) RouteReport {
	report := RouteReport{TraceID: trace.GenerateID()}

	if decision != ModeSuggest && decision != ModeAuto && decision != ModeAsk {
		return report
	}

	for _, action := range rule.Actions {
		if decision == ModeAsk && action.ActionType != "notify" {
			continue
		}

		executor, ok := r.registry.Lookup(action.ActionType)
		if !ok {
			report.Failed++
			report.Errors = append(report.Errors, (&errs.ActionFailure{
				ActionType: action.ActionType,
				Err:        errs.ErrInvalidInput,
			}).Error())
			continue
		}

		err := executor.Execute(ctx, actions.Request{
			TraceID:   report.TraceID,
			EventID:   event.EventID,
			EventType: event.EventType,
			Subject:   event.Subject,
			RuleID:    rule.ID,
			Target:    action.Target,
			Params:    action.Params,
		})
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, (&errs.ActionFailure{
				ActionType: action.ActionType,
				Err:        err,
			}).Error())
			continue
		}
		report.Executed++
	}

	return report
}
