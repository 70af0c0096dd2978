package events

import "testing"

func TestEvaluateEmptyConditionsMatchAll(t *testing.T) {
	e := NewEvaluator()
	event := &Event{EventType: "tool.exec.failed"}
	if !e.Evaluate(nil, event) {
		t.Fatal("nil conditions should match")
	}
	if !e.Evaluate(map[string]any{}, event) {
		t.Fatal("empty conditions should match")
	}
}

func TestEvaluateLeafOps(t *testing.T) {
	event := &Event{
		EventType: "tool.exec.failed",
		Subject:   "job-42",
		Payload:   map[string]any{"exit_code": 2.0, "reason": "timeout waiting for lock"},
	}
	e := NewEvaluator()

	cases := []struct {
		name string
		cond map[string]any
		want bool
	}{
		{"eq match", map[string]any{"field": "event_type", "op": "eq", "value": "tool.exec.failed"}, true},
		{"eq mismatch", map[string]any{"field": "event_type", "op": "eq", "value": "other"}, false},
		{"ne", map[string]any{"field": "event_type", "op": "ne", "value": "other"}, true},
		{"gt true", map[string]any{"field": "payload.exit_code", "op": "gt", "value": 1}, true},
		{"gt false", map[string]any{"field": "payload.exit_code", "op": "gt", "value": 5}, false},
		{"in", map[string]any{"field": "subject", "op": "in", "value": []any{"job-42", "job-7"}}, true},
		{"nin", map[string]any{"field": "subject", "op": "nin", "value": []any{"job-7"}}, true},
		{"contains", map[string]any{"field": "payload.reason", "op": "contains", "value": "timeout"}, true},
		{"startswith", map[string]any{"field": "payload.reason", "op": "startswith", "value": "timeout"}, true},
		{"endswith", map[string]any{"field": "payload.reason", "op": "endswith", "value": "lock"}, true},
		{"regex", map[string]any{"field": "payload.reason", "op": "regex", "value": "^timeout.*lock$"}, true},
		{"missing field eq", map[string]any{"field": "payload.missing", "op": "eq", "value": "x"}, false},
		{"missing field ne", map[string]any{"field": "payload.missing", "op": "ne", "value": "x"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := e.Evaluate(tc.cond, event)
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEvaluateAllAnyNot(t *testing.T) {
	event := &Event{EventType: "tool.exec.failed", Subject: "job-42"}
	e := NewEvaluator()

	all := map[string]any{
		"all": []any{
			map[string]any{"field": "event_type", "op": "eq", "value": "tool.exec.failed"},
			map[string]any{"field": "subject", "op": "eq", "value": "job-42"},
		},
	}
	if !e.Evaluate(all, event) {
		t.Fatal("all: expected true")
	}

	anyRule := map[string]any{
		"any": []any{
			map[string]any{"field": "subject", "op": "eq", "value": "nope"},
			map[string]any{"field": "subject", "op": "eq", "value": "job-42"},
		},
	}
	if !e.Evaluate(anyRule, event) {
		t.Fatal("any: expected true")
	}

	not := map[string]any{
		"not": map[string]any{"field": "subject", "op": "eq", "value": "nope"},
	}
	if !e.Evaluate(not, event) {
		t.Fatal("not: expected true")
	}

	emptyAny := map[string]any{"any": []any{}}
	if e.Evaluate(emptyAny, event) {
		t.Fatal("empty any should be false")
	}
}
