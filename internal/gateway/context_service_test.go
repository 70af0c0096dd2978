package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/ruriko-events/internal/store"
)

type recordingRunner struct {
	mu       sync.Mutex
	requests []TaskRequest
	result   TaskResult
	err      error
}

func (r *recordingRunner) Run(ctx context.Context, req TaskRequest) (TaskResult, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	return r.result, r.err
}

func waitForTaskRun(t *testing.T, st *fakeStore, id string, want string) store.GatewayTaskRun {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		run, err := st.GetTaskRun(context.Background(), id)
		if err == nil && run.Status == want {
			return *run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task run %s never reached status %q", id, want)
	return store.GatewayTaskRun{}
}

func TestIngestMessageUnaddressedDoesNotExecute(t *testing.T) {
	st := newFakeStore()
	runner := &recordingRunner{result: TaskResult{FinalResponse: "ok"}}
	svc := NewGatewayContextService(st, runner, "", "", nil)

	msg := InboundMessage{
		Provider: "feishu",
		Identity: ConversationIdentity{BotID: "bot1", ChatID: "chat1"},
		Text:     "just chatting",
	}
	result, err := svc.IngestMessage(context.Background(), msg, "", false, nil)
	if err != nil {
		t.Fatalf("IngestMessage: %v", err)
	}
	if result.Addressed || result.ShouldExecute {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.TaskRunID != "" {
		t.Fatalf("did not expect a task run, got %q", result.TaskRunID)
	}
}

func TestIngestMessageMentionExecutesAndRunsTask(t *testing.T) {
	st := newFakeStore()
	runner := &recordingRunner{result: TaskResult{FinalResponse: "final answer"}}
	svc := NewGatewayContextService(st, runner, "db.sqlite", "rules/", nil)

	var replyText string
	var mu sync.Mutex
	onResult := func(ctx context.Context, chatID string, res IngestResult, text string) error {
		mu.Lock()
		replyText = text
		mu.Unlock()
		return nil
	}

	msg := InboundMessage{
		Provider:  "feishu",
		Identity:  ConversationIdentity{BotID: "bot1", ChatID: "chat1"},
		Text:      "@bot do the thing",
		IsMention: true,
	}
	result, err := svc.IngestMessage(context.Background(), msg, "", false, onResult)
	if err != nil {
		t.Fatalf("IngestMessage: %v", err)
	}
	if !result.Addressed || !result.ShouldExecute || result.TaskRunID == "" {
		t.Fatalf("unexpected result: %+v", result)
	}

	waitForTaskRun(t, st, result.TaskRunID, "done")

	mu.Lock()
	got := replyText
	mu.Unlock()
	if got != "final answer" {
		t.Fatalf("reply text = %q, want %q", got, "final answer")
	}

	msgs, err := st.ListContext(context.Background(), result.ConversationID, 0)
	if err != nil {
		t.Fatalf("ListContext: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (user + assistant), got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("unexpected roles: %q, %q", msgs[0].Role, msgs[1].Role)
	}
}

func TestIngestMessageRunnerErrorProducesFailedRun(t *testing.T) {
	st := newFakeStore()
	runner := &recordingRunner{err: errors.New("boom")}
	svc := NewGatewayContextService(st, runner, "", "", nil)

	msg := InboundMessage{
		Provider:  "telegram",
		Identity:  ConversationIdentity{BotID: "bot1", ChatID: "chat1"},
		Text:      "do it",
		IsMention: true,
	}
	result, err := svc.IngestMessage(context.Background(), msg, "", false, nil)
	if err != nil {
		t.Fatalf("IngestMessage: %v", err)
	}

	run := waitForTaskRun(t, st, result.TaskRunID, "failed")
	if run.ResultSummary == "" {
		t.Fatalf("expected a result summary describing the failure")
	}
}

func TestIngestMessageReusesExistingConversation(t *testing.T) {
	st := newFakeStore()
	runner := &recordingRunner{result: TaskResult{FinalResponse: "ok"}}
	svc := NewGatewayContextService(st, runner, "", "", nil)

	msg := InboundMessage{
		Provider: "telegram",
		Identity: ConversationIdentity{BotID: "bot1", ChatID: "chat1"},
		Text:     "first",
	}
	first, err := svc.IngestMessage(context.Background(), msg, "", false, nil)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	msg.Text = "second"
	second, err := svc.IngestMessage(context.Background(), msg, "", false, nil)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if first.ConversationID != second.ConversationID {
		t.Fatalf("expected same conversation id, got %q and %q", first.ConversationID, second.ConversationID)
	}
}

func TestIngestMessageForceExecuteSkipsContinuationLookup(t *testing.T) {
	st := newFakeStore()
	runner := &recordingRunner{result: TaskResult{FinalResponse: "ok"}}
	svc := NewGatewayContextService(st, runner, "", "", nil)

	msg := InboundMessage{
		Provider: "feishu",
		Identity: ConversationIdentity{BotID: "bot1", ChatID: "chat1"},
		Text:     "anything",
	}
	result, err := svc.IngestMessage(context.Background(), msg, "", true, nil)
	if err != nil {
		t.Fatalf("IngestMessage: %v", err)
	}
	if result.AddressReason != "forced" {
		t.Fatalf("reason = %q, want forced", result.AddressReason)
	}
}
