package store_test

import (
	"context"
	"testing"

	"github.com/bdobrica/ruriko-events/internal/store"
)

func TestConversationCreateAndLookupByKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &store.GatewayConversation{
		ID:         "conv_1",
		Provider:   "telegram",
		GatewayKey: "telegram:bot1:chat1",
		BotID:      "bot1",
		ChatID:     "chat1",
	}
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	got, err := s.GetConversationByKey(ctx, "telegram:bot1:chat1")
	if err != nil {
		t.Fatalf("GetConversationByKey: %v", err)
	}
	if got == nil || got.ID != "conv_1" {
		t.Fatalf("GetConversationByKey: got %+v", got)
	}

	missing, err := s.GetConversationByKey(ctx, "telegram:bot1:nope")
	if err != nil {
		t.Fatalf("GetConversationByKey (missing): %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for an unknown gateway key, got %+v", missing)
	}
}

func TestGetConversationUnknownIDErrors(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetConversation(context.Background(), "conv_missing"); err == nil {
		t.Fatal("expected an error for an unknown conversation id")
	}
}

func TestAppendMessageAssignsMonotonicContextVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &store.GatewayConversation{ID: "conv_1", Provider: "telegram", GatewayKey: "telegram:b:c"}
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	for i, role := range []string{"user", "assistant", "user"} {
		msg := &store.GatewayMessage{
			ID:             "msg_" + string(rune('a'+i)),
			ConversationID: "conv_1",
			Role:           role,
			Content:        "hello",
		}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage(%d): %v", i, err)
		}
		if msg.ContextVersion != i+1 {
			t.Fatalf("message %d: got context_version %d, want %d", i, msg.ContextVersion, i+1)
		}
	}

	msgs, err := s.ListContext(ctx, "conv_1", 0)
	if err != nil {
		t.Fatalf("ListContext: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("ListContext: got %d messages, want 3", len(msgs))
	}
	for i, msg := range msgs {
		if msg.ContextVersion != i+1 {
			t.Fatalf("ListContext order: message %d has context_version %d", i, msg.ContextVersion)
		}
	}
}

func TestListContextLimitKeepsAscendingOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &store.GatewayConversation{ID: "conv_1", Provider: "telegram", GatewayKey: "telegram:b:c"}
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	for i := 0; i < 5; i++ {
		msg := &store.GatewayMessage{ID: "msg_" + string(rune('a'+i)), ConversationID: "conv_1", Role: "user", Content: "x"}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage(%d): %v", i, err)
		}
	}

	limited, err := s.ListContext(ctx, "conv_1", 2)
	if err != nil {
		t.Fatalf("ListContext: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("got %d messages, want 2", len(limited))
	}
	if limited[0].ContextVersion != 4 || limited[1].ContextVersion != 5 {
		t.Fatalf("expected the 2 most recent messages in ascending order, got versions %d,%d",
			limited[0].ContextVersion, limited[1].ContextVersion)
	}
}

func TestLastAssistantMessageAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &store.GatewayConversation{ID: "conv_1", Provider: "telegram", GatewayKey: "telegram:b:c"}
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	found, _, err := s.LastAssistantMessageAt(ctx, "conv_1")
	if err != nil {
		t.Fatalf("LastAssistantMessageAt (empty): %v", err)
	}
	if found {
		t.Fatal("expected found=false before any assistant message")
	}

	if err := s.AppendMessage(ctx, &store.GatewayMessage{ID: "m1", ConversationID: "conv_1", Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.AppendMessage(ctx, &store.GatewayMessage{ID: "m2", ConversationID: "conv_1", Role: "assistant", Content: "hello"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	found, _, err = s.LastAssistantMessageAt(ctx, "conv_1")
	if err != nil {
		t.Fatalf("LastAssistantMessageAt: %v", err)
	}
	if !found {
		t.Fatal("expected found=true after an assistant message")
	}
}

func TestTaskRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &store.GatewayConversation{ID: "conv_1", Provider: "telegram", GatewayKey: "telegram:b:c"}
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	run := &store.GatewayTaskRun{
		ID:             "task_1",
		ConversationID: "conv_1",
		Status:         "queued",
	}
	if err := s.CreateTaskRun(ctx, run); err != nil {
		t.Fatalf("CreateTaskRun: %v", err)
	}

	if err := s.UpdateTaskRun(ctx, "task_1", "completed", "done", map[string]any{"ok": true}); err != nil {
		t.Fatalf("UpdateTaskRun: %v", err)
	}

	got, err := s.GetTaskRun(ctx, "task_1")
	if err != nil {
		t.Fatalf("GetTaskRun: %v", err)
	}
	if got.Status != "completed" || got.ResultSummary != "done" {
		t.Fatalf("GetTaskRun: got %+v", got)
	}
	if got.ResultMetadata["ok"] != true {
		t.Fatalf("ResultMetadata not round-tripped: %+v", got.ResultMetadata)
	}

	runs, err := s.ListTaskRuns(ctx, "conv_1", 0)
	if err != nil {
		t.Fatalf("ListTaskRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "task_1" {
		t.Fatalf("ListTaskRuns: got %+v", runs)
	}
}
