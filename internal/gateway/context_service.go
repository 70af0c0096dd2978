package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/ruriko-events/internal/store"
)

// TaskRequest is the unit of work GatewayContextService hands to a
// TaskRunner for one ingested message.
type TaskRequest struct {
	Task             string
	RuntimeSessionID string
	AgentID          string
	DBPath           string
	RulesPath        string
	Model            string
	SystemPrompt     string
}

// TaskResult is a TaskRunner's outcome for one TaskRequest.
type TaskResult struct {
	FinalResponse string
	Error         string
}

// TaskRunner executes one isolated runtime session. Implementations are
// expected to be slow (an external agent process or model call); callers
// invoke it from a goroutine, never inline on the ingest path.
type TaskRunner interface {
	Run(ctx context.Context, req TaskRequest) (TaskResult, error)
}

// ReplySender delivers a task's final text back to the chat it came from.
// Implementations are provider outbound-send functions; a nil sender means
// "no reply delivery", useful for tests and headless replay.
type ReplySender func(ctx context.Context, chatID string, result IngestResult, text string) error

// IngestResult is GatewayContextService.IngestMessage's return value. It
// is serialized verbatim by the webhook HTTP handlers.
type IngestResult struct {
	ConversationID   string `json:"conversation_id"`
	MainContextID    string `json:"main_context_id,omitempty"`
	Addressed        bool   `json:"addressed"`
	ShouldExecute    bool   `json:"should_execute"`
	AddressReason    string `json:"address_reason"`
	TaskRunID        string `json:"task_run_id,omitempty"`
	RuntimeSessionID string `json:"runtime_session_id,omitempty"`
}

// ConversationIdentity is the (bot_id, chat_id) pair a provider adapter
// derives from its inbound payload.
type ConversationIdentity struct {
	BotID  string
	ChatID string
}

// InboundMessage is a provider-normalized chat message ready for ingestion.
// IdempotencyKey carries the provider's stable delivery id (e.g.
// "telegram:update:<update_id>") so a replayed webhook body dedupes instead
// of spawning a second task run.
type InboundMessage struct {
	Provider       string
	Source         string
	Subject        string
	Text           string
	Identity       ConversationIdentity
	SenderID       string
	IsMention      bool
	IsReplyToBot   bool
	IdempotencyKey string
}

// GatewayContextService keeps each chat's context append-only and stable
// while running the actual work for an addressed message in an isolated,
// asynchronously executed task run.
type GatewayContextService struct {
	store          Store
	runner         TaskRunner
	policies       func(provider string) AddressingPolicy
	dbPath         string
	rulesPath      string
	defaultAgentID string
	now            func() time.Time
}

// NewGatewayContextService wires a GatewayContextService. policies resolves
// a provider's configured AddressingPolicy (falling back to
// DefaultAddressingPolicy); pass nil to always use the defaults.
func NewGatewayContextService(st Store, runner TaskRunner, dbPath, rulesPath string, policies func(string) AddressingPolicy) *GatewayContextService {
	if policies == nil {
		policies = DefaultAddressingPolicy
	}
	return &GatewayContextService{
		store:          st,
		runner:         runner,
		policies:       policies,
		dbPath:         dbPath,
		rulesPath:      rulesPath,
		defaultAgentID: "semibot",
		now:            time.Now,
	}
}

func gatewayKey(provider, botID, chatID string) string {
	return provider + ":" + botID + ":" + chatID
}

// IngestMessage runs the full ingest pipeline for one inbound chat message:
// conversation resolution, addressing decision, context append, and (if
// addressed) an isolated background task run. onResult, if non-nil, is
// invoked from the background goroutine once the task finishes or fails.
func (s *GatewayContextService) IngestMessage(ctx context.Context, msg InboundMessage, agentID string, forceExecute bool, onResult ReplySender) (IngestResult, error) {
	botID, chatID := msg.Identity.BotID, msg.Identity.ChatID
	if chatID == "" {
		chatID = "unknown"
	}
	if botID == "" {
		botID = "unknown-bot"
	}

	conv, err := getOrCreateConversation(ctx, s.store, msg.Provider, gatewayKey(msg.Provider, botID, chatID), botID, chatID, func() string { return uuid.NewString() })
	if err != nil {
		return IngestResult{}, fmt.Errorf("gateway: resolve conversation: %w", err)
	}

	policy := s.policies(msg.Provider)
	continuationHit := false
	if !forceExecute {
		found, lastAt, err := s.store.LastAssistantMessageAt(ctx, conv.ID)
		if err != nil {
			return IngestResult{}, fmt.Errorf("gateway: continuation lookup: %w", err)
		}
		continuationHit = ContinuationHit(found, lastAt, policy, s.now())
	}
	decision := DecideAddressing(msg.Text, msg.IsMention, msg.IsReplyToBot, policy, continuationHit, forceExecute)

	userMessage := &store.GatewayMessage{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           "user",
		Content:        msg.Text,
		Metadata: map[string]any{
			"provider":       msg.Provider,
			"source":         msg.Source,
			"subject":        msg.Subject,
			"chat_id":        chatID,
			"sender_id":      msg.SenderID,
			"addressed":      decision.Addressed,
			"should_execute": decision.ShouldExecute,
			"address_reason": decision.Reason,
		},
	}
	if err := s.store.AppendMessage(ctx, userMessage); err != nil {
		return IngestResult{}, fmt.Errorf("gateway: append user message: %w", err)
	}

	result := IngestResult{
		ConversationID: conv.ID,
		MainContextID:  conv.MainContextID,
		Addressed:      decision.Addressed,
		ShouldExecute:  decision.ShouldExecute,
		AddressReason:  decision.Reason,
	}
	if !decision.ShouldExecute {
		return result, nil
	}

	if agentID == "" {
		agentID = s.defaultAgentID
	}
	runtimeSessionID, err := newRuntimeSessionID(msg.Provider)
	if err != nil {
		return IngestResult{}, fmt.Errorf("gateway: generate runtime session id: %w", err)
	}

	run := &store.GatewayTaskRun{
		ID:               uuid.NewString(),
		ConversationID:   conv.ID,
		RuntimeSessionID: runtimeSessionID,
		SourceMessageID:  userMessage.ID,
		SnapshotVersion:  userMessage.ContextVersion,
		Status:           "queued",
	}
	if err := s.store.CreateTaskRun(ctx, run); err != nil {
		return IngestResult{}, fmt.Errorf("gateway: create task run: %w", err)
	}
	result.TaskRunID = run.ID
	result.RuntimeSessionID = runtimeSessionID

	go s.execute(conv.ID, run.ID, chatID, msg.Provider, msg.Text, agentID, runtimeSessionID, result, onResult)

	return result, nil
}

// execute runs the task in isolation and writes its outcome back to the
// conversation. It never touches the ingest caller's context: the task run
// must complete even if the inbound HTTP request that triggered it has
// already returned.
func (s *GatewayContextService) execute(conversationID, runID, chatID, provider, text, agentID, runtimeSessionID string, ingest IngestResult, onResult ReplySender) {
	ctx := context.Background()
	if err := s.store.UpdateTaskRun(ctx, runID, "running", "", nil); err != nil {
		return
	}

	runtimeResult, err := s.runner.Run(ctx, TaskRequest{
		Task:             text,
		RuntimeSessionID: runtimeSessionID,
		AgentID:          agentID,
		DBPath:           s.dbPath,
		RulesPath:        s.rulesPath,
	})

	var finalText string
	var failed bool
	if err != nil {
		finalText = fmt.Sprintf("task execution failed: %v", err)
		failed = true
	} else {
		finalText = strings.TrimSpace(runtimeResult.FinalResponse)
		if finalText == "" {
			if runtimeResult.Error != "" {
				finalText = fmt.Sprintf("task execution failed: %s", runtimeResult.Error)
				failed = true
			} else {
				finalText = "task executed, but returned no result."
			}
		}
	}

	status := "done"
	if failed {
		status = "failed"
	}
	_ = s.store.UpdateTaskRun(ctx, runID, status, finalText, map[string]any{
		"runtime_result": map[string]any{
			"final_response": runtimeResult.FinalResponse,
			"error":          runtimeResult.Error,
		},
	})

	assistantMsg := &store.GatewayMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           "assistant",
		Content:        finalText,
		Metadata: map[string]any{
			"provider":           provider,
			"task_run_id":        runID,
			"runtime_session_id": runtimeSessionID,
			"minimal_writeback":  true,
			"status":             status,
		},
	}
	_ = s.store.AppendMessage(ctx, assistantMsg)

	if onResult != nil {
		ingest.TaskRunID = runID
		ingest.RuntimeSessionID = runtimeSessionID
		_ = onResult(ctx, chatID, ingest, finalText)
	}
}

func newRuntimeSessionID(provider string) (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("sess_%s_%s", provider, hex.EncodeToString(buf)), nil
}

// ListConversations delegates to the store.
func (s *GatewayContextService) ListConversations(ctx context.Context, provider string, limit int) ([]store.GatewayConversation, error) {
	return s.store.ListConversations(ctx, provider, limit)
}

// ListTaskRuns delegates to the store.
func (s *GatewayContextService) ListTaskRuns(ctx context.Context, conversationID string, limit int) ([]store.GatewayTaskRun, error) {
	return s.store.ListTaskRuns(ctx, conversationID, limit)
}

// ListContext delegates to the store.
func (s *GatewayContextService) ListContext(ctx context.Context, conversationID string, limit int) ([]store.GatewayMessage, error) {
	return s.store.ListContext(ctx, conversationID, limit)
}
