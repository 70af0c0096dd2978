package gateway

import (
	"context"
	"time"

	"github.com/bdobrica/ruriko-events/internal/store"
)

// Store is the narrow persistence contract GatewayContextService and
// GatewayManager depend on. internal/store's concrete *store.Store
// satisfies this structurally; conversations, messages, task runs, and
// gateway configs all live in the same shared database as the event log.
type Store interface {
	GetConversationByKey(ctx context.Context, gatewayKey string) (*store.GatewayConversation, error)
	CreateConversation(ctx context.Context, conv *store.GatewayConversation) error
	GetConversation(ctx context.Context, id string) (*store.GatewayConversation, error)
	ListConversations(ctx context.Context, provider string, limit int) ([]store.GatewayConversation, error)

	AppendMessage(ctx context.Context, msg *store.GatewayMessage) error
	ListContext(ctx context.Context, conversationID string, limit int) ([]store.GatewayMessage, error)
	LastAssistantMessageAt(ctx context.Context, conversationID string) (bool, time.Time, error)

	CreateTaskRun(ctx context.Context, run *store.GatewayTaskRun) error
	UpdateTaskRun(ctx context.Context, id, status, resultSummary string, resultMetadata map[string]any) error
	GetTaskRun(ctx context.Context, id string) (*store.GatewayTaskRun, error)
	ListTaskRuns(ctx context.Context, conversationID string, limit int) ([]store.GatewayTaskRun, error)

	GetGatewayConfig(ctx context.Context, provider, instance string) (*store.GatewayProviderConfig, error)
	SetGatewayConfig(ctx context.Context, provider, instance string, config map[string]any) error
	ListGatewayConfigs(ctx context.Context, provider string) ([]store.GatewayProviderConfig, error)
	DeleteGatewayConfig(ctx context.Context, provider, instance string) error
}

// getOrCreateConversation fetches the conversation for gatewayKey, creating
// one (with a freshly generated id and main_context_id) if it does not
// exist yet.
func getOrCreateConversation(ctx context.Context, st Store, provider, gatewayKey, botID, chatID string, newID func() string) (*store.GatewayConversation, error) {
	conv, err := st.GetConversationByKey(ctx, gatewayKey)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	conv = &store.GatewayConversation{
		ID:            newID(),
		Provider:      provider,
		GatewayKey:    gatewayKey,
		BotID:         botID,
		ChatID:        chatID,
		MainContextID: newID(),
	}
	if err := st.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}
