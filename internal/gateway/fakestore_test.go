package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bdobrica/ruriko-events/internal/store"
)

// fakeStore is an in-memory double satisfying gateway.Store, used by tests
// in this package that don't need real SQLite semantics (those live in
// internal/store's own test suite).
type fakeStore struct {
	mu            sync.Mutex
	conversations map[string]*store.GatewayConversation
	byKey         map[string]string
	messages      map[string][]store.GatewayMessage
	taskRuns      map[string]*store.GatewayTaskRun
	configs       map[string]*store.GatewayProviderConfig
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: map[string]*store.GatewayConversation{},
		byKey:         map[string]string{},
		messages:      map[string][]store.GatewayMessage{},
		taskRuns:      map[string]*store.GatewayTaskRun{},
		configs:       map[string]*store.GatewayProviderConfig{},
	}
}

func (f *fakeStore) GetConversationByKey(ctx context.Context, gatewayKey string) (*store.GatewayConversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byKey[gatewayKey]
	if !ok {
		return nil, nil
	}
	c := *f.conversations[id]
	return &c, nil
}

func (f *fakeStore) CreateConversation(ctx context.Context, conv *store.GatewayConversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *conv
	f.conversations[c.ID] = &c
	f.byKey[c.GatewayKey] = c.ID
	return nil
}

func (f *fakeStore) GetConversation(ctx context.Context, id string) (*store.GatewayConversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation not found: %s", id)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) ListConversations(ctx context.Context, provider string, limit int) ([]store.GatewayConversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.GatewayConversation, 0, len(f.conversations))
	for _, c := range f.conversations {
		if provider == "" || c.Provider == provider {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) AppendMessage(ctx context.Context, msg *store.GatewayMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing := f.messages[msg.ConversationID]
	msg.ContextVersion = len(existing) + 1
	msg.CreatedAt = time.Now().UTC()
	f.messages[msg.ConversationID] = append(existing, *msg)
	return nil
}

func (f *fakeStore) ListContext(ctx context.Context, conversationID string, limit int) ([]store.GatewayMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[conversationID]
	if limit <= 0 || limit >= len(msgs) {
		out := make([]store.GatewayMessage, len(msgs))
		copy(out, msgs)
		return out, nil
	}
	out := make([]store.GatewayMessage, limit)
	copy(out, msgs[len(msgs)-limit:])
	return out, nil
}

func (f *fakeStore) LastAssistantMessageAt(ctx context.Context, conversationID string) (bool, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[conversationID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" {
			return true, msgs[i].CreatedAt, nil
		}
	}
	return false, time.Time{}, nil
}

func (f *fakeStore) CreateTaskRun(ctx context.Context, run *store.GatewayTaskRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := *run
	f.taskRuns[r.ID] = &r
	return nil
}

func (f *fakeStore) UpdateTaskRun(ctx context.Context, id, status, resultSummary string, resultMetadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.taskRuns[id]
	if !ok {
		return fmt.Errorf("task run not found: %s", id)
	}
	run.Status = status
	run.ResultSummary = resultSummary
	run.ResultMetadata = resultMetadata
	return nil
}

func (f *fakeStore) GetTaskRun(ctx context.Context, id string) (*store.GatewayTaskRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.taskRuns[id]
	if !ok {
		return nil, fmt.Errorf("task run not found: %s", id)
	}
	cp := *run
	return &cp, nil
}

func (f *fakeStore) ListTaskRuns(ctx context.Context, conversationID string, limit int) ([]store.GatewayTaskRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.GatewayTaskRun
	for _, r := range f.taskRuns {
		if r.ConversationID == conversationID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) GetGatewayConfig(ctx context.Context, provider, instance string) (*store.GatewayProviderConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if instance == "" {
		instance = "default"
	}
	cfg, ok := f.configs[provider+"/"+instance]
	if !ok {
		return nil, fmt.Errorf("gateway config not found: %s/%s", provider, instance)
	}
	cp := *cfg
	return &cp, nil
}

func (f *fakeStore) SetGatewayConfig(ctx context.Context, provider, instance string, config map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if instance == "" {
		instance = "default"
	}
	f.configs[provider+"/"+instance] = &store.GatewayProviderConfig{Provider: provider, Instance: instance, Config: config}
	return nil
}

func (f *fakeStore) ListGatewayConfigs(ctx context.Context, provider string) ([]store.GatewayProviderConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.GatewayProviderConfig
	for _, cfg := range f.configs {
		if provider == "" || cfg.Provider == provider {
			out = append(out, *cfg)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteGatewayConfig(ctx context.Context, provider, instance string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if instance == "" {
		instance = "default"
	}
	delete(f.configs, provider+"/"+instance)
	return nil
}
