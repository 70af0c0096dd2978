package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/ruriko-events/internal/events"
	"github.com/bdobrica/ruriko-events/internal/events/errs"
	"github.com/bdobrica/ruriko-events/internal/store"
)

// EventEmitter is the narrow slice of EventEngine GatewayManager depends on:
// raising events for inbound webhook payloads, deduplicating replayed
// deliveries, and resolving approvals reached through a chat approval
// command.
type EventEmitter interface {
	Emit(ctx context.Context, event *events.Event) ([]events.RuleExecutionResult, error)
	ExistsIdempotency(ctx context.Context, key string) (bool, error)
	ResolveApproval(ctx context.Context, approvalID, decision string) (events.ResolveResult, error)
}

// OutboundSender delivers a plain text message to a chat, independent of
// which provider owns it. Each provider adapter supplies its own sender.
type OutboundSender func(ctx context.Context, chatID, text string) error

// WebhookEvent is what a provider adapter produces for one inbound
// delivery when it is not a chat message GatewayContextService should
// ingest directly.
type WebhookEvent struct {
	EventType string
	Subject   string
	Payload   map[string]any
}

// TelegramAdapter normalizes Telegram Bot API updates. Implementations
// live in internal/gateway/providers/telegram.
type TelegramAdapter interface {
	VerifySecretToken(headers map[string]string, expected string) bool
	Normalize(body []byte) (InboundMessage, bool, error)
	ParseCallbackAction(body []byte) (action, approvalID string, ok bool)
}

// FeishuAdapter normalizes Feishu event callbacks. Implementations live in
// internal/gateway/providers/feishu.
type FeishuAdapter interface {
	VerifyToken(body []byte, expected string) bool
	URLVerificationChallenge(body []byte) (challenge string, isChallenge bool)
	Normalize(body []byte) (InboundMessage, bool, error)
	ParseCardAction(body []byte) (action, approvalID string, ok bool)
}

// MatrixAdapter normalizes Matrix room events. Implementations live in
// internal/gateway/providers/matrix.
type MatrixAdapter interface {
	Normalize(body []byte) (InboundMessage, bool, error)
}

// GatewayManager is the thin service layer over provider configuration,
// message ingestion, and chat-originated approval resolution.
type GatewayManager struct {
	store    Store
	context  *GatewayContextService
	engine   EventEmitter
	senders  map[string]OutboundSender

	telegram TelegramAdapter
	feishu   FeishuAdapter
	matrix   MatrixAdapter
}

// NewGatewayManager wires a GatewayManager. Any adapter may be nil if that
// provider is not configured; the corresponding Ingest* method then
// returns an error.
func NewGatewayManager(st Store, ctxSvc *GatewayContextService, engine EventEmitter) *GatewayManager {
	return &GatewayManager{
		store:   st,
		context: ctxSvc,
		engine:  engine,
		senders: map[string]OutboundSender{},
	}
}

// RegisterSender wires provider's outbound send function.
func (m *GatewayManager) RegisterSender(provider string, sender OutboundSender) {
	m.senders[provider] = sender
}

// RegisterTelegramAdapter wires the Telegram normalization adapter.
func (m *GatewayManager) RegisterTelegramAdapter(adapter TelegramAdapter) { m.telegram = adapter }

// RegisterFeishuAdapter wires the Feishu normalization adapter.
func (m *GatewayManager) RegisterFeishuAdapter(adapter FeishuAdapter) { m.feishu = adapter }

// RegisterMatrixAdapter wires the Matrix normalization adapter.
func (m *GatewayManager) RegisterMatrixAdapter(adapter MatrixAdapter) { m.matrix = adapter }

// --- Config CRUD ---

// GetConfig returns a provider's stored config.
func (m *GatewayManager) GetConfig(ctx context.Context, provider, instance string) (*store.GatewayProviderConfig, error) {
	return m.store.GetGatewayConfig(ctx, provider, instance)
}

// SetConfig upserts a provider's config.
func (m *GatewayManager) SetConfig(ctx context.Context, provider, instance string, config map[string]any) error {
	return m.store.SetGatewayConfig(ctx, provider, instance, config)
}

// ListConfigs lists every configured provider/instance, optionally filtered.
func (m *GatewayManager) ListConfigs(ctx context.Context, provider string) ([]store.GatewayProviderConfig, error) {
	return m.store.ListGatewayConfigs(ctx, provider)
}

// DeleteConfig removes a provider's config.
func (m *GatewayManager) DeleteConfig(ctx context.Context, provider, instance string) error {
	return m.store.DeleteGatewayConfig(ctx, provider, instance)
}

// TestOutbound sends a canned test message through provider's registered
// sender, returning an error if none is registered.
func (m *GatewayManager) TestOutbound(ctx context.Context, provider, chatID string) error {
	sender, ok := m.senders[provider]
	if !ok {
		return fmt.Errorf("gateway: no outbound sender registered for provider %q", provider)
	}
	return sender(ctx, chatID, fmt.Sprintf("test message from %s at %s", provider, time.Now().UTC().Format(time.RFC3339)))
}

// --- Webhook ingestion ---

// IngestTelegramWebhook verifies the secret token, normalizes the update,
// and either ingests a chat message or resolves an approval reached via an
// inline callback. Any other update is ignored: it yields an empty
// IngestResult and no event is emitted for it.
func (m *GatewayManager) IngestTelegramWebhook(ctx context.Context, body []byte, headers map[string]string) (IngestResult, error) {
	if m.telegram == nil {
		return IngestResult{}, fmt.Errorf("gateway: telegram adapter not configured")
	}
	cfg, err := m.store.GetGatewayConfig(ctx, "telegram", "")
	if err == nil {
		if expected, _ := cfg.Config["secret_token"].(string); expected != "" {
			if !m.telegram.VerifySecretToken(headers, expected) {
				return IngestResult{}, fmt.Errorf("gateway: telegram secret token mismatch: %w", errs.ErrUnauthorized)
			}
		}
	}

	if action, approvalID, ok := m.telegram.ParseCallbackAction(body); ok {
		if _, err := m.ResolveApprovalCommand(ctx, action+":"+approvalID); err != nil {
			return IngestResult{}, err
		}
		return IngestResult{Addressed: true, AddressReason: "approval_callback"}, nil
	}

	msg, ok, err := m.telegram.Normalize(body)
	if err != nil {
		return IngestResult{}, err
	}
	if !ok {
		return IngestResult{}, nil
	}
	return m.ingestChatMessage(ctx, msg)
}

// IngestFeishuEvents verifies the shared token carried in the request
// body, answers the URL-verification handshake, normalizes the event, and
// dispatches as with Telegram. The token check runs first so a forged
// url_verification payload cannot be used to probe the endpoint.
func (m *GatewayManager) IngestFeishuEvents(ctx context.Context, body []byte, _ map[string]string) (challenge string, result IngestResult, err error) {
	if m.feishu == nil {
		return "", IngestResult{}, fmt.Errorf("gateway: feishu adapter not configured")
	}

	cfg, cfgErr := m.store.GetGatewayConfig(ctx, "feishu", "")
	if cfgErr == nil {
		if expected, _ := cfg.Config["verification_token"].(string); expected != "" {
			if !m.feishu.VerifyToken(body, expected) {
				return "", IngestResult{}, fmt.Errorf("gateway: feishu token mismatch: %w", errs.ErrUnauthorized)
			}
		}
	}

	if c, isChallenge := m.feishu.URLVerificationChallenge(body); isChallenge {
		return c, IngestResult{}, nil
	}

	if action, approvalID, ok := m.feishu.ParseCardAction(body); ok {
		if _, resolveErr := m.ResolveApprovalCommand(ctx, action+":"+approvalID); resolveErr != nil {
			return "", IngestResult{}, resolveErr
		}
		return "", IngestResult{Addressed: true, AddressReason: "approval_callback"}, nil
	}

	msg, ok, normErr := m.feishu.Normalize(body)
	if normErr != nil {
		return "", IngestResult{}, normErr
	}
	if !ok {
		return "", IngestResult{}, nil
	}
	result, err = m.ingestChatMessage(ctx, msg)
	return "", result, err
}

// IngestMatrixEvents normalizes a Matrix room event and dispatches as with
// the other providers.
func (m *GatewayManager) IngestMatrixEvents(ctx context.Context, body []byte) (IngestResult, error) {
	if m.matrix == nil {
		return IngestResult{}, fmt.Errorf("gateway: matrix adapter not configured")
	}
	msg, ok, err := m.matrix.Normalize(body)
	if err != nil {
		return IngestResult{}, err
	}
	if !ok {
		return IngestResult{}, nil
	}
	return m.ingestChatMessage(ctx, msg)
}

// ingestChatMessage is the shared tail of every provider's webhook path:
// drop replayed deliveries by idempotency key, persist a
// chat.message.received event for the rules engine, then hand the message
// to the context service.
func (m *GatewayManager) ingestChatMessage(ctx context.Context, msg InboundMessage) (IngestResult, error) {
	if msg.IdempotencyKey != "" {
		seen, err := m.engine.ExistsIdempotency(ctx, msg.IdempotencyKey)
		if err != nil {
			return IngestResult{}, err
		}
		if seen {
			return IngestResult{AddressReason: "duplicate_delivery"}, nil
		}
	}

	if _, err := m.engine.Emit(ctx, &events.Event{
		EventID:   "evt_" + uuid.NewString(),
		EventType: "chat.message.received",
		Source:    msg.Source,
		Subject:   msg.Subject,
		Payload: map[string]any{
			"provider":  msg.Provider,
			"bot_id":    msg.Identity.BotID,
			"chat_id":   msg.Identity.ChatID,
			"sender_id": msg.SenderID,
			"text":      msg.Text,
		},
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: msg.IdempotencyKey,
	}); err != nil {
		return IngestResult{}, err
	}

	// A text approval command resolves the named approval instead of
	// spawning a task run.
	if _, _, ok := ParseApprovalCommand(msg.Text); ok {
		if _, err := m.ResolveApprovalCommand(ctx, msg.Text); err != nil {
			return IngestResult{}, err
		}
		return IngestResult{Addressed: true, AddressReason: "approval_command"}, nil
	}

	return m.context.IngestMessage(ctx, msg, "", false, m.replySenderFor(msg.Provider))
}

func (m *GatewayManager) replySenderFor(provider string) ReplySender {
	sender, ok := m.senders[provider]
	if !ok {
		return nil
	}
	return func(ctx context.Context, chatID string, _ IngestResult, text string) error {
		return sender(ctx, chatID, text)
	}
}

// EmitRawEvent appends a webhook payload the gateway does not recognize as
// a chat message or approval action directly onto the event bus.
func (m *GatewayManager) EmitRawEvent(ctx context.Context, source string, webhook WebhookEvent) error {
	_, err := m.engine.Emit(ctx, &events.Event{
		EventID:   "evt_" + uuid.NewString(),
		EventType: webhook.EventType,
		Source:    source,
		Subject:   webhook.Subject,
		Payload:   webhook.Payload,
		Timestamp: time.Now().UTC(),
	})
	return err
}

// --- Text approval command parsing ---

var approvalCommandPattern = regexp.MustCompile(`(?i)^(?:/approve|/reject|approve|reject|同意|拒绝)\s*[:\s]\s*(\S+)$`)

// ApprovalCommandResult is ResolveApprovalCommand's outcome.
type ApprovalCommandResult struct {
	Resolved    bool
	Status      string
	ApprovalIDs []string
}

// ResolveApprovalCommand recognizes the provider-agnostic text approval
// grammar — "/approve <id>", "/reject <id>", "approve:<id>", "reject:<id>",
// and the Chinese aliases "同意 <id>" / "拒绝 <id>" — and resolves the
// named approval. Text that doesn't match the grammar returns
// ErrNotAnApprovalCommand.
func (m *GatewayManager) ResolveApprovalCommand(ctx context.Context, text string) (ApprovalCommandResult, error) {
	action, approvalID, ok := ParseApprovalCommand(text)
	if !ok {
		return ApprovalCommandResult{}, ErrNotAnApprovalCommand
	}

	decision := events.ApprovalRejected
	if action == "approve" {
		decision = events.ApprovalApproved
	}

	res, err := m.engine.ResolveApproval(ctx, approvalID, decision)
	if err != nil {
		return ApprovalCommandResult{}, err
	}
	return ApprovalCommandResult{Resolved: res.Resolved, Status: res.Status, ApprovalIDs: []string{approvalID}}, nil
}

// ErrNotAnApprovalCommand is returned by ResolveApprovalCommand when text
// does not match the approval grammar (ParseApprovalCommand reports that
// case with ok=false instead).
var ErrNotAnApprovalCommand = fmt.Errorf("gateway: not an approval command")

// ParseApprovalCommand recognizes the approve/reject text grammar,
// returning the normalized action ("approve" or "reject"), the approval
// id, and ok=true on a match.
func ParseApprovalCommand(text string) (action, approvalID string, ok bool) {
	text = strings.TrimSpace(text)
	match := approvalCommandPattern.FindStringSubmatch(text)
	if match == nil {
		return "", "", false
	}

	lowerText := strings.ToLower(text)
	switch {
	case strings.HasPrefix(lowerText, "/approve"), strings.HasPrefix(lowerText, "approve"), strings.HasPrefix(text, "同意"):
		return "approve", match[1], true
	case strings.HasPrefix(lowerText, "/reject"), strings.HasPrefix(lowerText, "reject"), strings.HasPrefix(text, "拒绝"):
		return "reject", match[1], true
	default:
		return "", "", false
	}
}
