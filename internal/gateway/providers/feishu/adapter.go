// Package feishu normalizes Feishu (Lark) event callbacks into the
// gateway's provider-agnostic inbound message shape.
package feishu

import (
	"encoding/json"
	"strings"

	"github.com/bdobrica/ruriko-events/internal/gateway"
)

// Adapter implements gateway.FeishuAdapter.
type Adapter struct {
	AppID string
}

// New builds an Adapter for one configured Feishu app.
func New(appID string) *Adapter {
	return &Adapter{AppID: appID}
}

type callbackHeader struct {
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	TenantKey string `json:"tenant_key"`
	Token     string `json:"token"`
}

type eventBody struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	Token     string          `json:"token"`
	Header    *callbackHeader `json:"header"`
	Event     *eventPayload   `json:"event"`
}

type eventPayload struct {
	Message *feishuMessage `json:"message"`
	Sender  *sender        `json:"sender"`
}

type feishuMessage struct {
	ChatID      string `json:"chat_id"`
	ChatType    string `json:"chat_type"`
	MessageID   string `json:"message_id"`
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
	Mentions    []any  `json:"mentions"`
}

type sender struct {
	SenderID *senderID `json:"sender_id"`
}

type senderID struct {
	OpenID  string `json:"open_id"`
	UnionID string `json:"union_id"`
	UserID  string `json:"user_id"`
}

// VerifyToken checks the request body's verification token (top-level
// "token" for the legacy/url_verification shape, "header.token" for v2
// event callbacks) against the app's configured token. An empty expected
// token means verification is disabled.
func (a *Adapter) VerifyToken(body []byte, expected string) bool {
	if expected == "" {
		return true
	}
	var eb eventBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return false
	}
	if eb.Token == expected {
		return true
	}
	return eb.Header != nil && eb.Header.Token == expected
}

// URLVerificationChallenge recognizes Feishu's one-time URL verification
// handshake payload and returns the challenge value to echo back.
func (a *Adapter) URLVerificationChallenge(body []byte) (string, bool) {
	var eb eventBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return "", false
	}
	if eb.Type != "url_verification" || eb.Challenge == "" {
		return "", false
	}
	return eb.Challenge, true
}

// Normalize converts an im.message.receive_v1 event into a
// gateway.InboundMessage. ok is false for any other event type.
func (a *Adapter) Normalize(body []byte) (gateway.InboundMessage, bool, error) {
	var eb eventBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return gateway.InboundMessage{}, false, err
	}
	if eb.Header == nil || eb.Header.EventType != "im.message.receive_v1" || eb.Event == nil || eb.Event.Message == nil {
		return gateway.InboundMessage{}, false, nil
	}

	msg := eb.Event.Message
	var senderIDValue string
	if eb.Event.Sender != nil && eb.Event.Sender.SenderID != nil {
		sid := eb.Event.Sender.SenderID
		switch {
		case sid.OpenID != "":
			senderIDValue = sid.OpenID
		case sid.UnionID != "":
			senderIDValue = sid.UnionID
		default:
			senderIDValue = sid.UserID
		}
	}

	idempotencyKey := ""
	switch {
	case msg.MessageID != "":
		idempotencyKey = "feishu:message:" + msg.MessageID
	case eb.Header.EventID != "":
		idempotencyKey = "feishu:event:" + eb.Header.EventID
	}

	return gateway.InboundMessage{
		Provider: "feishu",
		Source:   "feishu.gateway",
		Subject:  msg.ChatID,
		Text:     messageText(msg),
		Identity: gateway.ConversationIdentity{
			BotID:  a.AppID,
			ChatID: msg.ChatID,
		},
		SenderID:       senderIDValue,
		IsMention:      len(msg.Mentions) > 0,
		IsReplyToBot:   false,
		IdempotencyKey: idempotencyKey,
	}, true, nil
}

func messageText(msg *feishuMessage) string {
	if msg.MessageType != "text" || msg.Content == "" {
		return ""
	}
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(msg.Content), &parsed); err != nil {
		return ""
	}
	return strings.TrimSpace(parsed.Text)
}

var approveVerbs = map[string]bool{"approve": true, "approved": true, "pass": true, "ok": true}
var rejectVerbs = map[string]bool{"reject": true, "rejected": true, "deny": true, "no": true}

type cardActionBody struct {
	Action *struct {
		Value map[string]any `json:"value"`
	} `json:"action"`
	Decision   string `json:"decision"`
	ApprovalID string `json:"approval_id"`
}

// ParseCardAction recognizes an approve/reject decision carried in an
// interactive card callback's action.value, falling back to the request
// body's top-level fields.
func (a *Adapter) ParseCardAction(body []byte) (action, approvalID string, ok bool) {
	var cb cardActionBody
	if err := json.Unmarshal(body, &cb); err != nil {
		return "", "", false
	}

	value := map[string]any{}
	if cb.Action != nil {
		value = cb.Action.Value
	}

	decision := firstNonEmpty(
		stringField(value, "decision"),
		stringField(value, "result"),
		stringField(value, "action"),
		cb.Decision,
	)
	decision = strings.ToLower(strings.TrimSpace(decision))

	id := firstNonEmpty(stringField(value, "approval_id"), cb.ApprovalID)

	switch {
	case approveVerbs[decision]:
		return "approve", id, id != ""
	case rejectVerbs[decision]:
		return "reject", id, id != ""
	default:
		return "", "", false
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
