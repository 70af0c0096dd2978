// Package telegram normalizes Telegram Bot API webhook updates into the
// gateway's provider-agnostic inbound message shape.
package telegram

import (
	"crypto/subtle"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/bdobrica/ruriko-events/internal/gateway"
)

const secretTokenHeader = "x-telegram-bot-api-secret-token"

// Adapter implements gateway.TelegramAdapter.
type Adapter struct {
	BotUsername string
	BotID       string
}

// New builds an Adapter for one configured bot.
func New(botUsername, botID string) *Adapter {
	return &Adapter{BotUsername: botUsername, BotID: botID}
}

// VerifySecretToken compares the inbound X-Telegram-Bot-Api-Secret-Token
// header against the webhook's configured secret in constant time. An
// empty expected secret means verification is disabled.
func (a *Adapter) VerifySecretToken(headers map[string]string, expected string) bool {
	if expected == "" {
		return true
	}
	var token string
	for k, v := range headers {
		if strings.EqualFold(k, secretTokenHeader) {
			token = v
			break
		}
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

type update struct {
	UpdateID      *int64         `json:"update_id"`
	Message       *message       `json:"message"`
	EditedMessage *message       `json:"edited_message"`
	CallbackQuery *callbackQuery `json:"callback_query"`
}

type message struct {
	MessageID      int64    `json:"message_id"`
	Text           string   `json:"text"`
	Caption        string   `json:"caption"`
	Chat           *chat    `json:"chat"`
	From           *user    `json:"from"`
	Entities       []entity `json:"entities"`
	ReplyToMessage *message `json:"reply_to_message"`
}

type chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type user struct {
	ID    int64 `json:"id"`
	IsBot bool  `json:"is_bot"`
}

type entity struct {
	Type string `json:"type"`
}

type callbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	Message *message `json:"message"`
	From    *user    `json:"from"`
}

func messageText(m *message) string {
	if t := strings.TrimSpace(m.Text); t != "" {
		return t
	}
	return strings.TrimSpace(m.Caption)
}

func isMention(text string, entities []entity, botUsername string) bool {
	if text == "" {
		return false
	}
	if botUsername != "" && strings.Contains(strings.ToLower(text), "@"+strings.ToLower(botUsername)) {
		return true
	}
	for _, e := range entities {
		if e.Type == "mention" {
			return true
		}
	}
	return false
}

// Normalize converts a Telegram update into a gateway.InboundMessage. ok is
// false for update kinds that aren't a chat message (callback queries are
// handled separately by ParseCallbackAction).
func (a *Adapter) Normalize(body []byte) (gateway.InboundMessage, bool, error) {
	var u update
	if err := json.Unmarshal(body, &u); err != nil {
		return gateway.InboundMessage{}, false, err
	}

	msg := u.Message
	if msg == nil {
		msg = u.EditedMessage
	}
	if msg == nil || msg.Chat == nil {
		return gateway.InboundMessage{}, false, nil
	}

	text := messageText(msg)
	mention := isMention(text, msg.Entities, a.BotUsername)
	replyToBot := msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.IsBot

	var senderID string
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
	}

	var idempotencyKey string
	if u.UpdateID != nil {
		idempotencyKey = "telegram:update:" + strconv.FormatInt(*u.UpdateID, 10)
	}

	return gateway.InboundMessage{
		Provider: "telegram",
		Source:   "telegram.gateway",
		Subject:  strconv.FormatInt(msg.Chat.ID, 10),
		Text:     text,
		Identity: gateway.ConversationIdentity{
			BotID:  a.BotID,
			ChatID: strconv.FormatInt(msg.Chat.ID, 10),
		},
		SenderID:       senderID,
		IsMention:      mention,
		IsReplyToBot:   replyToBot,
		IdempotencyKey: idempotencyKey,
	}, true, nil
}

var approveVerbs = map[string]bool{"approve": true, "approved": true, "pass": true, "ok": true}
var rejectVerbs = map[string]bool{"reject": true, "rejected": true, "deny": true, "no": true}

// ParseCallbackAction recognizes an approve/reject decision carried in an
// inline keyboard callback query's data field, either as a JSON object
// ({"decision": "approved", "approval_id": "..."}) or as a plain
// "approve:<id>" / "/approve <id>" string.
func (a *Adapter) ParseCallbackAction(body []byte) (action, approvalID string, ok bool) {
	var u update
	if err := json.Unmarshal(body, &u); err != nil || u.CallbackQuery == nil {
		return "", "", false
	}

	raw := strings.TrimSpace(u.CallbackQuery.Data)
	if raw == "" {
		return "", "", false
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		decision, _ := firstString(parsed, "decision", "action", "result")
		id, _ := parsed["approval_id"].(string)
		if decision != "" {
			if approveVerbs[strings.ToLower(decision)] {
				return "approve", id, id != ""
			}
			if rejectVerbs[strings.ToLower(decision)] {
				return "reject", id, id != ""
			}
		}
	}

	// Only the verb is case-insensitive; the approval id keeps its case.
	if prefix, suffix, found := strings.Cut(raw, ":"); found {
		verb := strings.ToLower(strings.TrimSpace(prefix))
		id := strings.TrimSpace(suffix)
		if approveVerbs[verb] {
			return "approve", id, id != ""
		}
		if rejectVerbs[verb] {
			return "reject", id, id != ""
		}
	}

	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "/approve"):
		id := strings.TrimSpace(raw[len("/approve"):])
		return "approve", id, id != ""
	case strings.HasPrefix(lower, "/reject"):
		id := strings.TrimSpace(raw[len("/reject"):])
		return "reject", id, id != ""
	}

	return "", "", false
}

func firstString(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
