package matrix

import (
	"encoding/json"
	"strings"

	"github.com/bdobrica/ruriko-events/internal/gateway"
)

// Adapter implements gateway.MatrixAdapter over a single application
// service transaction's events. Matrix delivers inbound traffic as a PUT
// of a JSON events array rather than one event per call, so Normalize
// takes the whole transaction body and returns the first addressable
// m.room.message event it finds.
type Adapter struct {
	BotUserID string
	BotID     string
}

// New builds an Adapter for one configured Matrix bot.
func New(botUserID, botID string) *Adapter {
	return &Adapter{BotUserID: botUserID, BotID: botID}
}

type transaction struct {
	Events []roomEvent `json:"events"`
}

type roomEvent struct {
	Type    string         `json:"type"`
	RoomID  string         `json:"room_id"`
	Sender  string         `json:"sender"`
	EventID string         `json:"event_id"`
	Content messageContent `json:"content"`
}

type messageContent struct {
	MsgType   string     `json:"msgtype"`
	Body      string     `json:"body"`
	RelatesTo *relatesTo `json:"m.relates_to"`
	Mentions  *mentions  `json:"m.mentions"`
}

type relatesTo struct {
	InReplyTo *struct {
		EventID string `json:"event_id"`
	} `json:"m.in_reply_to"`
}

type mentions struct {
	UserIDs []string `json:"user_ids"`
}

// Normalize scans a transaction body for the first m.room.message event
// not sent by the bot itself and converts it to a gateway.InboundMessage.
// ok is false when the transaction has no addressable message event.
func (a *Adapter) Normalize(body []byte) (gateway.InboundMessage, bool, error) {
	var tx transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return gateway.InboundMessage{}, false, err
	}

	for _, evt := range tx.Events {
		if evt.Type != "m.room.message" || evt.Content.MsgType != "m.text" {
			continue
		}
		if evt.Sender == a.BotUserID {
			continue
		}

		idempotencyKey := ""
		if evt.EventID != "" {
			idempotencyKey = "matrix:event:" + evt.EventID
		}

		mentioned := strings.Contains(evt.Content.Body, a.BotUserID)
		if evt.Content.Mentions != nil {
			for _, uid := range evt.Content.Mentions.UserIDs {
				if uid == a.BotUserID {
					mentioned = true
				}
			}
		}

		return gateway.InboundMessage{
			Provider: "matrix",
			Source:   "matrix.gateway",
			Subject:  evt.RoomID,
			Text:     strings.TrimSpace(evt.Content.Body),
			Identity: gateway.ConversationIdentity{
				BotID:  a.BotID,
				ChatID: evt.RoomID,
			},
			SenderID:       evt.Sender,
			IsMention:      mentioned,
			IsReplyToBot:   false,
			IdempotencyKey: idempotencyKey,
		}, true, nil
	}

	return gateway.InboundMessage{}, false, nil
}
