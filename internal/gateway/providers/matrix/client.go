// Package matrix sends outbound replies over a Matrix room and normalizes
// inbound application-service transaction events into the gateway's
// provider-agnostic inbound message shape.
package matrix

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config holds the Matrix client configuration needed to send replies.
// The bot only ever sends; inbound events arrive over the application
// service transaction endpoint, not the sync API, so no Syncer is wired.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
}

// Client wraps a mautrix.Client for outbound replies.
type Client struct {
	client *mautrix.Client
	userID string
}

// NewClient creates an outbound Matrix client.
func NewClient(config Config) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	return &Client{client: client, userID: config.UserID}, nil
}

// SendMessage sends a plain text message to a room. It backs the
// gateway's default notify sink and the GatewayManager's per-provider
// outbound sender for Matrix.
func (c *Client) SendMessage(ctx context.Context, roomID, message string) error {
	if _, err := c.client.SendText(ctx, id.RoomID(roomID), message); err != nil {
		return fmt.Errorf("failed to send matrix message: %w", err)
	}
	return nil
}

// ReplyToEvent sends message as a threaded reply to eventID in roomID.
func (c *Client) ReplyToEvent(ctx context.Context, roomID, eventID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    message,
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: id.EventID(eventID)},
		},
	}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("failed to send matrix reply: %w", err)
	}
	return nil
}

// UserID returns the bot's own Matrix user id, used by Normalize to skip
// echoes of its own messages.
func (c *Client) UserID() string {
	return c.userID
}
