package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/bdobrica/ruriko-events/internal/store"
)

type conversationResponse struct {
	ID            string    `json:"id"`
	Provider      string    `json:"provider"`
	BotID         string    `json:"bot_id"`
	ChatID        string    `json:"chat_id"`
	MainContextID string    `json:"main_context_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toConversationResponse(c store.GatewayConversation) conversationResponse {
	return conversationResponse{
		ID: c.ID, Provider: c.Provider, BotID: c.BotID, ChatID: c.ChatID,
		MainContextID: c.MainContextID, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
	}
}

type taskRunResponse struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversation_id"`
	RuntimeSessionID string         `json:"runtime_session_id"`
	SourceMessageID  string         `json:"source_message_id"`
	SnapshotVersion  int            `json:"snapshot_version"`
	Status           string         `json:"status"`
	ResultSummary    string         `json:"result_summary"`
	ResultMetadata   map[string]any `json:"result_metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func toTaskRunResponse(r store.GatewayTaskRun) taskRunResponse {
	return taskRunResponse{
		ID: r.ID, ConversationID: r.ConversationID, RuntimeSessionID: r.RuntimeSessionID,
		SourceMessageID: r.SourceMessageID, SnapshotVersion: r.SnapshotVersion, Status: r.Status,
		ResultSummary: r.ResultSummary, ResultMetadata: r.ResultMetadata,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

type gatewayMessageResponse struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ContextVersion int            `json:"context_version"`
	CreatedAt      time.Time      `json:"created_at"`
}

func toGatewayMessageResponse(m store.GatewayMessage) gatewayMessageResponse {
	return gatewayMessageResponse{
		ID: m.ID, ConversationID: m.ConversationID, Role: m.Role, Content: m.Content,
		Metadata: m.Metadata, ContextVersion: m.ContextVersion, CreatedAt: m.CreatedAt,
	}
}

// handleConversations serves GET /v1/gateway/conversations.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	list, err := s.gwCtx.ListConversations(r.Context(), r.URL.Query().Get("provider"), parseLimit(r, 100))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]conversationResponse, 0, len(list))
	for _, c := range list {
		out = append(out, toConversationResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

// handleConversationSubresource serves
// /v1/gateway/conversations/{id}/{runs,context}.
func (s *Server) handleConversationSubresource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/gateway/conversations/")
	rest = strings.Trim(rest, "/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		badRequest(w, "expected /v1/gateway/conversations/{id}/runs or /context")
		return
	}
	conversationID, sub := parts[0], parts[1]
	limit := parseLimit(r, 100)

	switch sub {
	case "runs":
		list, err := s.gwCtx.ListTaskRuns(r.Context(), conversationID, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]taskRunResponse, 0, len(list))
		for _, run := range list {
			out = append(out, toTaskRunResponse(run))
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": out})
	case "context":
		list, err := s.gwCtx.ListContext(r.Context(), conversationID, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]gatewayMessageResponse, 0, len(list))
		for _, m := range list {
			out = append(out, toGatewayMessageResponse(m))
		}
		writeJSON(w, http.StatusOK, map[string]any{"context": out})
	default:
		badRequest(w, "unknown conversation subresource")
	}
}
