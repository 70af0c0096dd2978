package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/bdobrica/ruriko-events/internal/events/errs"
)

func headerMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// handleTelegramWebhook serves POST /v1/integrations/telegram/webhook.
func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	body, err := readBody(r)
	if err != nil {
		badRequest(w, "failed to read request body")
		return
	}

	result, err := s.gw.IngestTelegramWebhook(r.Context(), body, headerMap(r.Header))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleFeishuEvents serves POST /v1/integrations/feishu/events, including
// Feishu's one-time URL-verification handshake.
func (s *Server) handleFeishuEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	body, err := readBody(r)
	if err != nil {
		badRequest(w, "failed to read request body")
		return
	}

	challenge, result, err := s.gw.IngestFeishuEvents(r.Context(), body, headerMap(r.Header))
	if err != nil {
		writeError(w, err)
		return
	}
	if challenge != "" {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleFeishuCardActions serves POST /v1/integrations/feishu/card-actions.
// Feishu delivers interactive card callbacks on a separate endpoint from
// message events, but the same normalize-then-dispatch pipeline applies.
func (s *Server) handleFeishuCardActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	body, err := readBody(r)
	if err != nil {
		badRequest(w, "failed to read request body")
		return
	}

	_, result, err := s.gw.IngestFeishuEvents(r.Context(), body, headerMap(r.Header))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleMatrixEvents serves POST /v1/integrations/matrix/events, the
// application-service transaction push endpoint.
func (s *Server) handleMatrixEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	body, err := readBody(r)
	if err != nil {
		badRequest(w, "failed to read request body")
		return
	}

	result, err := s.gw.IngestMatrixEvents(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type outboundTestRequest struct {
	ChatID string `json:"chat_id"`
}

// handleOutboundTest serves POST /v1/integrations/{provider}/outbound/test.
func (s *Server) handleOutboundTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/integrations/")
	provider, ok := strings.CutSuffix(rest, "/outbound/test")
	if !ok || provider == "" {
		writeError(w, errs.ErrInvalidInput)
		return
	}

	var req outboundTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" {
		badRequest(w, "chat_id is required")
		return
	}

	if err := s.gw.TestOutbound(r.Context(), provider, req.ChatID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}
