package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/ruriko-events/internal/events"
)

type ingestEventRequest struct {
	EventType      string         `json:"event_type"`
	Source         string         `json:"source"`
	Subject        string         `json:"subject"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
	RiskHint       string         `json:"risk_hint"`
}

type eventResponse struct {
	EventID        string         `json:"event_id"`
	EventType      string         `json:"event_type"`
	Source         string         `json:"source"`
	Subject        string         `json:"subject"`
	Payload        map[string]any `json:"payload"`
	Timestamp      time.Time      `json:"timestamp"`
	IdempotencyKey string         `json:"idempotency_key"`
	RiskHint       string         `json:"risk_hint"`
}

func toEventResponse(e events.Event) eventResponse {
	return eventResponse{
		EventID:        e.EventID,
		EventType:      e.EventType,
		Source:         e.Source,
		Subject:        e.Subject,
		Payload:        e.Payload,
		Timestamp:      e.Timestamp,
		IdempotencyKey: e.IdempotencyKey,
		RiskHint:       e.RiskHint,
	}
}

type ruleExecutionResultResponse struct {
	RunID      string   `json:"run_id"`
	RuleID     string   `json:"rule_id"`
	EventID    string   `json:"event_id"`
	Decision   string   `json:"decision"`
	Status     string   `json:"status"`
	Reason     string   `json:"reason"`
	ApprovalID string   `json:"approval_id,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

func toResultResponses(results []events.RuleExecutionResult) []ruleExecutionResultResponse {
	out := make([]ruleExecutionResultResponse, 0, len(results))
	for _, r := range results {
		out = append(out, ruleExecutionResultResponse{
			RunID:      r.RunID,
			RuleID:     r.RuleID,
			EventID:    r.EventID,
			Decision:   r.Decision,
			Status:     r.Status,
			Reason:     r.Reason,
			ApprovalID: r.ApprovalID,
			Errors:     r.Errors,
		})
	}
	return out
}

// handleEvents serves POST /v1/events (ingest) and GET /v1/events (list by
// type).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.ingestEvent(w, r)
	case http.MethodGet:
		s.listEvents(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var req ingestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}
	if req.EventType == "" {
		badRequest(w, "event_type is required")
		return
	}

	event := &events.Event{
		EventID:        "evt_" + uuid.NewString(),
		EventType:      req.EventType,
		Source:         req.Source,
		Subject:        req.Subject,
		Payload:        req.Payload,
		Timestamp:      time.Now().UTC(),
		IdempotencyKey: req.IdempotencyKey,
		RiskHint:       req.RiskHint,
	}
	if event.IdempotencyKey == "" {
		event.IdempotencyKey = event.EventID
	}

	results, err := s.engine.Emit(r.Context(), event)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"event_id":      event.EventID,
		"matched_rules": len(results),
		"event":         toEventResponse(*event),
		"results":       toResultResponses(results),
	})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	eventType := r.URL.Query().Get("event_type")
	limit := parseLimit(r, 100)

	list, err := s.engine.ListEvents(r.Context(), eventType, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]eventResponse, 0, len(list))
	for _, e := range list {
		out = append(out, toEventResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// handleEventByID serves GET /v1/events/{id} and POST
// /v1/events/{id}/replay[?force=true].
func (s *Server) handleEventByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/events/")
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" {
		methodNotAllowed(w)
		return
	}

	if id, ok := strings.CutSuffix(rest, "/replay"); ok {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.replayEvent(w, r, id)
		return
	}

	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	event, err := s.events.GetEvent(r.Context(), rest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponse(*event))
}

func (s *Server) replayEvent(w http.ResponseWriter, r *http.Request, eventID string) {
	force := r.URL.Query().Get("force") == "true"

	var results []events.RuleExecutionResult
	var err error
	if force {
		results, err = s.engine.ReplayEventForce(r.Context(), eventID)
	} else {
		results, err = s.engine.ReplayEvent(r.Context(), eventID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": toResultResponses(results)})
}

// maxListLimit caps every list endpoint's page size.
const maxListLimit = 500

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
