package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bdobrica/ruriko-events/internal/events"
	"github.com/bdobrica/ruriko-events/internal/events/errs"
)

type approvalResponse struct {
	ApprovalID string         `json:"approval_id"`
	RuleID     string         `json:"rule_id"`
	EventID    string         `json:"event_id"`
	RiskLevel  string         `json:"risk_level"`
	Context    map[string]any `json:"context"`
	Status     string         `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

func toApprovalResponse(a events.ApprovalRequest) approvalResponse {
	return approvalResponse{
		ApprovalID: a.ApprovalID,
		RuleID:     a.RuleID,
		EventID:    a.EventID,
		RiskLevel:  a.RiskLevel,
		Context:    a.Context,
		Status:     a.Status,
		CreatedAt:  a.CreatedAt,
		ResolvedAt: a.ResolvedAt,
	}
}

// handleApprovals serves GET /v1/approvals?status=pending&limit=50.
func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	status := r.URL.Query().Get("status")
	limit := parseLimit(r, 100)

	var (
		list []events.ApprovalRequest
		err  error
	)
	if status == "" {
		status = "pending"
	}
	if status == "pending" {
		list, err = s.engine.ListPendingApprovals(r.Context())
	} else {
		list, err = s.engine.ListApprovals(r.Context(), status, limit)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]approvalResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toApprovalResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": out})
}

type resolveApprovalRequest struct {
	Decision string `json:"decision"`
}

// handleApprovalResolve serves POST /v1/approvals/{id}/resolve.
func (s *Server) handleApprovalResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/approvals/")
	id, ok := strings.CutSuffix(rest, "/resolve")
	if !ok || id == "" {
		badRequest(w, "expected /v1/approvals/{id}/resolve")
		return
	}

	var req resolveApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed JSON body")
		return
	}
	if req.Decision != events.ApprovalApproved && req.Decision != events.ApprovalRejected {
		writeError(w, errs.ErrInvalidInput)
		return
	}

	result, err := s.engine.ResolveApproval(r.Context(), id, req.Decision)
	if err != nil {
		writeError(w, err)
		return
	}
	if !result.Resolved {
		writeError(w, errs.ErrConflict)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"resolved": result.Resolved,
		"status":   result.Status,
	})
}
