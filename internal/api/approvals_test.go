package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bdobrica/ruriko-events/internal/events"
)

func TestListApprovals_DefaultsToPending(t *testing.T) {
	srv, st := newTestServer(t)

	if err := st.InsertApproval(context.Background(), &events.ApprovalRequest{
		ApprovalID: "apr_1",
		RuleID:     "rule_1",
		EventID:    "evt_1",
		RiskLevel:  events.RiskMedium,
		Context:    map[string]any{},
		Status:     events.ApprovalPending,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("failed to seed approval: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/approvals", nil)
	w := newRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	list := resp["approvals"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected 1 pending approval, got %d", len(list))
	}
}

func TestResolveApproval_ApprovesThenConflictsOnReResolve(t *testing.T) {
	srv, st := newTestServer(t)

	if err := st.InsertApproval(context.Background(), &events.ApprovalRequest{
		ApprovalID: "apr_2",
		RuleID:     "rule_1",
		EventID:    "evt_1",
		RiskLevel:  events.RiskHigh,
		Context:    map[string]any{},
		Status:     events.ApprovalPending,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("failed to seed approval: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"decision": events.ApprovalApproved})
	req := httptest.NewRequest(http.MethodPost, "/v1/approvals/apr_2/resolve", bytes.NewReader(body))
	w := newRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["resolved"] != true {
		t.Errorf("expected resolved=true, got %v", resp["resolved"])
	}

	secondReq := httptest.NewRequest(http.MethodPost, "/v1/approvals/apr_2/resolve", bytes.NewReader(body))
	secondW := newRecorder()
	srv.ServeHTTP(secondW, secondReq)
	if secondW.Code != http.StatusConflict {
		t.Fatalf("expected 409 on re-resolve of a terminal approval, got %d: %s", secondW.Code, secondW.Body.String())
	}
}

func TestResolveApproval_InvalidDecisionIsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"decision": "maybe"})
	req := httptest.NewRequest(http.MethodPost, "/v1/approvals/apr_x/resolve", bytes.NewReader(body))
	w := newRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
