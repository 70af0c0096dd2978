package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bdobrica/ruriko-events/internal/gateway/providers/feishu"
)

func TestFeishuURLVerificationTokenCheck(t *testing.T) {
	srv, gw := newTestServerWithGateway(t)
	gw.RegisterFeishuAdapter(feishu.New("app1"))
	if err := gw.SetConfig(context.Background(), "feishu", "", map[string]any{"verification_token": "token_123"}); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	body := []byte(`{"type": "url_verification", "challenge": "abc", "token": "wrong"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/integrations/feishu/events", bytes.NewReader(body))
	w := newRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: expected 401, got %d (%s)", w.Code, w.Body.String())
	}

	body = []byte(`{"type": "url_verification", "challenge": "abc", "token": "token_123"}`)
	req = httptest.NewRequest(http.MethodPost, "/v1/integrations/feishu/events", bytes.NewReader(body))
	w = newRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("right token: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["challenge"] != "abc" {
		t.Fatalf("expected the challenge echoed back, got %+v", resp)
	}
}

func TestFeishuEventsUnconfiguredAdapterErrors(t *testing.T) {
	srv, _ := newTestServerWithGateway(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/integrations/feishu/events", bytes.NewReader([]byte(`{}`)))
	w := newRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 with no adapter configured, got %d", w.Code)
	}
}
