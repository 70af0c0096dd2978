// Package api exposes the event engine and gateway stack over HTTP: event
// ingestion and listing, approval resolution, dashboard views, provider
// webhook endpoints, and gateway configuration. A single http.ServeMux
// carries every route; no router library.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bdobrica/ruriko-events/internal/events"
	"github.com/bdobrica/ruriko-events/internal/gateway"
)

// Engine is the subset of *events.EventEngine the API depends on.
type Engine interface {
	Emit(ctx context.Context, event *events.Event) ([]events.RuleExecutionResult, error)
	ListEvents(ctx context.Context, eventType string, limit int) ([]events.Event, error)
	ListEventsAfter(ctx context.Context, eventID, eventType string, limit int) ([]events.Event, error)
	ListPendingApprovals(ctx context.Context) ([]events.ApprovalRequest, error)
	ListApprovals(ctx context.Context, status string, limit int) ([]events.ApprovalRequest, error)
	ListRuleRuns(ctx context.Context, ruleID, eventID, status string, limit int) ([]events.RuleRun, error)
	ListRules() []events.EventRule
	Metrics(ctx context.Context) (events.Metrics, error)
	ResolveApproval(ctx context.Context, approvalID, decision string) (events.ResolveResult, error)
	ReplayEvent(ctx context.Context, eventID string) ([]events.RuleExecutionResult, error)
	ReplayEventForce(ctx context.Context, eventID string) ([]events.RuleExecutionResult, error)
}

// GetEvent is implemented by *events.EventEngine's backing store; the API
// needs it for GET /v1/events/{id} but it isn't part of Engine above since
// EventEngine doesn't expose it directly. Server takes it as a separate
// dependency to keep Engine's surface narrow.
type EventGetter interface {
	GetEvent(ctx context.Context, eventID string) (*events.Event, error)
}

// Server wires the HTTP surface over an Engine, a GatewayManager, and a
// GatewayContextService. It is optional; callers that don't need an HTTP
// API simply never call Start.
type Server struct {
	addr      string
	engine    Engine
	events    EventGetter
	gw        *gateway.GatewayManager
	gwCtx     *gateway.GatewayContextService
	startedAt time.Time
	mux       *http.ServeMux
	server    *http.Server
}

// NewServer builds and wires every route. addr is the bind address (e.g.
// ":8080"); pass "" and never call Start to run headless.
func NewServer(addr string, engine Engine, eventGetter EventGetter, gw *gateway.GatewayManager, gwCtx *gateway.GatewayContextService) *Server {
	s := &Server{
		addr:      addr,
		engine:    engine,
		events:    eventGetter,
		gw:        gw,
		gwCtx:     gwCtx,
		startedAt: time.Now(),
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/status", s.handleStatus)

	s.mux.HandleFunc("/v1/events", s.handleEvents)
	s.mux.HandleFunc("/v1/events/", s.handleEventByID)

	s.mux.HandleFunc("/v1/approvals", s.handleApprovals)
	s.mux.HandleFunc("/v1/approvals/", s.handleApprovalResolve)

	s.mux.HandleFunc("/v1/dashboard/events", s.handleDashboardEvents)
	s.mux.HandleFunc("/v1/dashboard/rule-runs", s.handleDashboardRuleRuns)
	s.mux.HandleFunc("/v1/dashboard/summary", s.handleDashboardSummary)
	s.mux.HandleFunc("/v1/dashboard/live", s.handleDashboardLive)

	s.mux.HandleFunc("/v1/metrics/events", s.handleMetrics)

	s.mux.HandleFunc("/v1/webhooks/", s.handleWebhook)

	s.mux.HandleFunc("/v1/integrations/telegram/webhook", s.handleTelegramWebhook)
	s.mux.HandleFunc("/v1/integrations/feishu/events", s.handleFeishuEvents)
	s.mux.HandleFunc("/v1/integrations/feishu/card-actions", s.handleFeishuCardActions)
	s.mux.HandleFunc("/v1/integrations/matrix/events", s.handleMatrixEvents)
	s.mux.HandleFunc("/v1/integrations/", s.handleOutboundTest)

	s.mux.HandleFunc("/v1/config/gateways", s.handleGatewayConfigs)
	s.mux.HandleFunc("/v1/config/gateways/", s.handleGatewayConfigs)

	s.mux.HandleFunc("/v1/gateway/conversations", s.handleConversations)
	s.mux.HandleFunc("/v1/gateway/conversations/", s.handleConversationSubresource)
}

// ServeHTTP implements http.Handler so the server can be exercised in tests
// with httptest.NewRecorder without a live network listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start begins listening in the background. Blocks until the listener is
// established so the caller knows the port is open before returning.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api server: listen %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("api server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("api server shutdown error", "err", err)
		}
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		slog.Warn("api server shutdown error", "err", err)
	}
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: failed to encode JSON response", "err", err)
	}
}
