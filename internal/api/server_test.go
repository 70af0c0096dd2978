package api_test

import (
	"net/http/httptest"
	"os"
	"testing"

	"github.com/bdobrica/ruriko-events/internal/api"
	"github.com/bdobrica/ruriko-events/internal/events"
	"github.com/bdobrica/ruriko-events/internal/events/actions"
	"github.com/bdobrica/ruriko-events/internal/gateway"
	"github.com/bdobrica/ruriko-events/internal/store"
	"github.com/bdobrica/ruriko-events/internal/taskrunner"
)

func newTestServer(t *testing.T) (*api.Server, *store.Store) {
	t.Helper()
	srv, st, _ := newTestHarness(t)
	return srv, st
}

func newTestServerWithGateway(t *testing.T) (*api.Server, *gateway.GatewayManager) {
	t.Helper()
	srv, _, gw := newTestHarness(t)
	return srv, gw
}

func newTestHarness(t *testing.T) (*api.Server, *store.Store, *gateway.GatewayManager) {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db file: %v", err)
	}
	f.Close()

	st, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	runner := taskrunner.New()
	bus := events.NewEventBus()
	approvals := events.NewApprovalManager(st, bus)
	registry := actions.NewRegistry(actions.NoopSink{}, runner.ForActions())
	router := events.NewEventRouter(registry)
	budget := events.NewAttentionBudget()
	rulesEngine := events.NewRulesEngine(st, router, approvals, budget)
	engine := events.NewEventEngine(st, t.TempDir(), rulesEngine, approvals, bus)

	ctxSvc := gateway.NewGatewayContextService(st, runner.ForGateway(), f.Name(), t.TempDir(), nil)
	gw := gateway.NewGatewayManager(st, ctxSvc, engine)

	return api.NewServer("127.0.0.1:0", engine, st, gw, ctxSvc), st, gw
}

func newRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
