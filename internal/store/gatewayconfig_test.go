package store_test

import (
	"context"
	"testing"
)

func TestGatewayConfigUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetGatewayConfig(ctx, "telegram", "", map[string]any{"token": "abc"}); err != nil {
		t.Fatalf("SetGatewayConfig: %v", err)
	}

	got, err := s.GetGatewayConfig(ctx, "telegram", "")
	if err != nil {
		t.Fatalf("GetGatewayConfig: %v", err)
	}
	if got.Instance != "default" {
		t.Fatalf("empty instance should default to %q, got %q", "default", got.Instance)
	}
	if got.Config["token"] != "abc" {
		t.Fatalf("Config not round-tripped: %+v", got.Config)
	}

	if err := s.SetGatewayConfig(ctx, "telegram", "", map[string]any{"token": "xyz"}); err != nil {
		t.Fatalf("SetGatewayConfig (update): %v", err)
	}
	updated, err := s.GetGatewayConfig(ctx, "telegram", "")
	if err != nil {
		t.Fatalf("GetGatewayConfig (after update): %v", err)
	}
	if updated.Config["token"] != "xyz" {
		t.Fatalf("expected upsert to overwrite token, got %+v", updated.Config)
	}
}

func TestGatewayConfigNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetGatewayConfig(context.Background(), "feishu", "default"); err == nil {
		t.Fatal("expected an error for a missing gateway config")
	}
}

func TestListGatewayConfigsFiltersByProvider(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetGatewayConfig(ctx, "telegram", "primary", map[string]any{"token": "t1"}); err != nil {
		t.Fatalf("SetGatewayConfig: %v", err)
	}
	if err := s.SetGatewayConfig(ctx, "telegram", "secondary", map[string]any{"token": "t2"}); err != nil {
		t.Fatalf("SetGatewayConfig: %v", err)
	}
	if err := s.SetGatewayConfig(ctx, "feishu", "default", map[string]any{"token": "f1"}); err != nil {
		t.Fatalf("SetGatewayConfig: %v", err)
	}

	all, err := s.ListGatewayConfigs(ctx, "")
	if err != nil {
		t.Fatalf("ListGatewayConfigs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d configs, want 3", len(all))
	}

	telegramOnly, err := s.ListGatewayConfigs(ctx, "telegram")
	if err != nil {
		t.Fatalf("ListGatewayConfigs(telegram): %v", err)
	}
	if len(telegramOnly) != 2 {
		t.Fatalf("got %d telegram configs, want 2", len(telegramOnly))
	}
}

func TestDeleteGatewayConfigIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetGatewayConfig(ctx, "telegram", "default", map[string]any{"token": "t"}); err != nil {
		t.Fatalf("SetGatewayConfig: %v", err)
	}
	if err := s.DeleteGatewayConfig(ctx, "telegram", "default"); err != nil {
		t.Fatalf("DeleteGatewayConfig: %v", err)
	}
	if err := s.DeleteGatewayConfig(ctx, "telegram", "default"); err != nil {
		t.Fatalf("DeleteGatewayConfig (second call): %v", err)
	}
	if _, err := s.GetGatewayConfig(ctx, "telegram", "default"); err == nil {
		t.Fatal("expected config to be gone after delete")
	}
}
