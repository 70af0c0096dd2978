package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GatewayProviderConfig is one (provider, instance) configuration row:
// tokens, webhook secrets, default chat ids, kept as an opaque JSON blob.
type GatewayProviderConfig struct {
	Provider  string
	Instance  string
	Config    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GetGatewayConfig retrieves one provider/instance config row.
func (s *Store) GetGatewayConfig(ctx context.Context, provider, instance string) (*GatewayProviderConfig, error) {
	if instance == "" {
		instance = "default"
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT provider, instance, config, created_at, updated_at
		FROM gateway_configs WHERE provider = ? AND instance = ?
	`, provider, instance)

	var cfg GatewayProviderConfig
	var configJSON, createdAt, updatedAt string
	err := row.Scan(&cfg.Provider, &cfg.Instance, &configJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("gateway config not found: %s/%s", provider, instance)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gateway config: %w", err)
	}
	if err := json.Unmarshal([]byte(configJSON), &cfg.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gateway config: %w", err)
	}
	cfg.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	cfg.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetGatewayConfig upserts a provider/instance config row.
func (s *Store) SetGatewayConfig(ctx context.Context, provider, instance string, config map[string]any) error {
	if instance == "" {
		instance = "default"
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway config: %w", err)
	}
	now := formatTime(time.Now())

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO gateway_configs (provider, instance, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider, instance) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at
	`, provider, instance, string(configJSON), now, now)
	if err != nil {
		return fmt.Errorf("failed to set gateway config: %w", err)
	}
	return nil
}

// ListGatewayConfigs returns every configured provider/instance, optionally
// filtered to one provider.
func (s *Store) ListGatewayConfigs(ctx context.Context, provider string) ([]GatewayProviderConfig, error) {
	query := `SELECT provider, instance, config, created_at, updated_at FROM gateway_configs`
	args := []any{}
	if provider != "" {
		query += " WHERE provider = ?"
		args = append(args, provider)
	}
	query += " ORDER BY provider, instance"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list gateway configs: %w", err)
	}
	defer rows.Close()

	var out []GatewayProviderConfig
	for rows.Next() {
		var cfg GatewayProviderConfig
		var configJSON, createdAt, updatedAt string
		if err := rows.Scan(&cfg.Provider, &cfg.Instance, &configJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan gateway config: %w", err)
		}
		if err := json.Unmarshal([]byte(configJSON), &cfg.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal gateway config: %w", err)
		}
		cfg.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		cfg.UpdatedAt, err = parseTime(updatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// DeleteGatewayConfig removes a provider/instance config row. It is
// idempotent: deleting a missing row is not an error.
func (s *Store) DeleteGatewayConfig(ctx context.Context, provider, instance string) error {
	if instance == "" {
		instance = "default"
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM gateway_configs WHERE provider = ? AND instance = ?`, provider, instance)
	if err != nil {
		return fmt.Errorf("failed to delete gateway config: %w", err)
	}
	return nil
}
