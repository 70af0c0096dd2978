package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// GatewayConversation is a per-(provider, bot, chat) long-lived context.
type GatewayConversation struct {
	ID            string
	Provider      string
	GatewayKey    string
	BotID         string
	ChatID        string
	MainContextID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// GatewayMessage is one append-only turn in a conversation's context.
type GatewayMessage struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	Metadata       map[string]any
	ContextVersion int
	CreatedAt      time.Time
}

// GatewayTaskRun is an isolated execution record spawned from one inbound
// message.
type GatewayTaskRun struct {
	ID               string
	ConversationID   string
	RuntimeSessionID string
	SourceMessageID  string
	SnapshotVersion  int
	Status           string
	ResultSummary    string
	ResultMetadata   map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// GetConversationByKey looks up a conversation by its gateway_key
// (provider:bot_id:chat_id). Returns nil, nil if none exists.
func (s *Store) GetConversationByKey(ctx context.Context, gatewayKey string) (*GatewayConversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider, gateway_key, bot_id, chat_id, main_context_id, created_at, updated_at
		FROM gateway_conversations WHERE gateway_key = ?
	`, gatewayKey)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// CreateConversation inserts a new conversation row.
func (s *Store) CreateConversation(ctx context.Context, conv *GatewayConversation) error {
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_conversations (id, provider, gateway_key, bot_id, chat_id, main_context_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, conv.ID, conv.Provider, conv.GatewayKey, conv.BotID, conv.ChatID, conv.MainContextID,
		formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*GatewayConversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider, gateway_key, bot_id, chat_id, main_context_id, created_at, updated_at
		FROM gateway_conversations WHERE id = ?
	`, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns conversations newest first, optionally
// filtered to one provider.
func (s *Store) ListConversations(ctx context.Context, provider string, limit int) ([]GatewayConversation, error) {
	query := `
		SELECT id, provider, gateway_key, bot_id, chat_id, main_context_id, created_at, updated_at
		FROM gateway_conversations
	`
	args := []any{}
	if provider != "" {
		query += " WHERE provider = ?"
		args = append(args, provider)
	}
	query += " ORDER BY updated_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []GatewayConversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, *conv)
	}
	return out, rows.Err()
}

func scanConversation(row rowScanner) (*GatewayConversation, error) {
	var conv GatewayConversation
	var createdAt, updatedAt string
	err := row.Scan(&conv.ID, &conv.Provider, &conv.GatewayKey, &conv.BotID, &conv.ChatID,
		&conv.MainContextID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	conv.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	conv.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// AppendMessage inserts a new message, assigning it the next
// context_version for its conversation. The read-then-write is done
// inside a transaction so concurrent appends to the same conversation
// serialize on context_version rather than racing.
func (s *Store) AppendMessage(ctx context.Context, msg *GatewayMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(context_version) FROM gateway_messages WHERE conversation_id = ?`, msg.ConversationID,
	).Scan(&maxVersion)
	if err != nil {
		return fmt.Errorf("failed to read max context version: %w", err)
	}
	msg.ContextVersion = int(maxVersion.Int64) + 1
	msg.CreatedAt = time.Now().UTC()

	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal message metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO gateway_messages (id, conversation_id, role, content, metadata, context_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.Role, msg.Content, string(metadata), msg.ContextVersion,
		formatTime(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE gateway_conversations SET updated_at = ? WHERE id = ?`,
		formatTime(msg.CreatedAt), msg.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}

	return tx.Commit()
}

// ListContext returns a conversation's messages in ascending
// context_version order, optionally limited to the most recent limit
// entries.
func (s *Store) ListContext(ctx context.Context, conversationID string, limit int) ([]GatewayMessage, error) {
	query := `
		SELECT id, conversation_id, role, content, metadata, context_version, created_at
		FROM gateway_messages WHERE conversation_id = ? ORDER BY context_version ASC
	`
	args := []any{conversationID}
	if limit > 0 {
		query = `
			SELECT id, conversation_id, role, content, metadata, context_version, created_at FROM (
				SELECT id, conversation_id, role, content, metadata, context_version, created_at
				FROM gateway_messages WHERE conversation_id = ?
				ORDER BY context_version DESC LIMIT ?
			) ORDER BY context_version ASC
		`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list context: %w", err)
	}
	defer rows.Close()

	var out []GatewayMessage
	for rows.Next() {
		var msg GatewayMessage
		var metadata, createdAt string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&metadata, &msg.ContextVersion, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
		}
		msg.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse message timestamp: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// LastAssistantMessageAt returns the timestamp of the most recent
// assistant-role message in conversationID, if any.
func (s *Store) LastAssistantMessageAt(ctx context.Context, conversationID string) (bool, time.Time, error) {
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM gateway_messages
		WHERE conversation_id = ? AND role = 'assistant'
		ORDER BY context_version DESC LIMIT 1
	`, conversationID).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, fmt.Errorf("failed to get last assistant message: %w", err)
	}
	ts, err := parseTime(createdAt)
	if err != nil {
		return false, time.Time{}, err
	}
	return true, ts, nil
}

// CreateTaskRun inserts a new task run in status queued.
func (s *Store) CreateTaskRun(ctx context.Context, run *GatewayTaskRun) error {
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	metadata, err := json.Marshal(run.ResultMetadata)
	if err != nil {
		return fmt.Errorf("failed to marshal task run metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO gateway_task_runs (id, conversation_id, runtime_session_id, source_message_id, snapshot_version, status, result_summary, result_metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.ConversationID, run.RuntimeSessionID, run.SourceMessageID, run.SnapshotVersion,
		run.Status, run.ResultSummary, string(metadata),
		formatTime(run.CreatedAt), formatTime(run.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create task run: %w", err)
	}
	return nil
}

// UpdateTaskRun mutates a task run's terminal status and result.
func (s *Store) UpdateTaskRun(ctx context.Context, id, status, resultSummary string, resultMetadata map[string]any) error {
	metadata, err := json.Marshal(resultMetadata)
	if err != nil {
		return fmt.Errorf("failed to marshal task run metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE gateway_task_runs SET status = ?, result_summary = ?, result_metadata = ?, updated_at = ?
		WHERE id = ?
	`, status, resultSummary, string(metadata), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update task run: %w", err)
	}
	return nil
}

// GetTaskRun retrieves a task run by id.
func (s *Store) GetTaskRun(ctx context.Context, id string) (*GatewayTaskRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, runtime_session_id, source_message_id, snapshot_version, status, result_summary, result_metadata, created_at, updated_at
		FROM gateway_task_runs WHERE id = ?
	`, id)
	return scanTaskRun(row)
}

// ListTaskRuns returns conversationID's task runs, newest first.
func (s *Store) ListTaskRuns(ctx context.Context, conversationID string, limit int) ([]GatewayTaskRun, error) {
	query := `
		SELECT id, conversation_id, runtime_session_id, source_message_id, snapshot_version, status, result_summary, result_metadata, created_at, updated_at
		FROM gateway_task_runs WHERE conversation_id = ? ORDER BY created_at DESC
	`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list task runs: %w", err)
	}
	defer rows.Close()

	var out []GatewayTaskRun
	for rows.Next() {
		run, err := scanTaskRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func scanTaskRun(row rowScanner) (*GatewayTaskRun, error) {
	var run GatewayTaskRun
	var metadata, createdAt, updatedAt string
	err := row.Scan(&run.ID, &run.ConversationID, &run.RuntimeSessionID, &run.SourceMessageID,
		&run.SnapshotVersion, &run.Status, &run.ResultSummary, &metadata, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadata), &run.ResultMetadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task run metadata: %w", err)
	}
	run.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	run.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	return &run, nil
}
