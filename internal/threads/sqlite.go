package threads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/deco-cx/agent-runtime/pkg/models"
)

// SQLiteStore implements the Store interface using SQLite. The driver is
// pure Go, so the store works without cgo in tests and single-node deploys.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS threads (
	id          TEXT PRIMARY KEY,
	resource_id TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	metadata    TEXT,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_threads_resource ON threads(resource_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	thread_id    TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL DEFAULT '',
	attachments  TEXT,
	tool_calls   TEXT,
	tool_results TEXT,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at);

CREATE TABLE IF NOT EXISTS agent_configurations (
	id         TEXT PRIMARY KEY,
	config     TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// NewSQLiteStore opens (or creates) a SQLite database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; a second writer connection would only
	// surface SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GenerateID() string {
	return uuid.NewString()
}

func (s *SQLiteStore) GetThreadByID(ctx context.Context, id string) (*models.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, resource_id, title, metadata, created_at, updated_at
		FROM threads WHERE id = ?
	`, id)
	return scanThread(row)
}

// SaveThread inserts or fully replaces a thread row. Metadata is stored as a
// JSON document; concurrent savers race last-writer-wins on the whole row.
func (s *SQLiteStore) SaveThread(ctx context.Context, thread *models.Thread) error {
	if thread == nil {
		return errors.New("thread is required")
	}
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	now := time.Now()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now

	metadata, err := json.Marshal(thread.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (id, resource_id, title, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			resource_id = excluded.resource_id,
			title       = excluded.title,
			metadata    = excluded.metadata,
			updated_at  = excluded.updated_at
	`, thread.ID, thread.ResourceID, thread.Title, string(metadata), thread.CreatedAt, thread.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save thread: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteThread(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrThreadNotFound
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, opts QueryOptions) ([]*models.Thread, error) {
	query := `
		SELECT id, resource_id, title, metadata, created_at, updated_at
		FROM threads
	`
	var args []any
	if opts.ResourceID != "" {
		query += ` WHERE resource_id = ?`
		args = append(args, opts.ResourceID)
	}
	query += ` ORDER BY updated_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}
	defer rows.Close()

	var threads []*models.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, thread)
	}
	return threads, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, threadID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.ThreadID = threadID

	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal attachments: %w", err)
	}
	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("failed to marshal tool calls: %w", err)
	}
	toolResults, err := json.Marshal(msg.ToolResults)
	if err != nil {
		return fmt.Errorf("failed to marshal tool results: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, role, content, attachments, tool_calls, tool_results, created_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM threads WHERE id = ?)
	`, msg.ID, threadID, string(msg.Role), msg.Content,
		string(attachments), string(toolCalls), string(toolResults), msg.CreatedAt, threadID)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check append result: %w", err)
	}
	if affected == 0 {
		return ErrThreadNotFound
	}

	if _, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at = ? WHERE id = ?`, msg.CreatedAt, threadID); err != nil {
		return fmt.Errorf("failed to touch thread: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetMessages(ctx context.Context, threadID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, thread_id, role, content, attachments, tool_calls, tool_results, created_at
		FROM messages WHERE thread_id = ?
		ORDER BY created_at DESC, id DESC
	`
	args := []any{threadID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var (
			msg                                 models.Message
			role                                string
			attachments, toolCalls, toolResults []byte
		)
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &role, &msg.Content,
			&attachments, &toolCalls, &toolResults, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
			}
		}
		if len(toolCalls) > 0 {
			if err := json.Unmarshal(toolCalls, &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool calls: %w", err)
			}
		}
		if len(toolResults) > 0 {
			if err := json.Unmarshal(toolResults, &msg.ToolResults); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool results: %w", err)
			}
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The query walks newest-first to honor the limit; callers want
	// chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// GetConfiguration loads a stored agent configuration. A missing row means
// the agent was never configured and returns (nil, nil).
func (s *SQLiteStore) GetConfiguration(ctx context.Context, agentID string) (*models.AgentConfiguration, error) {
	var configJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT config FROM agent_configurations WHERE id = ?`, agentID).Scan(&configJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var cfg models.AgentConfiguration
	if err := json.Unmarshal(configJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return &cfg, nil
}

// SaveConfiguration upserts an agent configuration and returns the stored
// object.
func (s *SQLiteStore) SaveConfiguration(ctx context.Context, cfg *models.AgentConfiguration) (*models.AgentConfiguration, error) {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal configuration: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_configurations (id, config, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			config     = excluded.config,
			updated_at = excluded.updated_at`,
		cfg.ID, configJSON, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to save configuration: %w", err)
	}
	return cfg.Clone(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*models.Thread, error) {
	var (
		thread       models.Thread
		metadataJSON []byte
	)
	err := row.Scan(&thread.ID, &thread.ResourceID, &thread.Title,
		&metadataJSON, &thread.CreatedAt, &thread.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan thread: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &thread.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &thread, nil
}
