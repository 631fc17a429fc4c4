package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/agentflow/internal/observability"
	"github.com/harun/agentflow/internal/tracing"
	"github.com/harun/agentflow/pkg/conversation"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// SQLiteStore keeps conversations in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	observability.EnsureRegistered()

	if path == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "session_store").Str("driver", "sqlite").Logger(),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL DEFAULT '',
			model_type TEXT NOT NULL DEFAULT '',
			model_name TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			turn_count INTEGER NOT NULL DEFAULT 0,
			preview TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

		CREATE TABLE IF NOT EXISTS turns (
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (conversation_id, seq),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, id string) ([]conversation.Turn, error) {
	conv, err := s.Get(ctx, id)
	if errors.Is(err, ErrConversationNotFound) {
		return []conversation.Turn{}, nil
	}
	if err != nil {
		return nil, err
	}
	return conv.Turns, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Conversation, error) {
	ctx, span := tracing.StartSpan(ctx, "agentflow.session", "session.load", attribute.String("conversation.id", id))
	start := time.Now()
	defer func() { observability.RecordSessionOperation("load", time.Since(start)) }()

	conv, err := s.get(ctx, id)
	tracing.EndSpan(span, err)
	return conv, err
}

func (s *SQLiteStore) get(ctx context.Context, id string) (*Conversation, error) {
	if err := ValidateConversationID(id); err != nil {
		return nil, err
	}

	var created, updated int64
	conv := &Conversation{ID: id, Turns: []conversation.Turn{}}
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_name, model_type, model_name, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.Metadata.AgentName, &conv.Metadata.ModelType, &conv.Metadata.ModelName, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	conv.Metadata.CreatedAt = time.Unix(0, created).UTC()
	conv.Metadata.UpdatedAt = time.Unix(0, updated).UTC()

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM turns WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		var turn conversation.Turn
		if err := json.Unmarshal([]byte(data), &turn); err != nil {
			s.logger.Warn().Str("conversation_id", id).Err(err).Msg("Skipping invalid turn")
			continue
		}
		conv.Turns = append(conv.Turns, turn)
	}
	return conv, rows.Err()
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, id string, turns []conversation.Turn, meta Metadata) error {
	ctx, span := tracing.StartSpan(ctx, "agentflow.session", "session.save",
		attribute.String("conversation.id", id),
		attribute.Int("turns", len(turns)),
	)
	start := time.Now()
	defer func() { observability.RecordSessionOperation("save", time.Since(start)) }()

	err := s.save(ctx, id, turns, meta)
	tracing.EndSpan(span, err)
	return err
}

func (s *SQLiteStore) save(ctx context.Context, id string, turns []conversation.Turn, meta Metadata) error {
	if err := ValidateConversationID(id); err != nil {
		return err
	}
	meta = stampMetadata(meta, nil)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, agent_name, model_type, model_name, created_at, updated_at, turn_count, preview)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_name = excluded.agent_name,
			model_type = excluded.model_type,
			model_name = excluded.model_name,
			updated_at = excluded.updated_at,
			turn_count = excluded.turn_count,
			preview = excluded.preview`,
		id, meta.AgentName, meta.ModelType, meta.ModelName,
		meta.CreatedAt.UnixNano(), meta.UpdatedAt.UnixNano(), len(turns), preview(turns),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear turns: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO turns (conversation_id, seq, data) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare turn insert: %w", err)
	}
	defer stmt.Close()

	for i, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to marshal turn: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, id, i, string(data)); err != nil {
			return fmt.Errorf("failed to insert turn: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation: %w", err)
	}
	return nil
}

// List implements Store. Newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_name, turn_count, updated_at, preview FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var sum Summary
		var updated int64
		if err := rows.Scan(&sum.ID, &sum.AgentName, &sum.TurnCount, &updated, &sum.Preview); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		sum.UpdatedAt = time.Unix(0, updated).UTC()
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if err := ValidateConversationID(id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
