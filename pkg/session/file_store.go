package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/agentflow/internal/observability"
	"github.com/harun/agentflow/internal/tracing"
	"github.com/harun/agentflow/pkg/conversation"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const fileExt = ".jsonl"

// fileHeader is the first line of every conversation file.
type fileHeader struct {
	ConversationID string   `json:"conversation_id"`
	Metadata       Metadata `json:"metadata"`
	TurnCount      int      `json:"turn_count"`
	Preview        string   `json:"preview,omitempty"`
}

// FileStore keeps one JSONL file per conversation: a metadata header line followed by one line per turn.
type FileStore struct {
	dir    string
	logger zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	observability.EnsureRegistered()

	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".agentflow", "conversations")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create conversations directory: %w", err)
	}

	logger = logger.With().Str("component", "session_store").Str("driver", "jsonl").Logger()
	logger.Debug().Str("dir", dir).Msg("Conversation store initialized")
	return &FileStore{dir: dir, logger: logger, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+fileExt)
}

func (s *FileStore) lock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context, id string) ([]conversation.Turn, error) {
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
func (s *FileStore) Get(ctx context.Context, id string) (*Conversation, error) {
	ctx, span := tracing.StartSpan(ctx, "agentflow.session", "session.load", attribute.String("conversation.id", id))
	start := time.Now()
	defer func() { observability.RecordSessionOperation("load", time.Since(start)) }()

	if err := ValidateConversationID(id); err != nil {
		tracing.EndSpan(span, err)
		return nil, err
	}

	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	conv, err := s.read(ctx, id)
	tracing.EndSpan(span, err)
	return conv, err
}

func (s *FileStore) read(ctx context.Context, id string) (*Conversation, error) {
	logger := tracing.LoggerFromContext(ctx, s.logger)

	file, err := os.Open(s.path(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation file: %w", err)
	}
	defer file.Close()

	conv := &Conversation{ID: id, Turns: []conversation.Turn{}}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if lineNum == 1 {
			var header fileHeader
			if err := json.Unmarshal(line, &header); err != nil {
				logger.Warn().Str("conversation_id", id).Err(err).Msg("Unreadable conversation header")
			} else {
				conv.Metadata = header.Metadata
			}
			continue
		}
		var turn conversation.Turn
		if err := json.Unmarshal(line, &turn); err != nil || !turn.Role.Valid() {
			logger.Warn().Str("conversation_id", id).Int("line", lineNum).Msg("Skipping invalid turn")
			continue
		}
		conv.Turns = append(conv.Turns, turn)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversation file: %w", err)
	}
	return conv, nil
}

// Save implements Store. The file is rewritten through a temp file and renamed into place.
func (s *FileStore) Save(ctx context.Context, id string, turns []conversation.Turn, meta Metadata) error {
	ctx, span := tracing.StartSpan(ctx, "agentflow.session", "session.save",
		attribute.String("conversation.id", id),
		attribute.Int("turns", len(turns)),
	)
	start := time.Now()
	defer func() { observability.RecordSessionOperation("save", time.Since(start)) }()

	if err := ValidateConversationID(id); err != nil {
		tracing.EndSpan(span, err)
		return err
	}

	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	var existing *Metadata
	if conv, err := s.read(ctx, id); err == nil {
		existing = &conv.Metadata
	}
	meta = stampMetadata(meta, existing)

	err := s.write(id, fileHeader{
		ConversationID: id,
		Metadata:       meta,
		TurnCount:      len(turns),
		Preview:        preview(turns),
	}, turns)
	if err == nil {
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Debug().
			Str("conversation_id", id).
			Int("turns", len(turns)).
			Msg("Conversation saved")
	}
	tracing.EndSpan(span, err)
	return err
}

func (s *FileStore) write(id string, header fileHeader, turns []conversation.Turn) error {
	target := s.path(id)
	tmp, err := os.CreateTemp(s.dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	if err := enc.Encode(header); err != nil {
		return fail(fmt.Errorf("failed to write header: %w", err))
	}
	for _, t := range turns {
		if err := enc.Encode(t); err != nil {
			return fail(fmt.Errorf("failed to write turn: %w", err))
		}
	}
	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("failed to flush conversation: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync conversation: %w", err))
	}
	if err := tmp.Chmod(0o600); err != nil {
		return fail(fmt.Errorf("failed to set permissions: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace conversation file: %w", err)
	}
	return nil
}

// List implements Store. Newest first.
func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Summary{}, nil
		}
		return nil, fmt.Errorf("failed to read conversations directory: %w", err)
	}

	summaries := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		id := strings.TrimSuffix(name, fileExt)
		header, err := s.readHeader(id)
		if err != nil {
			s.logger.Warn().Str("conversation_id", id).Err(err).Msg("Skipping unreadable conversation")
			continue
		}
		summaries = append(summaries, Summary{
			ID:        id,
			AgentName: header.Metadata.AgentName,
			TurnCount: header.TurnCount,
			UpdatedAt: header.Metadata.UpdatedAt,
			Preview:   header.Preview,
		})
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt) })
	return summaries, nil
}

func (s *FileStore) readHeader(id string) (fileHeader, error) {
	var header fileHeader
	file, err := os.Open(s.path(id))
	if err != nil {
		return header, err
	}
	defer file.Close()

	line, err := bufio.NewReader(file).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return header, err
	}
	if err := json.Unmarshal(line, &header); err != nil {
		return header, err
	}
	return header, nil
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ValidateConversationID(id); err != nil {
		return err
	}

	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
		}
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	s.locksMu.Lock()
	delete(s.locks, id)
	s.locksMu.Unlock()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().Str("conversation_id", id).Msg("Conversation deleted")
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}
