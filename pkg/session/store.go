package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/harun/agentflow/pkg/conversation"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidConversationID is returned for ids that are empty or unsafe as storage keys.
	ErrInvalidConversationID = errors.New("invalid conversation id")
	// ErrConversationNotFound is returned by Get and Delete for unknown ids.
	ErrConversationNotFound = errors.New("conversation not found")
)

var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Metadata describes who a conversation was held with.
type Metadata struct {
	AgentName string    `json:"agent_name"`
	ModelType string    `json:"model_type"`
	ModelName string    `json:"model_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is a listing entry.
type Summary struct {
	ID        string    `json:"conversation_id"`
	AgentName string    `json:"agent_name"`
	TurnCount int       `json:"turn_count"`
	UpdatedAt time.Time `json:"updated_at"`
	Preview   string    `json:"preview"`
}

// Conversation is a stored history with its metadata.
type Conversation struct {
	ID       string              `json:"conversation_id"`
	Metadata Metadata            `json:"metadata"`
	Turns    []conversation.Turn `json:"turns"`
}

// Store persists conversation histories.
type Store interface {
	// Load returns the stored turns, or an empty slice for an unknown id.
	Load(ctx context.Context, id string) ([]conversation.Turn, error)
	// Get returns the stored conversation or ErrConversationNotFound.
	Get(ctx context.Context, id string) (*Conversation, error)
	// Save replaces the stored turns. CreatedAt of an existing conversation is kept.
	Save(ctx context.Context, id string, turns []conversation.Turn, meta Metadata) error
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// PersistPolicy decides when a run writes its history.
type PersistPolicy string

const (
	// PersistOnExit saves once when the run ends, whether it succeeded or not.
	PersistOnExit PersistPolicy = "exit"
	// PersistEachRound also saves after every completed tool round.
	PersistEachRound PersistPolicy = "round"
)

// ParsePersistPolicy maps a config value to a policy. Empty means PersistOnExit.
func ParsePersistPolicy(s string) (PersistPolicy, error) {
	switch PersistPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PersistOnExit:
		return PersistOnExit, nil
	case PersistEachRound:
		return PersistEachRound, nil
	}
	return "", fmt.Errorf("unknown persist policy %q", s)
}

// ValidateConversationID rejects ids that cannot be used as storage keys.
func ValidateConversationID(id string) error {
	if !conversationIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidConversationID, id)
	}
	return nil
}

// NewConversationID returns a fresh random conversation id.
func NewConversationID() string {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Sprintf("c%d", time.Now().UnixNano())
	}
	return id
}

// Open creates the store selected by driver: "jsonl" (path is a directory) or "sqlite" (path is a file).
func Open(driver, path string, logger zerolog.Logger) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "jsonl", "file":
		return NewFileStore(path, logger)
	case "sqlite", "sqlite3":
		return NewSQLiteStore(path, logger)
	}
	return nil, fmt.Errorf("unknown storage driver %q", driver)
}

const previewRunes = 80

func preview(turns []conversation.Turn) string {
	for _, t := range turns {
		if t.Role != conversation.RoleUser {
			continue
		}
		text := strings.Join(strings.Fields(t.Content), " ")
		if utf8.RuneCountInString(text) <= previewRunes {
			return text
		}
		return string([]rune(text)[:previewRunes]) + "..."
	}
	return ""
}

func stampMetadata(meta Metadata, existing *Metadata) Metadata {
	now := time.Now().UTC()
	if existing != nil && !existing.CreatedAt.IsZero() {
		meta.CreatedAt = existing.CreatedAt
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = now
	}
	return meta
}
