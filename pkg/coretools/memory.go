package coretools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/harun/agentflow/pkg/toolexecutor"
)

const memoryTimestampLayout = "2006-01-02 15:04:05"

var agentNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// MemoryRecord is the on-disk form of an agent's memory.
type MemoryRecord struct {
	AgentName   string `json:"agent_name"`
	Memory      string `json:"memory"`
	LastUpdated string `json:"last_updated"`
}

// MemoryStore keeps one memory file per agent under dir. The agent is taken
// from the execution context of the call.
type MemoryStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewMemoryStore creates a store rooted at dir.
func NewMemoryStore(dir string) *MemoryStore {
	return &MemoryStore{dir: dir, now: time.Now}
}

func (m *MemoryStore) path(agent string) (string, error) {
	if !agentNamePattern.MatchString(agent) {
		return "", fmt.Errorf("invalid agent name %q", agent)
	}
	return filepath.Join(m.dir, agent+".json"), nil
}

// Read returns the stored memory for agent, or "" when none exists.
func (m *MemoryStore) Read(agent string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.load(agent)
	if err != nil {
		return "", err
	}
	return rec.Memory, nil
}

func (m *MemoryStore) load(agent string) (MemoryRecord, error) {
	p, err := m.path(agent)
	if err != nil {
		return MemoryRecord{}, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return MemoryRecord{AgentName: agent}, nil
	}
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("failed to read memory: %w", err)
	}
	var rec MemoryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return MemoryRecord{}, fmt.Errorf("failed to parse memory: %w", err)
	}
	return rec, nil
}

// Append adds a timestamped entry to agent's memory.
func (m *MemoryStore) Append(agent, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("no text provided to append to memory")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.load(agent)
	if err != nil {
		return "", err
	}
	stamp := m.now().Format(memoryTimestampLayout)
	entry := fmt.Sprintf("[%s] %s", stamp, text)
	if strings.TrimSpace(rec.Memory) != "" {
		entry = "\n\n" + entry
	}
	rec.AgentName = agent
	rec.Memory += entry
	rec.LastUpdated = stamp

	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create memory directory: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	p, _ := m.path(agent)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write memory: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write memory: %w", err)
	}
	return text, nil
}

func agentFromContext(ctx context.Context) (string, error) {
	execCtx := toolexecutor.ExecContextFromContext(ctx)
	if execCtx == nil || execCtx.AgentName == "" {
		return "", errors.New("memory tools require an agent context")
	}
	return execCtx.AgentName, nil
}

// ReadTool returns the read_memory definition.
func (m *MemoryStore) ReadTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "read_memory",
		Description: "Retrieve this agent's stored memory. Treat it as key context when answering.",
		Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
			agent, err := agentFromContext(ctx)
			if err != nil {
				return nil, err
			}
			return m.Read(agent)
		},
	}
}

// AppendTool returns the append_memory definition.
func (m *MemoryStore) AppendTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "append_memory",
		Description: "Add new information to this agent's memory for future conversations.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "text", Type: "string", Description: "Text to append to the agent's memory", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			agent, err := agentFromContext(ctx)
			if err != nil {
				return nil, err
			}
			text, _ := args["text"].(string)
			added, err := m.Append(agent, text)
			if err != nil {
				return nil, err
			}
			return "Memory updated successfully. Added: " + added, nil
		},
	}
}
