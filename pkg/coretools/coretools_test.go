package coretools

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/agentflow/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO users (name) VALUES ('ada'), ('grace');`)
	require.NoError(t, err)
	return path
}

func TestRegister(t *testing.T) {
	t.Run("should always register the calculator", func(t *testing.T) {
		catalog := toolexecutor.NewCatalog()
		closer, err := Register(catalog, Options{Logger: zerolog.Nop()})
		require.NoError(t, err)
		defer closer.Close()
		assert.Equal(t, []string{"calculator"}, catalog.Names())
	})

	t.Run("should register configured tools", func(t *testing.T) {
		catalog := toolexecutor.NewCatalog()
		closer, err := Register(catalog, Options{
			SQLiteDatabase: seedDatabase(t),
			MemoryDir:      t.TempDir(),
			Logger:         zerolog.Nop(),
		})
		require.NoError(t, err)
		defer closer.Close()
		assert.Equal(t, []string{"append_memory", "calculator", "read_memory", "sql_query"}, catalog.Names())
	})

	t.Run("should fail on duplicate registration", func(t *testing.T) {
		catalog := toolexecutor.NewCatalog()
		require.NoError(t, catalog.Register(CalculatorTool()))
		_, err := Register(catalog, Options{Logger: zerolog.Nop()})
		assert.ErrorIs(t, err, toolexecutor.ErrToolExists)
	})
}

func TestSQLQueryTool(t *testing.T) {
	path := seedDatabase(t)

	t.Run("should return rows for select", func(t *testing.T) {
		tool, err := NewSQLQueryTool(path, true, zerolog.Nop())
		require.NoError(t, err)
		defer tool.Close()

		out, err := tool.Definition().Capability.Invoke(context.Background(), map[string]interface{}{
			"query":  "SELECT name FROM users WHERE id = ?",
			"params": []interface{}{"1"},
		})
		require.NoError(t, err)
		require.True(t, out.Succeeded, out.Error)
		result := out.Output.(map[string]interface{})
		assert.Equal(t, 1, result["row_count"])
		assert.Equal(t, "ada", result["data"].([]map[string]interface{})[0]["name"])
	})

	t.Run("should execute statements when writable", func(t *testing.T) {
		tool, err := NewSQLQueryTool(path, false, zerolog.Nop())
		require.NoError(t, err)
		defer tool.Close()

		out, err := tool.Definition().Capability.Invoke(context.Background(), map[string]interface{}{
			"query": "UPDATE users SET name = 'lin' WHERE id = 2",
		})
		require.NoError(t, err)
		require.True(t, out.Succeeded, out.Error)
		result := out.Output.(map[string]interface{})
		assert.Equal(t, int64(1), result["affected_rows"])
		assert.Equal(t, "Query executed successfully", result["message"])
	})

	t.Run("should refuse writes in read-only mode", func(t *testing.T) {
		tool, err := NewSQLQueryTool(path, true, zerolog.Nop())
		require.NoError(t, err)
		defer tool.Close()

		out, err := tool.Definition().Capability.Invoke(context.Background(), map[string]interface{}{
			"query": "DELETE FROM users",
		})
		require.NoError(t, err)
		assert.False(t, out.Succeeded)
		assert.NotEmpty(t, out.Error)
	})

	t.Run("should report invalid sql as a failure", func(t *testing.T) {
		tool, err := NewSQLQueryTool(path, true, zerolog.Nop())
		require.NoError(t, err)
		defer tool.Close()

		out, err := tool.Definition().Capability.Invoke(context.Background(), map[string]interface{}{
			"query": "SELECT FROM",
		})
		require.NoError(t, err)
		assert.False(t, out.Succeeded)
	})
}

func TestMemoryStore(t *testing.T) {
	agentCtx := func(name string) context.Context {
		return toolexecutor.ContextWithExecContext(context.Background(), &toolexecutor.ExecutionContext{AgentName: name})
	}

	t.Run("should return empty memory for a new agent", func(t *testing.T) {
		mem := NewMemoryStore(t.TempDir())
		out, err := mem.ReadTool().Handler(agentCtx("researcher"), nil)
		require.NoError(t, err)
		assert.Equal(t, "", out)
	})

	t.Run("should append timestamped entries", func(t *testing.T) {
		dir := t.TempDir()
		mem := NewMemoryStore(dir)
		mem.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

		out, err := mem.AppendTool().Handler(agentCtx("researcher"), map[string]interface{}{"text": "likes tea"})
		require.NoError(t, err)
		assert.Equal(t, "Memory updated successfully. Added: likes tea", out)
		_, err = mem.AppendTool().Handler(agentCtx("researcher"), map[string]interface{}{"text": "lives in Oslo"})
		require.NoError(t, err)

		got, err := mem.Read("researcher")
		require.NoError(t, err)
		assert.Equal(t, "[2025-01-02 03:04:05] likes tea\n\n[2025-01-02 03:04:05] lives in Oslo", got)

		data, err := os.ReadFile(filepath.Join(dir, "researcher.json"))
		require.NoError(t, err)
		var rec MemoryRecord
		require.NoError(t, json.Unmarshal(data, &rec))
		assert.Equal(t, "researcher", rec.AgentName)
		assert.Equal(t, "2025-01-02 03:04:05", rec.LastUpdated)
	})

	t.Run("should keep agents separate", func(t *testing.T) {
		mem := NewMemoryStore(t.TempDir())
		_, err := mem.Append("a", "alpha")
		require.NoError(t, err)
		got, err := mem.Read("b")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("should reject empty text", func(t *testing.T) {
		mem := NewMemoryStore(t.TempDir())
		_, err := mem.AppendTool().Handler(agentCtx("a"), map[string]interface{}{"text": "  "})
		assert.Error(t, err)
	})

	t.Run("should require an agent context", func(t *testing.T) {
		mem := NewMemoryStore(t.TempDir())
		_, err := mem.ReadTool().Handler(context.Background(), nil)
		assert.Error(t, err)
	})

	t.Run("should reject path-like agent names", func(t *testing.T) {
		mem := NewMemoryStore(t.TempDir())
		_, err := mem.Read("../etc")
		assert.Error(t, err)
	})
}

type askerFunc func(ctx context.Context, agentName, message string) (string, error)

func (f askerFunc) Ask(ctx context.Context, agentName, message string) (string, error) {
	return f(ctx, agentName, message)
}

func TestAgentProxyTool(t *testing.T) {
	t.Run("should derive description from the prompt", func(t *testing.T) {
		assert.Equal(t, "Agent: You research topics", ProxyDescription("researcher", "You research topics. Be brief."))
		assert.Equal(t, "Call the researcher agent for specialized assistance", ProxyDescription("researcher", ""))

		long := ProxyDescription("x", stringOf('a', 150))
		assert.Equal(t, "Agent: "+stringOf('a', 100)+"...", long)
	})

	t.Run("should forward the message and return the answer", func(t *testing.T) {
		var gotAgent, gotMessage string
		def := AgentProxyTool("researcher", "You research.", askerFunc(func(_ context.Context, agent, msg string) (string, error) {
			gotAgent, gotMessage = agent, msg
			return "found it", nil
		}))
		assert.Equal(t, "ask_researcher", def.Name)

		out, err := def.Capability.Invoke(context.Background(), map[string]interface{}{"message": "look up X"})
		require.NoError(t, err)
		require.True(t, out.Succeeded)
		assert.Equal(t, "researcher", gotAgent)
		assert.Equal(t, "look up X", gotMessage)
		assert.Equal(t, "found it", toolexecutor.FormatOutput(out.Output))
	})

	t.Run("should use a default greeting when no message is given", func(t *testing.T) {
		var gotMessage string
		def := AgentProxyTool("r", "", askerFunc(func(_ context.Context, _, msg string) (string, error) {
			gotMessage = msg
			return "hi", nil
		}))
		_, err := def.Capability.Invoke(context.Background(), map[string]interface{}{})
		require.NoError(t, err)
		assert.Contains(t, gotMessage, "what you can do")
	})

	t.Run("should report delegate errors as failures", func(t *testing.T) {
		def := AgentProxyTool("r", "", askerFunc(func(context.Context, string, string) (string, error) {
			return "", errors.New("unavailable")
		}))
		out, err := def.Capability.Invoke(context.Background(), map[string]interface{}{"message": "x"})
		require.NoError(t, err)
		assert.False(t, out.Succeeded)
		assert.Equal(t, "r agent failed: unavailable", out.Error)
	})
}

func stringOf(r rune, n int) string {
	out := make([]rune, n)
	for i := range out {
		out[i] = r
	}
	return string(out)
}
