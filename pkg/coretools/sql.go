package coretools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/agentflow/pkg/toolexecutor"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLQueryTool runs SQL against a SQLite database.
type SQLQueryTool struct {
	db       *sql.DB
	readOnly bool
	logger   zerolog.Logger
}

// NewSQLQueryTool opens the database at path. In read-only mode the connection
// cannot modify the database.
func NewSQLQueryTool(path string, readOnly bool, logger zerolog.Logger) (*SQLQueryTool, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	dsn := "file:" + path
	if readOnly {
		dsn += "?mode=ro"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &SQLQueryTool{
		db:       db,
		readOnly: readOnly,
		logger:   logger.With().Str("tool", "sql_query").Logger(),
	}, nil
}

// Definition returns the catalog entry for the tool.
func (t *SQLQueryTool) Definition() toolexecutor.ToolDefinition {
	desc := "Execute SQLite queries and return results"
	if t.readOnly {
		desc += " (read-only)"
	}
	return toolexecutor.ToolDefinition{
		Name:        "sql_query",
		Description: desc,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "query", Type: "string", Description: "SQL query to execute", Required: true},
			{Name: "params", Type: "array", Description: "Optional parameters for parameterized queries", Items: map[string]interface{}{}},
		},
		Capability: toolexecutor.CapabilityFunc(t.invoke),
	}
}

func (t *SQLQueryTool) invoke(ctx context.Context, args map[string]interface{}) (toolexecutor.ToolOutcome, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return toolexecutor.Failure("query is required"), nil
	}
	var params []interface{}
	if raw, ok := args["params"].([]interface{}); ok {
		params = raw
	}

	if returnsRows(query) {
		data, err := t.query(ctx, query, params)
		if err != nil {
			return toolexecutor.Failure("%s", err.Error()), nil
		}
		return toolexecutor.Success(map[string]interface{}{
			"data":      data,
			"row_count": len(data),
		}), nil
	}

	res, err := t.db.ExecContext(ctx, query, params...)
	if err != nil {
		return toolexecutor.Failure("%s", err.Error()), nil
	}
	affected, _ := res.RowsAffected()
	t.logger.Debug().Int64("affected_rows", affected).Msg("Statement executed")
	return toolexecutor.Success(map[string]interface{}{
		"affected_rows": affected,
		"message":       "Query executed successfully",
	}), nil
}

func (t *SQLQueryTool) query(ctx context.Context, query string, params []interface{}) ([]map[string]interface{}, error) {
	rows, err := t.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	data := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		data = append(data, row)
	}
	return data, rows.Err()
}

func returnsRows(query string) bool {
	fields := strings.Fields(strings.ToUpper(query))
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "SELECT", "WITH", "PRAGMA", "EXPLAIN", "VALUES":
		return true
	}
	return false
}

// Close releases the database handle.
func (t *SQLQueryTool) Close() error {
	return t.db.Close()
}
