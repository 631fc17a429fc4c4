package coretools

import (
	"errors"
	"fmt"
	"io"

	"github.com/harun/agentflow/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// Options configures core tool registration. Tools whose settings are empty are skipped,
// except the calculator which is always registered.
type Options struct {
	SQLiteDatabase string
	SQLReadOnly    bool
	MemoryDir      string
	Logger         zerolog.Logger
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, cl := range c {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Register adds the built-in tools to catalog. The returned closer releases
// resources held by the tools, such as database handles.
func Register(catalog *toolexecutor.Catalog, opts Options) (io.Closer, error) {
	if catalog == nil {
		return nil, errors.New("tool catalog is required")
	}

	var held closers
	defs := []toolexecutor.ToolDefinition{CalculatorTool()}

	if opts.SQLiteDatabase != "" {
		sqlTool, err := NewSQLQueryTool(opts.SQLiteDatabase, opts.SQLReadOnly, opts.Logger)
		if err != nil {
			return nil, err
		}
		held = append(held, sqlTool)
		defs = append(defs, sqlTool.Definition())
	}

	if opts.MemoryDir != "" {
		mem := NewMemoryStore(opts.MemoryDir)
		defs = append(defs, mem.ReadTool(), mem.AppendTool())
	}

	for _, def := range defs {
		if err := catalog.Register(def); err != nil {
			held.Close()
			return nil, fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}

	opts.Logger.Debug().Int("tools", len(defs)).Msg("Core tools registered")
	return held, nil
}
