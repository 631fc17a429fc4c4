package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/harun/agentflow/internal/config"
	"github.com/harun/agentflow/internal/logger"
	"github.com/harun/agentflow/pkg/agent"
	"github.com/harun/agentflow/pkg/commandqueue"
	"github.com/harun/agentflow/pkg/coretools"
	"github.com/harun/agentflow/pkg/session"
	"github.com/harun/agentflow/pkg/stream"
	"github.com/harun/agentflow/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// providerHook, when set, adjusts the provider factory before agents are built.
var providerHook func(*agent.ProviderFactory)

// app is the engine assembled from one configuration.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	logger   zerolog.Logger
	store    session.Store
	tools    io.Closer
	factory  *agent.ProviderFactory
	registry *agent.Registry
	streams  *stream.Registry
	queue    *commandqueue.Queue
	runner   *agent.Runner
}

// loadConfig loads and validates the configuration. quietLevel replaces the
// configured log level unless --log-level was given.
func loadConfig(cmd *cobra.Command, quietLevel string) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	switch {
	case cmd.Flags().Changed("log-level"):
		cfg.Logging.Level = logLevel
	case quietLevel != "":
		cfg.Logging.Level = quietLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, loader, nil
}

func newApp(cfg *config.Config) (a *app, err error) {
	lg, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a = &app{cfg: cfg, log: lg, logger: lg.Logger}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	persist, err := session.ParsePersistPolicy(cfg.Storage.Persist)
	if err != nil {
		return nil, err
	}
	if a.store, err = session.Open(cfg.Storage.Driver, cfg.Storage.Path, a.logger); err != nil {
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}

	catalog := toolexecutor.NewCatalog()
	a.tools, err = coretools.Register(catalog, coretools.Options{
		SQLiteDatabase: cfg.Tools.SQLiteDatabase,
		SQLReadOnly:    cfg.Tools.SQLReadOnly,
		MemoryDir:      cfg.Tools.MemoryDir,
		Logger:         a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	a.factory = agent.NewProviderFactory(cfg.ProviderCredentials())
	if providerHook != nil {
		providerHook(a.factory)
	}
	a.registry = agent.NewRegistry(a.factory, catalog, a.logger)
	if err := a.registry.Reload(cfg.AgentDefinitions()); err != nil {
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}

	a.streams = stream.NewRegistry(stream.Config{
		QueueCapacity:     cfg.Stream.QueueCapacity,
		KeepaliveInterval: cfg.Stream.KeepaliveInterval,
		IdleTimeout:       cfg.Stream.IdleTimeout,
		SweepInterval:     cfg.Stream.SweepInterval,
	}, a.logger)
	a.queue = commandqueue.New(a.logger)

	a.runner, err = agent.NewRunner(agent.RunnerConfig{
		Registry:     a.registry,
		Streams:      a.streams,
		Store:        a.store,
		Queue:        a.queue,
		Logger:       a.logger,
		Persist:      persist,
		ToolTimeout:  cfg.Engine.ToolTimeout,
		ModelTimeout: cfg.Engine.ModelTimeout,
		Estimator:    agent.NewUsageEstimator(),
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// reload applies a changed configuration to the agents and provider credentials.
// Server, storage and stream settings need a restart.
func (a *app) reload(cfg *config.Config) {
	for kind, creds := range cfg.ProviderCredentials() {
		a.factory.SetCredentials(kind, creds)
	}
	if err := a.registry.Reload(cfg.AgentDefinitions()); err != nil {
		a.logger.Error().Err(err).Msg("Failed to reload agents, keeping previous")
		return
	}
	a.logger.Info().Int("agents", len(cfg.Agents)).Msg("Agents reloaded")
}

// Close releases everything the app opened.
func (a *app) Close() error {
	var errs []error
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	if a.tools != nil {
		errs = append(errs, a.tools.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.log != nil {
		errs = append(errs, a.log.Close())
	}
	return errors.Join(errs...)
}
