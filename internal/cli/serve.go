package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/agentflow/internal/config"
	"github.com/harun/agentflow/internal/observability"
	"github.com/harun/agentflow/internal/tracing"
	"github.com/harun/agentflow/pkg/gateway"
	"github.com/harun/agentflow/pkg/stream"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	Long: `Run the HTTP gateway. Agents are served over REST, and conversation
events are streamed over SSE and WebSocket. The process stops gracefully on
SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "reload agents when the config file changes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig(cmd, "")
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Server.AuditLog != "" {
		if err := observability.InitAuditLogger(cfg.Server.AuditLog); err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer observability.GetAuditLogger().Close()
	}
	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName); err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("Tracer shutdown failed")
			}
		}()
	}

	srv, err := gateway.NewServer(gateway.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AuthToken:       cfg.Server.AuthToken,
		RateLimit:       cfg.Server.RateLimit,
		Runner:          a.runner,
		Agents:          a.registry,
		Streams:         a.streams,
		Store:           a.store,
		Logger:          a.logger,
	})
	if err != nil {
		return err
	}

	sweeper := stream.NewSweeper(a.streams)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start stream sweeper: %w", err)
	}

	var watcher *config.Watcher
	if serveWatch {
		if watcher, err = config.NewWatcher(loader, 0, a.reload); err != nil {
			sweeper.Stop()
			return err
		}
		if err := watcher.Start(); err != nil {
			a.logger.Warn().Err(err).Msg("Config watcher disabled")
			watcher.Stop()
			watcher = nil
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return sweeper.Stop()
	})
	if watcher != nil {
		g.Go(func() error {
			<-gctx.Done()
			return watcher.Stop()
		})
	}

	a.logger.Info().
		Str("addr", cfg.Server.Addr).
		Int("agents", len(a.registry.List())).
		Strs("providers", a.factory.Available()).
		Msg("agentflow serving")

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info().Msg("agentflow stopped")
	return nil
}
