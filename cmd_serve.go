package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/scenarios/internal/adapter/pipeline"
	"github.com/xiaot623/gogo/scenarios/internal/config"
	"github.com/xiaot623/gogo/scenarios/internal/logging"
	"github.com/xiaot623/gogo/scenarios/internal/metrics"
	"github.com/xiaot623/gogo/scenarios/internal/playback"
	"github.com/xiaot623/gogo/scenarios/internal/policy"
	"github.com/xiaot623/gogo/scenarios/internal/registry"
	"github.com/xiaot623/gogo/scenarios/internal/repository"
	"github.com/xiaot623/gogo/scenarios/internal/scoring"
	"github.com/xiaot623/gogo/scenarios/internal/service"
	"github.com/xiaot623/gogo/scenarios/internal/stream"
	handler "github.com/xiaot623/gogo/scenarios/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			applyServeFlags(cmd, cfg)
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().Int("port", 0, "HTTP port (overrides HTTP_PORT)")
	cmd.Flags().String("db", "", "SQLite DSN for run history (overrides DATABASE_URL)")
	cmd.Flags().String("scenarios", "", "Scenario YAML file (overrides SCENARIOS_PATH)")
	cmd.Flags().String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	return cmd
}

// applyServeFlags lets explicitly set flags win over the environment.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.HTTPPort, _ = flags.GetInt("port")
	}
	if flags.Changed("db") {
		cfg.DatabaseURL, _ = flags.GetString("db")
	}
	if flags.Changed("scenarios") {
		cfg.ScenariosPath, _ = flags.GetString("scenarios")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.NewLogger(cfg.LogLevel, os.Stderr)

	logger.Info("starting orchestrator",
		"port", cfg.HTTPPort,
		"database", cfg.DatabaseURL,
		"pipeline_url", cfg.PipelineURL,
		"speed", cfg.PlaybackSpeed,
	)

	cat, err := loadCatalog(cfg.ScenariosPath)
	if err != nil {
		return fmt.Errorf("failed to load scenario catalog: %w", err)
	}
	logger.Info("scenario catalog loaded", "count", cat.Len())

	// Initialize store
	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	// Initialize policy engine
	var verdicts *policy.Engine
	if cfg.VerdictPolicyPath != "" {
		verdicts, err = policy.Load(ctx, cfg.VerdictPolicyPath)
	} else {
		verdicts, err = policy.NewEngine(ctx, policy.DefaultPolicy)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	m := metrics.New()
	bc := stream.NewBroadcaster(stream.WithBuffer(cfg.SubscriberBuffer), stream.WithObserver(m))
	p := pipeline.NewPipeline(cfg.PipelineMode, cfg.PipelineURL, cfg.PipelineTimeout, logger)

	engine := playback.NewEngine(playback.Options{
		Speed:         cfg.PlaybackSpeed,
		Settle:        cfg.SettleSeconds,
		FPS:           cfg.VideoFPS,
		TimeoutFactor: cfg.RunTimeoutFactor,
		TimeoutGrace:  cfg.RunTimeoutGrace,
	}, p, bc, scoring.New(cfg.ScoringTolerance), verdicts, db, m, logger)

	svc := service.New(cat, registry.New(), bc, engine, db, p, m, cfg, logger)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go svc.RunRetentionSweeper(sweepCtx)

	e := handler.NewServer(svc, m)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("HTTP API started", "port", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	logger.Info("shutting down orchestrator")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server gracefully", "error", err)
	}
	// in-flight runs finish on their own deadlines; give them until the
	// shutdown budget runs out so their results reach the store
	if err := svc.Wait(shutdownCtx); err != nil {
		logger.Warn("runs still in flight at shutdown", "error", err)
	}

	logger.Info("orchestrator stopped")
	return nil
}
