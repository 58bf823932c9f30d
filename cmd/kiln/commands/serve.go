package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/seantiz/kiln/internal/api"
	"github.com/seantiz/kiln/internal/config"
	"github.com/seantiz/kiln/internal/engine"
	"github.com/seantiz/kiln/internal/generator"
	"github.com/seantiz/kiln/internal/store"
)

func newServeCmd() *cobra.Command {
	v := config.NewViper()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the job server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.String("listen-addr", "", "HTTP listen address (env: KILN_LISTEN_ADDR)")
	f.String("log-level", "", "Log level: debug, info, warn, error (env: KILN_LOG_LEVEL)")
	f.String("log-format", "", "Log format: json or text (env: KILN_LOG_FORMAT)")
	f.Int("workers", 0, "Concurrent job executors (env: KILN_WORKERS)")
	f.Int("queue-size", 0, "Jobs that may wait for a worker (env: KILN_QUEUE_SIZE)")
	f.Int("steps", 0, "Default number of progress steps per job (env: KILN_STEPS)")
	f.Duration("step-delay", 0, "Default delay per step (env: KILN_STEP_DELAY)")
	f.Duration("job-ttl", 0, "How long finished jobs are kept, 0 keeps them forever (env: KILN_JOB_TTL)")
	f.String("sweep-schedule", "", "Cron schedule for evicting finished jobs (env: KILN_SWEEP_SCHEDULE)")
	f.Duration("shutdown-timeout", 0, "Time allowed for running jobs to finish on shutdown (env: KILN_SHUTDOWN_TIMEOUT)")
	f.String("store", "", "Job store: memory or sqlite (env: KILN_STORE)")
	f.String("sqlite-path", "", "SQLite database file, :memory: for a private in-memory database (env: KILN_SQLITE_PATH)")

	bindFlags(v, cmd, map[string]string{
		config.KeyListenAddr:      "listen-addr",
		config.KeyLogLevel:        "log-level",
		config.KeyLogFormat:       "log-format",
		config.KeyWorkers:         "workers",
		config.KeyQueueSize:       "queue-size",
		config.KeySteps:           "steps",
		config.KeyStepDelay:       "step-delay",
		config.KeyJobTTL:          "job-ttl",
		config.KeySweepSchedule:   "sweep-schedule",
		config.KeyShutdownTimeout: "shutdown-timeout",
		config.KeyStore:           "store",
		config.KeySQLitePath:      "sqlite-path",
	})
	return cmd
}

// bindFlags binds each flag to its config key. viper only prefers a bound
// flag over the environment once the flag has been set.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		_ = v.BindPFlag(key, cmd.Flags().Lookup(name))
	}
}

// runServe wires the store, engine, sweeper and HTTP server, and blocks
// until ctx is canceled. Running jobs are drained before it returns.
func runServe(ctx context.Context, cfg config.Config, logOut io.Writer) error {
	logger := config.NewLogger(logOut, cfg.LogLevel, cfg.LogFormat)
	logger.Info("kiln: starting",
		"listen_addr", cfg.ListenAddr,
		"workers", cfg.Workers,
		"queue_size", cfg.QueueSize,
		"steps", cfg.Steps,
		"step_delay", cfg.StepDelay.String(),
		"store", cfg.Store,
	)

	s, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	eng := engine.NewEngine(s, generator.NewDefaultRegistry(), engine.Options{
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		Steps:     cfg.Steps,
		StepDelay: cfg.StepDelay,
	}, logger)

	sweeper := engine.NewSweeper(s, eng.Broker(), cfg.JobTTL, logger)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		shutdownEngine(eng, cfg, logger)
		return err
	}

	srv := api.NewServer(cfg.ListenAddr, s, eng, logger)
	runErr := srv.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	sweeper.Stop(stopCtx)
	shutdownEngine(eng, cfg, logger)

	if runErr != nil {
		return runErr
	}
	logger.Info("kiln: stopped")
	return nil
}

// openStore builds the configured job store. The returned func releases it
// and is safe to call for every backend.
func openStore(cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.Store != config.StoreSQLite {
		return store.NewMemoryStore(), func() {}, nil
	}

	s, err := store.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open job store: %w", err)
	}
	if n := s.Interrupted(); n > 0 {
		logger.Warn("marked interrupted jobs as failed", "count", n, "path", cfg.SQLitePath)
	}
	return s, func() {
		if err := s.Close(); err != nil {
			logger.Warn("close job store", "error", err)
		}
	}, nil
}

func shutdownEngine(eng *engine.Engine, cfg config.Config, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := eng.Shutdown(ctx); err != nil {
		logger.Warn("engine shutdown incomplete", "error", err)
	}
}
