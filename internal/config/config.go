package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// envPrefix is prepended to every key when reading environment variables,
// e.g. listen_addr is read from KILN_LISTEN_ADDR.
const envPrefix = "KILN"

// Configuration keys. Each doubles as the serve flag binding target.
const (
	KeyListenAddr      = "listen_addr"
	KeyLogLevel        = "log_level"
	KeyLogFormat       = "log_format"
	KeyWorkers         = "workers"
	KeyQueueSize       = "queue_size"
	KeySteps           = "steps"
	KeyStepDelay       = "step_delay"
	KeyJobTTL          = "job_ttl"
	KeySweepSchedule   = "sweep_schedule"
	KeyShutdownTimeout = "shutdown_timeout"
	KeyStore           = "store"
	KeySQLitePath      = "sqlite_path"
)

// Job store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

const (
	defaultListenAddr      = ":8080"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultWorkers         = 16
	defaultQueueSize       = 1024
	defaultSteps           = 10
	defaultStepDelay       = 500 * time.Millisecond
	defaultJobTTL          = time.Hour
	defaultSweepSchedule   = "@every 1m"
	defaultShutdownTimeout = 30 * time.Second
	defaultStore           = StoreMemory
	defaultSQLitePath      = ":memory:"
)

// Config holds application configuration.
type Config struct {
	ListenAddr      string
	LogLevel        slog.Level
	LogFormat       string
	Workers         int
	QueueSize       int
	Steps           int
	StepDelay       time.Duration
	JobTTL          time.Duration
	SweepSchedule   string
	ShutdownTimeout time.Duration
	Store           string
	SQLitePath      string
}

// NewViper returns a viper instance with defaults registered and
// KILN_-prefixed environment variables enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyListenAddr, defaultListenAddr)
	v.SetDefault(KeyLogLevel, defaultLogLevel)
	v.SetDefault(KeyLogFormat, defaultLogFormat)
	v.SetDefault(KeyWorkers, defaultWorkers)
	v.SetDefault(KeyQueueSize, defaultQueueSize)
	v.SetDefault(KeySteps, defaultSteps)
	v.SetDefault(KeyStepDelay, defaultStepDelay)
	v.SetDefault(KeyJobTTL, defaultJobTTL)
	v.SetDefault(KeySweepSchedule, defaultSweepSchedule)
	v.SetDefault(KeyShutdownTimeout, defaultShutdownTimeout)
	v.SetDefault(KeyStore, defaultStore)
	v.SetDefault(KeySQLitePath, defaultSQLitePath)
	return v
}

// Load reads configuration from v (flags, then environment, then defaults)
// and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		ListenAddr:      v.GetString(KeyListenAddr),
		LogLevel:        parseLogLevel(v.GetString(KeyLogLevel)),
		LogFormat:       strings.ToLower(v.GetString(KeyLogFormat)),
		Workers:         v.GetInt(KeyWorkers),
		QueueSize:       v.GetInt(KeyQueueSize),
		Steps:           v.GetInt(KeySteps),
		StepDelay:       v.GetDuration(KeyStepDelay),
		JobTTL:          v.GetDuration(KeyJobTTL),
		SweepSchedule:   v.GetString(KeySweepSchedule),
		ShutdownTimeout: v.GetDuration(KeyShutdownTimeout),
		Store:           strings.ToLower(v.GetString(KeyStore)),
		SQLitePath:      v.GetString(KeySQLitePath),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr must not be empty"))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("log_format must be json or text, got %q", c.LogFormat))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize))
	}
	if c.Steps < 1 {
		errs = append(errs, fmt.Errorf("steps must be at least 1, got %d", c.Steps))
	}
	if c.StepDelay < 0 {
		errs = append(errs, fmt.Errorf("step_delay must not be negative, got %s", c.StepDelay))
	}
	if c.JobTTL < 0 {
		errs = append(errs, fmt.Errorf("job_ttl must not be negative, got %s", c.JobTTL))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout))
	}
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite_path must not be empty when store is sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("store must be memory or sqlite, got %q", c.Store))
	}
	if c.JobTTL > 0 {
		if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
			errs = append(errs, fmt.Errorf("sweep_schedule %q: %w", c.SweepSchedule, err))
		}
	}
	return errors.Join(errs...)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured logger writing to w at the configured
// level. format is "json" or "text"; anything else falls back to JSON.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(format) == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
