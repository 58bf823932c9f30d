package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

var allEnv = []string{
	"KILN_LISTEN_ADDR",
	"KILN_LOG_LEVEL",
	"KILN_LOG_FORMAT",
	"KILN_WORKERS",
	"KILN_QUEUE_SIZE",
	"KILN_STEPS",
	"KILN_STEP_DELAY",
	"KILN_JOB_TTL",
	"KILN_SWEEP_SCHEDULE",
	"KILN_SHUTDOWN_TIMEOUT",
	"KILN_STORE",
	"KILN_SQLITE_PATH",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allEnv {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.Workers != defaultWorkers || cfg.QueueSize != defaultQueueSize {
		t.Errorf("Workers/QueueSize = %d/%d, want %d/%d", cfg.Workers, cfg.QueueSize, defaultWorkers, defaultQueueSize)
	}
	if cfg.Steps != defaultSteps || cfg.StepDelay != defaultStepDelay {
		t.Errorf("Steps/StepDelay = %d/%s, want %d/%s", cfg.Steps, cfg.StepDelay, defaultSteps, defaultStepDelay)
	}
	if cfg.JobTTL != defaultJobTTL {
		t.Errorf("JobTTL = %s, want %s", cfg.JobTTL, defaultJobTTL)
	}
	if cfg.SweepSchedule != defaultSweepSchedule {
		t.Errorf("SweepSchedule = %q, want %q", cfg.SweepSchedule, defaultSweepSchedule)
	}
	if cfg.ShutdownTimeout != defaultShutdownTimeout {
		t.Errorf("ShutdownTimeout = %s, want %s", cfg.ShutdownTimeout, defaultShutdownTimeout)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("Store = %q, want %q", cfg.Store, StoreMemory)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("KILN_LISTEN_ADDR", ":9090")
	t.Setenv("KILN_LOG_LEVEL", "debug")
	t.Setenv("KILN_LOG_FORMAT", "TEXT")
	t.Setenv("KILN_WORKERS", "4")
	t.Setenv("KILN_QUEUE_SIZE", "8")
	t.Setenv("KILN_STEPS", "3")
	t.Setenv("KILN_STEP_DELAY", "25ms")
	t.Setenv("KILN_JOB_TTL", "0s")
	t.Setenv("KILN_SWEEP_SCHEDULE", "*/5 * * * *")
	t.Setenv("KILN_SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("KILN_STORE", "SQLite")
	t.Setenv("KILN_SQLITE_PATH", "/var/lib/kiln/jobs.db")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want text", cfg.LogFormat)
	}
	if cfg.Workers != 4 || cfg.QueueSize != 8 || cfg.Steps != 3 {
		t.Errorf("Workers/QueueSize/Steps = %d/%d/%d, want 4/8/3", cfg.Workers, cfg.QueueSize, cfg.Steps)
	}
	if cfg.StepDelay != 25*time.Millisecond {
		t.Errorf("StepDelay = %s, want 25ms", cfg.StepDelay)
	}
	if cfg.JobTTL != 0 {
		t.Errorf("JobTTL = %s, want 0", cfg.JobTTL)
	}
	if cfg.SweepSchedule != "*/5 * * * *" {
		t.Errorf("SweepSchedule = %q", cfg.SweepSchedule)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %s, want 5s", cfg.ShutdownTimeout)
	}
	if cfg.Store != StoreSQLite || cfg.SQLitePath != "/var/lib/kiln/jobs.db" {
		t.Errorf("Store/SQLitePath = %q/%q", cfg.Store, cfg.SQLitePath)
	}
}

func TestLoadExplicitValueOverridesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("KILN_WORKERS", "4")

	v := NewViper()
	v.Set(KeyWorkers, 2)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Workers)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		env     string
		value   string
		wantMsg string
	}{
		{"KILN_WORKERS", "0", "workers"},
		{"KILN_WORKERS", "many", "workers"},
		{"KILN_QUEUE_SIZE", "-1", "queue_size"},
		{"KILN_STEPS", "0", "steps"},
		{"KILN_STEP_DELAY", "-1s", "step_delay"},
		{"KILN_JOB_TTL", "-1h", "job_ttl"},
		{"KILN_SWEEP_SCHEDULE", "whenever", "sweep_schedule"},
		{"KILN_LOG_FORMAT", "xml", "log_format"},
		{"KILN_SHUTDOWN_TIMEOUT", "0s", "shutdown_timeout"},
		{"KILN_STORE", "postgres", "store"},
	}

	for _, tt := range tests {
		t.Run(tt.env+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.env, tt.value)

			_, err := Load(NewViper())
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, "json")
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}

	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn, "text")

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line written at warn level: %s", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "key=value") {
		t.Errorf("unexpected text output: %s", out)
	}
}
