package logging_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"murmur/internal/config"
	"murmur/internal/logging"
	"murmur/internal/services"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.Logging.Level = "debug"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Debug("worker spawned", logging.Int("pid", 42))

	content := readLog(t, filepath.Join(cfg.Paths.LogDir, "murmur.log"))
	if !strings.Contains(content, "worker spawned") || !strings.Contains(content, "pid=42") {
		t.Fatalf("unexpected log content: %q", content)
	}
}

func TestConsoleLoggerFormatsComponentAndAttrs(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	component := logging.NewComponentLogger(logger, "supervisor")
	component.Info("worker ready", logging.String("version", "1.0.0"), logging.String("note", "two words"))
	component.Debug("hidden")

	content := readLog(t, logPath)
	if !strings.Contains(content, "INFO supervisor: worker ready") {
		t.Fatalf("expected component prefix, got %q", content)
	}
	if !strings.Contains(content, `note="two words"`) {
		t.Fatalf("expected quoted value, got %q", content)
	}
	if strings.Contains(content, ".go:") {
		t.Fatalf("expected no caller information at info level, got %q", content)
	}
	if strings.Contains(content, "hidden") {
		t.Fatalf("debug record should be filtered, got %q", content)
	}
}

func TestJSONLoggerIncludesContextFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithJobID(context.Background(), "job-7")
	ctx = services.WithModel(ctx, "large-v3")
	logging.WithContext(ctx, logger).Warn("slow transcription")

	content := readLog(t, logPath)
	for _, want := range []string{`"job_id":"job-7"`, `"model":"large-v3"`, `"level":"warn"`, `"ts":`} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected %s in %q", want, content)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "json", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "shutdown request failed", "worker_shutdown",
		logging.String(logging.FieldErrorHint, "worker will be signalled"))

	content := readLog(t, logPath)
	if !strings.Contains(content, `"event_type":"worker_shutdown"`) {
		t.Fatalf("missing event_type: %q", content)
	}
	if !strings.Contains(content, `"error_hint":"worker will be signalled"`) || strings.Contains(content, "check logs for details") {
		t.Fatalf("explicit error_hint should win: %q", content)
	}
}
