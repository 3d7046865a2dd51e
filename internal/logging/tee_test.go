package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestTeeCollapsesTrivialBranches(t *testing.T) {
	if _, ok := tee(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when every handler is nil")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := tee(nil, inner); h != inner {
		t.Fatal("expected single handler to be returned unwrapped")
	}
}

func TestTeeRespectsBranchLevels(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	info := slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	debug := slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})

	h := tee(info, debug)
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("tee should be enabled when any branch accepts the level")
	}

	logger := slog.New(h).With(slog.String("job_id", "j1")).WithGroup("worker")
	logger.Debug("stderr line", slog.String("line", "loading model"))

	if infoBuf.Len() != 0 {
		t.Fatalf("info branch received debug record: %s", infoBuf.String())
	}
	if !bytes.Contains(debugBuf.Bytes(), []byte(`"job_id":"j1"`)) || !bytes.Contains(debugBuf.Bytes(), []byte(`"worker"`)) {
		t.Fatalf("debug branch missing attrs or group: %s", debugBuf.String())
	}
}

type failingHandler struct{ NoopHandler }

func (failingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("sink closed") }

func TestTeeKeepsWritingPastFailingBranch(t *testing.T) {
	var buf bytes.Buffer
	logger := TeeLogger(slog.New(failingHandler{}), slog.NewJSONHandler(&buf, nil))

	err := logger.Handler().Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelWarn, "worker restarted", 0))
	if err == nil || !strings.Contains(err.Error(), "sink closed") {
		t.Fatalf("expected branch error, got %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("worker restarted")) {
		t.Fatalf("healthy branch skipped: %s", buf.String())
	}
}

func TestTeeLoggerWithMinLevel(t *testing.T) {
	var baseBuf, teeBuf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&baseBuf, nil))
	logger := TeeLogger(base, MinLevel(slog.NewJSONHandler(&teeBuf, nil), slog.LevelWarn))

	logger.Info("routine")
	logger.Warn("worker restarted")

	if !bytes.Contains(baseBuf.Bytes(), []byte("routine")) || !bytes.Contains(baseBuf.Bytes(), []byte("worker restarted")) {
		t.Fatalf("base logger missing records: %s", baseBuf.String())
	}
	if bytes.Contains(teeBuf.Bytes(), []byte("routine")) {
		t.Fatalf("min-level handler leaked info record: %s", teeBuf.String())
	}
	if !bytes.Contains(teeBuf.Bytes(), []byte("worker restarted")) {
		t.Fatalf("min-level handler missing warning: %s", teeBuf.String())
	}

	nilBase := TeeLogger(nil, slog.NewJSONHandler(&teeBuf, nil))
	nilBase.Info("no base")
	if !bytes.Contains(teeBuf.Bytes(), []byte("no base")) {
		t.Fatal("expected tee output when base is nil")
	}
}
