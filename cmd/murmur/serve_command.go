package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"murmur/internal/eventstream"
	"murmur/internal/logging"
	"murmur/internal/orchestrator"
	"murmur/internal/settings"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep a worker running and stream its events to local clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx, bind)
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "Override paths.events_bind")
	return cmd
}

func runServe(cmdCtx context.Context, ctx *commandContext, bindOverride string) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	baseLogger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another murmur serve instance is already running")
	}
	defer lock.Unlock()

	store, err := settings.Open(cfg)
	if err != nil {
		return fmt.Errorf("open settings store: %w", err)
	}
	defer store.Close()
	if n, err := store.FailRunningJobs(signalCtx, "interrupted by restart"); err != nil {
		baseLogger.Warn("mark interrupted jobs failed", logging.Error(err))
	} else if n > 0 {
		baseLogger.Info("marked interrupted jobs failed", logging.Int64("count", n))
	}

	hub := eventstream.NewHub(baseLogger, 0)
	logger := logging.TeeLogger(baseLogger, logging.MinLevel(eventstream.NewLogHandler(hub), slog.LevelWarn))

	manager, err := ctx.newManager(cfg, logger, store, hub)
	if err != nil {
		return err
	}
	lastErr := &lastError{}
	manager.Subscribe(func(evt orchestrator.Event) {
		if evt.Fatal {
			lastErr.set(evt.Message)
		}
	})

	bind := cfg.Paths.EventsBind
	if bindOverride != "" {
		bind = bindOverride
	}
	if bind != "" {
		server := eventstream.NewServer(bind, hub, func(reqCtx context.Context) any {
			return buildServeStatus(reqCtx, manager, hub, lastErr.get())
		}, logger)
		if err := server.Start(signalCtx); err != nil {
			return fmt.Errorf("start event server: %w", err)
		}
		defer server.Stop()
	} else {
		logger.Info("event stream disabled (paths.events_bind is empty)")
	}

	if err := manager.Start(signalCtx); err != nil {
		// The failure was published to clients; keep serving so a config
		// change or model switch can recover.
		logging.ErrorWithContext(logger, "worker startup failed", "startup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run murmur doctor to check the worker runtime"),
		)
	}

	var wg sync.WaitGroup
	if ctx.configSeen {
		wg.Go(func() {
			if err := manager.WatchConfig(signalCtx, ctx.configPath, nil); err != nil {
				logger.Warn("config watcher stopped", logging.Error(err))
			}
		})
	}

	<-signalCtx.Done()
	logger.Info("murmur serve shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout()+cfg.GracePeriod())
	defer stopCancel()
	if err := manager.Stop(stopCtx); err != nil {
		logger.Warn("worker stop failed", logging.Error(err))
	}
	wg.Wait()
	return nil
}

func buildServeStatus(ctx context.Context, manager *orchestrator.Manager, hub *eventstream.Hub, lastErr string) serveStatus {
	status := serveStatus{
		State:   string(manager.State()),
		Model:   manager.Model(),
		Clients: hub.Clients(),
		Error:   lastErr,
	}
	if ws, err := manager.Status(ctx); err == nil {
		status.Initialized = ws.Initialized
		status.Processing = ws.Processing
		status.Device = ws.Device
		status.Language = ws.Language
	}
	if stats, err := manager.ProcessStats(); err == nil {
		status.PID = stats.PID
		status.RSSBytes = stats.RSSBytes
		status.CPUPercent = stats.CPUPercent
	}
	return status
}

type lastError struct {
	mu  sync.Mutex
	msg string
}

func (l *lastError) set(msg string) {
	l.mu.Lock()
	l.msg = msg
	l.mu.Unlock()
}

func (l *lastError) get() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.msg
}
