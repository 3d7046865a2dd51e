package main

import (
	"context"
	"log/slog"
	"time"

	"murmur/internal/config"
	"murmur/internal/logging"
	"murmur/internal/orchestrator"
	"murmur/internal/settings"
)

// workerSession bundles what a foreground command needs to drive the worker.
type workerSession struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *settings.Store
	manager *orchestrator.Manager
}

func (c *commandContext) openSession(sink orchestrator.Sink) (*workerSession, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := c.logger()
	if err != nil {
		return nil, err
	}
	store, err := settings.Open(cfg)
	if err != nil {
		return nil, err
	}
	manager, err := c.newManager(cfg, logger, store, sink)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &workerSession{cfg: cfg, logger: logger, store: store, manager: manager}, nil
}

func (s *workerSession) close() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout()+s.cfg.GracePeriod()+time.Second)
	defer cancel()
	if err := s.manager.Stop(ctx); err != nil {
		s.logger.Warn("worker stop failed", logging.Error(err))
	}
	_ = s.store.Close()
}
