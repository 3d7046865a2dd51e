package orchestrator

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"murmur/internal/config"
	"murmur/internal/logging"
	"murmur/internal/services"
)

// watchDebounce coalesces the burst of events editors produce on save.
const watchDebounce = 250 * time.Millisecond

// ModelReader extracts the model name from a config file.
type ModelReader func(path string) (string, error)

// WatchConfig watches the config file at path and switches models when the
// configured model name changes. It blocks until ctx is done. A nil reader
// uses config.ModelName.
func (m *Manager) WatchConfig(ctx context.Context, path string, reader ModelReader) error {
	if reader == nil {
		reader = config.ModelName
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return services.Wrap(services.ErrConfiguration, component, "watch", "create file watcher", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			m.logger.Warn("close config watcher", logging.Error(err))
		}
	}()
	// Editors replace files on save, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return services.Wrap(services.ErrConfiguration, component, "watch", "watch config directory", err)
	}
	m.logger.Info("watching config for model changes", logging.String("path", path))

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(watchDebounce)
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("config watcher error", logging.Error(err))
		case <-fire:
			fire = nil
			m.reloadModel(ctx, path, reader)
		}
	}
}

func (m *Manager) reloadModel(ctx context.Context, path string, reader ModelReader) {
	model, err := reader(path)
	if err != nil {
		logging.WarnWithContext(m.logger, "config reload failed", "config_reload",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the config file; the current model stays active"),
		)
		return
	}
	if model == "" || model == m.Model() {
		return
	}
	if err := m.SwitchModel(ctx, model); err != nil {
		logging.ErrorWithContext(m.logger, "model switch from config change failed", "model_switch",
			logging.String(logging.FieldModel, model),
			logging.Error(err),
		)
	}
}
