package main

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"murmur/internal/config"
	"murmur/internal/deployment"
	"murmur/internal/logging"
	"murmur/internal/orchestrator"
	"murmur/internal/services/drapto"
	"murmur/internal/services/whisperx"
	"murmur/internal/settings"
	"murmur/internal/worker"
)

type commandContext struct {
	configFlag   string
	logLevelFlag string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error

	// workerSource replaces deployment resolution when set (tests).
	workerSource func(cfg *config.Config, model string) whisperx.ConfigSource
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, exists, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if level := strings.TrimSpace(c.logLevelFlag); level != "" {
			cfg.Logging.Level = strings.ToLower(level)
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
		c.configSeen = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return logging.NewFromConfig(cfg)
}

func (c *commandContext) openStore() (*settings.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return settings.Open(cfg)
}

// facadeFactory builds whisperx services for the orchestrator, one per model.
func (c *commandContext) facadeFactory(cfg *config.Config, logger *slog.Logger) (orchestrator.Factory, error) {
	ffmpeg := cfg.FFmpegBinary()
	source := func(model string) whisperx.ConfigSource {
		return c.workerSource(cfg, model)
	}
	if c.workerSource == nil {
		dep, err := deployment.Resolve(cfg)
		if err != nil {
			return nil, err
		}
		ffmpeg = dep.FFmpegPath()
		source = func(model string) whisperx.ConfigSource {
			return func() (worker.ProcessConfig, error) {
				return dep.ProcessConfig(deployment.Selection{Model: model, HFToken: cfg.Model.HFToken})
			}
		}
	}

	return func(model string) (*whisperx.Service, error) {
		return whisperx.NewService(source(model),
			whisperx.WithLogger(logger),
			whisperx.WithCallTimeout(cfg.CallTimeout()),
			whisperx.WithFFmpegBinary(ffmpeg),
			whisperx.WithSupervisorOptions(
				worker.WithStartupTimeout(cfg.StartupTimeout()),
				worker.WithShutdownTimeout(cfg.ShutdownTimeout()),
				worker.WithGracePeriod(cfg.GracePeriod()),
			),
		), nil
	}, nil
}

func (c *commandContext) newManager(cfg *config.Config, logger *slog.Logger, store orchestrator.Store, sink orchestrator.Sink) (*orchestrator.Manager, error) {
	factory, err := c.facadeFactory(cfg, logger)
	if err != nil {
		return nil, err
	}
	return orchestrator.New(orchestrator.Deps{
		Factory: factory,
		Store:   store,
		Sink:    sink,
		Encoder: newEncoder(cfg),
		Logger:  logger,
		Defaults: whisperx.InitOptions{
			Model:       cfg.Model.Name,
			Language:    cfg.Model.Language,
			Device:      cfg.Model.Device,
			ComputeType: cfg.Model.ComputeType,
			HFToken:     cfg.Model.HFToken,
		},
		ScratchDir: cfg.Paths.ScratchDir,
	})
}

func newEncoder(cfg *config.Config) drapto.Client {
	if cfg.Encoding.UseLibrary {
		return drapto.NewLibrary()
	}
	return drapto.NewCLI(
		drapto.WithBinary(cfg.Encoding.DraptoBinary),
		drapto.WithLogDir(filepath.Join(cfg.Paths.LogDir, "drapto")),
	)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
