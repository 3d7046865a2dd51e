package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"murmur/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The worker points at a development service dir under the temp root.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ScratchDir = filepath.Join(base, "scratch")
	cfgVal.Paths.EventsBind = "127.0.0.1:0"
	cfgVal.Worker.Deployment = config.DeploymentDevelopment
	cfgVal.Worker.ServiceDir = filepath.Join(base, "python-service")
	cfgVal.Model.Device = "cpu"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithModel overrides the configured model name.
func WithModel(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Model.Name = name
	}
}

// WithPackagedResources lays out a fake packaged resources directory with a
// bundled interpreter and tools dir, and switches the config to packaged mode.
func WithPackagedResources() ConfigOption {
	return func(b *configBuilder) {
		resources := filepath.Join(b.baseDir, "resources")
		python := filepath.Join(resources, "python", "bin", "python3")
		writeExecutable(b.t, python)
		writeExecutable(b.t, filepath.Join(resources, "bin", "ffmpeg"))
		writeScript(b.t, filepath.Join(resources, "python-service", "whisper_service", "main.py"))
		b.cfg.Worker.Deployment = config.DeploymentPackaged
		b.cfg.Worker.ResourcesDir = resources
	}
}

// WithDevelopmentService creates the worker entry script under the configured
// service dir, optionally with a venv interpreter.
func WithDevelopmentService(withVenv bool) ConfigOption {
	return func(b *configBuilder) {
		writeScript(b.t, filepath.Join(b.cfg.Worker.ServiceDir, "whisper_service", "main.py"))
		if withVenv {
			writeExecutable(b.t, filepath.Join(b.cfg.Worker.ServiceDir, "venv", "bin", "python3"))
		}
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg and drapto are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "drapto"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			writeExecutable(b.t, filepath.Join(binDir, name))
		}
		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

func writeExecutable(t testing.TB, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", path, err)
	}
}

func writeScript(t testing.TB, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte("# worker entry point\n"), 0o644); err != nil {
		t.Fatalf("write script %s: %v", path, err)
	}
}
