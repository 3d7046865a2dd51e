package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"murmur/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("HF_TOKEN", "hf-from-env")
	t.Setenv("MURMUR_MODEL", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "murmur")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.SettingsDBPath() != filepath.Join(wantData, "murmur.db") {
		t.Fatalf("unexpected settings db path: %q", cfg.SettingsDBPath())
	}
	if cfg.Model.HFToken != "hf-from-env" {
		t.Fatalf("expected HF token from env, got %q", cfg.Model.HFToken)
	}
	if cfg.Model.Name != "large-v3" {
		t.Fatalf("unexpected default model: %q", cfg.Model.Name)
	}
	if cfg.Worker.Deployment != config.DeploymentAuto {
		t.Fatalf("unexpected deployment: %q", cfg.Worker.Deployment)
	}
	if cfg.CallTimeout() != 300*time.Second {
		t.Fatalf("unexpected call timeout: %s", cfg.CallTimeout())
	}
	if cfg.GracePeriod() != 5*time.Second {
		t.Fatalf("unexpected grace period: %s", cfg.GracePeriod())
	}
	if !filepath.IsAbs(cfg.Worker.ServiceDir) {
		t.Fatalf("expected absolute service dir, got %q", cfg.Worker.ServiceDir)
	}
}

func TestLoadCustomConfigOverrides(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("MURMUR_MODEL", "")

	configPath := filepath.Join(t.TempDir(), "murmur.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"data_dir": "~/custom/data",
		},
		"worker": map[string]any{
			"deployment":    "packaged",
			"resources_dir": "~/app/resources",
			"grace_period":  2,
		},
		"model": map[string]any{
			"name":     "large-v3-turbo",
			"language": "German",
			"device":   "CUDA",
		},
		"logging": map[string]any{
			"format": "JSON",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config to be read from %q, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "custom", "data") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Worker.ResourcesDir != filepath.Join(tempHome, "app", "resources") {
		t.Fatalf("unexpected resources dir: %q", cfg.Worker.ResourcesDir)
	}
	if cfg.GracePeriod() != 2*time.Second {
		t.Fatalf("unexpected grace period: %s", cfg.GracePeriod())
	}
	if cfg.Model.Language != "de" {
		t.Fatalf("expected language normalized to de, got %q", cfg.Model.Language)
	}
	if cfg.Model.Device != "cuda" {
		t.Fatalf("expected lower-cased device, got %q", cfg.Model.Device)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected lower-cased log format, got %q", cfg.Logging.Format)
	}
}

func TestModelEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MURMUR_MODEL", "medium")
	t.Chdir(t.TempDir())

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Model.Name != "medium" {
		t.Fatalf("expected model from env, got %q", cfg.Model.Name)
	}
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "packaged without resources",
			mutate: func(c *config.Config) { c.Worker.Deployment = config.DeploymentPackaged },
			want:   "worker.resources_dir",
		},
		{
			name:   "unknown deployment",
			mutate: func(c *config.Config) { c.Worker.Deployment = "cloud" },
			want:   "worker.deployment",
		},
		{
			name:   "unknown device",
			mutate: func(c *config.Config) { c.Model.Device = "tpu" },
			want:   "model.device",
		},
		{
			name:   "shutdown exceeds call timeout",
			mutate: func(c *config.Config) { c.Worker.ShutdownTimeout = c.Worker.CallTimeout + 1 },
			want:   "worker.shutdown_timeout",
		},
		{
			name:   "unknown log format",
			mutate: func(c *config.Config) { c.Logging.Format = "xml" },
			want:   "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MURMUR_MODEL", "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	if _, _, exists, err := config.Load(path); err != nil || !exists {
		t.Fatalf("expected sample config to load, exists=%v err=%v", exists, err)
	}
	name, err := config.ModelName(path)
	if err != nil {
		t.Fatalf("ModelName returned error: %v", err)
	}
	if name != "large-v3" {
		t.Fatalf("unexpected sample model: %q", name)
	}
}
