package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	ScratchDir string `toml:"scratch_dir"`
	EventsBind string `toml:"events_bind"`
}

// Worker describes how the transcription worker process is located and supervised.
type Worker struct {
	// Deployment selects path resolution: "auto", "development", or "packaged".
	Deployment string `toml:"deployment"`
	// ServiceDir is the worker source directory used in development deployments.
	ServiceDir string `toml:"service_dir"`
	// ResourcesDir is the application resources root used in packaged deployments.
	ResourcesDir string `toml:"resources_dir"`
	// Python overrides the interpreter path. Empty means resolve per deployment.
	Python string `toml:"python"`
	// Script overrides the worker entry script. Empty means resolve per deployment.
	Script string `toml:"script"`
	// RuntimeHome overrides the bundled interpreter home (packaged only).
	RuntimeHome string `toml:"runtime_home"`
	// ToolsDir overrides the bundled external tool directory (packaged only).
	ToolsDir string `toml:"tools_dir"`

	StartupTimeout  int `toml:"startup_timeout"`
	CallTimeout     int `toml:"call_timeout"`
	ShutdownTimeout int `toml:"shutdown_timeout"`
	GracePeriod     int `toml:"grace_period"`
}

// Model contains the transcription model selection passed to the worker.
type Model struct {
	Name        string `toml:"name"`
	Language    string `toml:"language"`
	Device      string `toml:"device"`
	ComputeType string `toml:"compute_type"`
	HFToken     string `toml:"hf_token"`
}

// Encoding contains configuration for the media-encoding collaborator.
type Encoding struct {
	DraptoBinary string `toml:"drapto_binary"`
	UseLibrary   bool   `toml:"use_library"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for murmur.
//
// Configuration sections by subsystem:
//   - Paths: data/log/scratch directories and the event stream bind address
//   - Worker: deployment mode, interpreter/script paths, supervision timeouts
//   - Model: model name, language, device and credentials for initialize
//   - Encoding: drapto collaborator settings
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Worker   Worker   `toml:"worker"`
	Model    Model    `toml:"model"`
	Encoding Encoding `toml:"encoding"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("murmur.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories murmur writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.ScratchDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SettingsDBPath returns the location of the persisted settings database.
func (c *Config) SettingsDBPath() string {
	return filepath.Join(c.Paths.DataDir, "murmur.db")
}

// LockPath returns the lock file guarding a single long-running instance.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "murmur.lock")
}

// FFmpegBinary returns the ffmpeg executable name used for audio extraction.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// StartupTimeout bounds how long the worker may take to announce readiness.
func (c *Config) StartupTimeout() time.Duration {
	return time.Duration(c.Worker.StartupTimeout) * time.Second
}

// CallTimeout is the default per-request deadline.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Worker.CallTimeout) * time.Second
}

// ShutdownTimeout bounds the graceful shutdown request.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Worker.ShutdownTimeout) * time.Second
}

// GracePeriod is the wait between the termination signal and a forced kill.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Worker.GracePeriod) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// ModelName reads only the [model] name from a config file. Used by the
// settings watcher to detect a model change without re-validating everything.
func ModelName(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read config: %w", err)
	}
	var partial struct {
		Model struct {
			Name string `toml:"name"`
		} `toml:"model"`
	}
	if err := toml.Unmarshal(data, &partial); err != nil {
		return "", fmt.Errorf("parse config: %w", err)
	}
	return strings.TrimSpace(partial.Model.Name), nil
}
