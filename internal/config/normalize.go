package config

import (
	"fmt"
	"os"
	"strings"

	"murmur/internal/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeWorker(); err != nil {
		return err
	}
	c.normalizeModel()
	c.normalizeEncoding()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ScratchDir) == "" {
		c.Paths.ScratchDir = defaultScratchDir
	}
	if c.Paths.ScratchDir, err = expandPath(c.Paths.ScratchDir); err != nil {
		return fmt.Errorf("paths.scratch_dir: %w", err)
	}
	c.Paths.EventsBind = strings.TrimSpace(c.Paths.EventsBind)
	return nil
}

func (c *Config) normalizeWorker() error {
	c.Worker.Deployment = strings.ToLower(strings.TrimSpace(c.Worker.Deployment))
	if c.Worker.Deployment == "" {
		c.Worker.Deployment = defaultDeployment
	}

	var err error
	if strings.TrimSpace(c.Worker.ServiceDir) == "" {
		c.Worker.ServiceDir = defaultServiceDir
	}
	if c.Worker.ServiceDir, err = expandPath(c.Worker.ServiceDir); err != nil {
		return fmt.Errorf("worker.service_dir: %w", err)
	}
	for _, field := range []struct {
		name  string
		value *string
	}{
		{"worker.resources_dir", &c.Worker.ResourcesDir},
		{"worker.script", &c.Worker.Script},
		{"worker.runtime_home", &c.Worker.RuntimeHome},
		{"worker.tools_dir", &c.Worker.ToolsDir},
	} {
		trimmed := strings.TrimSpace(*field.value)
		if trimmed == "" {
			*field.value = ""
			continue
		}
		if *field.value, err = expandPath(trimmed); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}

	// A bare interpreter name is resolved through PATH at spawn time.
	c.Worker.Python = strings.TrimSpace(c.Worker.Python)
	if strings.ContainsRune(c.Worker.Python, os.PathSeparator) || strings.HasPrefix(c.Worker.Python, "~") {
		if c.Worker.Python, err = expandPath(c.Worker.Python); err != nil {
			return fmt.Errorf("worker.python: %w", err)
		}
	}

	if c.Worker.StartupTimeout <= 0 {
		c.Worker.StartupTimeout = defaultStartupTimeout
	}
	if c.Worker.CallTimeout <= 0 {
		c.Worker.CallTimeout = defaultCallTimeout
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Worker.GracePeriod <= 0 {
		c.Worker.GracePeriod = defaultGracePeriod
	}
	return nil
}

func (c *Config) normalizeModel() {
	c.Model.Name = strings.TrimSpace(c.Model.Name)
	if value, ok := os.LookupEnv("MURMUR_MODEL"); ok && strings.TrimSpace(value) != "" {
		c.Model.Name = strings.TrimSpace(value)
	}
	if c.Model.Name == "" {
		c.Model.Name = defaultModelName
	}
	if c.Model.HFToken == "" {
		if value, ok := os.LookupEnv("HF_TOKEN"); ok {
			c.Model.HFToken = strings.TrimSpace(value)
		}
	}
	if code := language.Normalize(c.Model.Language); code != "" {
		c.Model.Language = code
	} else {
		c.Model.Language = defaultModelLanguage
	}
	c.Model.Device = strings.ToLower(strings.TrimSpace(c.Model.Device))
	if c.Model.Device == "" {
		c.Model.Device = defaultModelDevice
	}
	c.Model.ComputeType = strings.ToLower(strings.TrimSpace(c.Model.ComputeType))
	if c.Model.ComputeType == "" {
		c.Model.ComputeType = defaultComputeType
	}
}

func (c *Config) normalizeEncoding() {
	c.Encoding.DraptoBinary = strings.TrimSpace(c.Encoding.DraptoBinary)
	if c.Encoding.DraptoBinary == "" {
		c.Encoding.DraptoBinary = defaultDraptoBinary
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
