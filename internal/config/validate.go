package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateModel(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorker() error {
	switch c.Worker.Deployment {
	case DeploymentAuto, DeploymentDevelopment:
	case DeploymentPackaged:
		if strings.TrimSpace(c.Worker.ResourcesDir) == "" {
			return errors.New("worker.resources_dir is required when worker.deployment is \"packaged\"")
		}
	default:
		return fmt.Errorf("worker.deployment: unsupported value %q (want auto, development, or packaged)", c.Worker.Deployment)
	}
	if c.Worker.ShutdownTimeout > c.Worker.CallTimeout {
		return errors.New("worker.shutdown_timeout must not exceed worker.call_timeout")
	}
	return nil
}

func (c *Config) validateModel() error {
	switch c.Model.Device {
	case "cpu", "cuda", "mps":
	default:
		return fmt.Errorf("model.device: unsupported value %q (want cpu, cuda, or mps)", c.Model.Device)
	}
	if strings.ContainsAny(c.Model.Name, " \t\n") {
		return fmt.Errorf("model.name: %q must not contain whitespace", c.Model.Name)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
