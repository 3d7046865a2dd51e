// Package deployment decides once, at startup, whether murmur runs from a
// packaged application bundle or a development checkout, and turns that
// decision into a fresh worker.ProcessConfig for every worker start.
package deployment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"murmur/internal/config"
	"murmur/internal/deps"
	"murmur/internal/services"
	"murmur/internal/worker"
)

// Mode is the resolved deployment flavour.
type Mode string

const (
	Development Mode = "development"
	Packaged    Mode = "packaged"
)

// Context holds the resolved locations of the worker runtime.
type Context struct {
	Mode Mode
	// ServiceDir is the worker source root; it becomes PYTHONPATH and the
	// working directory.
	ServiceDir string
	Python     string
	Script     string
	// RuntimeHome is the bundled interpreter home (packaged only).
	RuntimeHome string
	// ToolsDir holds bundled external tools such as ffmpeg.
	ToolsDir string
}

// Selection carries the per-start values that end up in the worker environment.
type Selection struct {
	Model   string
	HFToken string
}

// Resolve inspects cfg and the filesystem and returns the deployment context.
func Resolve(cfg *config.Config) (Context, error) {
	if cfg == nil {
		return Context{}, services.Wrap(services.ErrConfiguration, "deployment", "resolve", "config is nil", nil)
	}
	w := cfg.Worker

	var mode Mode
	switch w.Deployment {
	case config.DeploymentPackaged:
		mode = Packaged
	case config.DeploymentDevelopment:
		mode = Development
	case config.DeploymentAuto, "":
		mode = Development
		if w.ResourcesDir != "" && fileExists(bundledPython(w.ResourcesDir)) {
			mode = Packaged
		}
	default:
		return Context{}, services.Wrap(services.ErrConfiguration, "deployment", "resolve",
			fmt.Sprintf("unknown deployment %q", w.Deployment), nil)
	}

	ctx := Context{Mode: mode, ToolsDir: w.ToolsDir}
	if mode == Packaged {
		if w.ResourcesDir == "" {
			return Context{}, services.Wrap(services.ErrConfiguration, "deployment", "resolve",
				"packaged deployment requires worker.resources_dir", nil)
		}
		ctx.ServiceDir = filepath.Join(w.ResourcesDir, "python-service")
		ctx.Python = firstNonEmpty(w.Python, bundledPython(w.ResourcesDir))
		ctx.RuntimeHome = firstNonEmpty(w.RuntimeHome, filepath.Join(w.ResourcesDir, "python"))
		ctx.ToolsDir = firstNonEmpty(w.ToolsDir, filepath.Join(w.ResourcesDir, "bin"))
	} else {
		ctx.ServiceDir = w.ServiceDir
		venv := filepath.Join(w.ServiceDir, "venv", "bin", "python3")
		if fileExists(venv) {
			ctx.Python = firstNonEmpty(w.Python, venv)
		} else {
			ctx.Python = firstNonEmpty(w.Python, "python3")
		}
	}
	ctx.Script = firstNonEmpty(w.Script, filepath.Join(ctx.ServiceDir, "whisper_service", "main.py"))
	return ctx, nil
}

// ProcessConfig builds the launch description for one worker start.
func (c Context) ProcessConfig(sel Selection) (worker.ProcessConfig, error) {
	model := strings.TrimSpace(sel.Model)
	if strings.ContainsAny(model, " \t\n") {
		return worker.ProcessConfig{}, services.Wrap(services.ErrValidation, "deployment", "process config",
			fmt.Sprintf("invalid model name %q", model), nil)
	}

	env := map[string]string{
		"PYTHONUNBUFFERED":                 "1",
		"PYTHONDONTWRITEBYTECODE":          "1",
		"PYTHONPATH":                       c.ServiceDir,
		"TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD": "1",
	}
	if model != "" {
		env["WHISPER_MODEL"] = model
	}
	if token := strings.TrimSpace(sel.HFToken); token != "" {
		env["HF_TOKEN"] = token
	}
	if c.Mode == Packaged && c.RuntimeHome != "" {
		env["PYTHONHOME"] = c.RuntimeHome
	}
	if c.ToolsDir != "" {
		path := c.ToolsDir
		if current := os.Getenv("PATH"); current != "" {
			path += string(os.PathListSeparator) + current
		}
		env["PATH"] = path
	}

	return worker.ProcessConfig{
		Executable: c.Python,
		Script:     c.Script,
		WorkingDir: c.ServiceDir,
		Env:        env,
	}, nil
}

// Tools reports the availability of the interpreter and bundled tools.
func (c Context) Tools() []deps.Status {
	dirs := []string{}
	if c.ToolsDir != "" {
		dirs = append(dirs, c.ToolsDir)
	}
	statuses := deps.CheckBinaries([]deps.Requirement{
		{Name: "Python", Command: c.Python, Description: "Worker interpreter"},
	}, dirs...)
	return append(statuses, deps.CheckFFmpeg("", dirs...))
}

// FFmpegPath returns the ffmpeg executable this deployment should use, or the
// bare name when nothing resolves.
func (c Context) FFmpegPath() string {
	var dirs []string
	if c.ToolsDir != "" {
		dirs = append(dirs, c.ToolsDir)
	}
	if status := deps.CheckFFmpeg("", dirs...); status.Available {
		return status.Path
	}
	return "ffmpeg"
}

func bundledPython(resources string) string {
	return filepath.Join(resources, "python", "bin", "python3")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
