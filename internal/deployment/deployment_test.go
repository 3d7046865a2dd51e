package deployment_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"murmur/internal/config"
	"murmur/internal/deployment"
	"murmur/internal/services"
	"murmur/internal/testsupport"
)

func TestResolveDevelopmentUsesVenv(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDevelopmentService(true))

	ctx, err := deployment.Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ctx.Mode != deployment.Development {
		t.Fatalf("mode = %s", ctx.Mode)
	}
	if want := filepath.Join(cfg.Worker.ServiceDir, "venv", "bin", "python3"); ctx.Python != want {
		t.Fatalf("python = %q, want %q", ctx.Python, want)
	}
	if want := filepath.Join(cfg.Worker.ServiceDir, "whisper_service", "main.py"); ctx.Script != want {
		t.Fatalf("script = %q, want %q", ctx.Script, want)
	}
}

func TestResolveDevelopmentFallsBackToSystemPython(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDevelopmentService(false))
	ctx, err := deployment.Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ctx.Python != "python3" {
		t.Fatalf("python = %q, want python3", ctx.Python)
	}

	cfg.Worker.Python = "/opt/python/bin/python3.11"
	ctx, err = deployment.Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ctx.Python != cfg.Worker.Python {
		t.Fatalf("explicit interpreter ignored: %q", ctx.Python)
	}
}

func TestResolveAutoDetectsPackaged(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPackagedResources())
	cfg.Worker.Deployment = config.DeploymentAuto

	ctx, err := deployment.Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	res := cfg.Worker.ResourcesDir
	if ctx.Mode != deployment.Packaged {
		t.Fatalf("mode = %s, want packaged", ctx.Mode)
	}
	if ctx.Python != filepath.Join(res, "python", "bin", "python3") ||
		ctx.RuntimeHome != filepath.Join(res, "python") ||
		ctx.ToolsDir != filepath.Join(res, "bin") ||
		ctx.ServiceDir != filepath.Join(res, "python-service") {
		t.Fatalf("unexpected packaged context %+v", ctx)
	}

	cfg.Worker.ResourcesDir = filepath.Join(t.TempDir(), "empty")
	ctx, err = deployment.Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ctx.Mode != deployment.Development {
		t.Fatalf("auto without bundle should be development, got %s", ctx.Mode)
	}
}

func TestResolvePackagedRequiresResources(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Worker.Deployment = config.DeploymentPackaged
	cfg.Worker.ResourcesDir = ""
	if _, err := deployment.Resolve(cfg); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestProcessConfigPackagedEnvironment(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPackagedResources())
	ctx, err := deployment.Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	pc, err := ctx.ProcessConfig(deployment.Selection{Model: "large-v3", HFToken: "hf_secret"})
	if err != nil {
		t.Fatalf("ProcessConfig: %v", err)
	}
	if pc.Executable != ctx.Python || pc.Script != ctx.Script || pc.WorkingDir != ctx.ServiceDir {
		t.Fatalf("unexpected process config %+v", pc)
	}
	expect := map[string]string{
		"PYTHONUNBUFFERED":                 "1",
		"PYTHONPATH":                       ctx.ServiceDir,
		"PYTHONHOME":                       ctx.RuntimeHome,
		"WHISPER_MODEL":                    "large-v3",
		"HF_TOKEN":                         "hf_secret",
		"TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD": "1",
	}
	for key, want := range expect {
		if got := pc.Env[key]; got != want {
			t.Errorf("env %s = %q, want %q", key, got, want)
		}
	}
	if !strings.HasPrefix(pc.Env["PATH"], ctx.ToolsDir+string(os.PathListSeparator)) {
		t.Errorf("PATH should start with tools dir: %q", pc.Env["PATH"])
	}

	again, err := ctx.ProcessConfig(deployment.Selection{Model: "medium"})
	if err != nil {
		t.Fatalf("ProcessConfig: %v", err)
	}
	if again.Env["WHISPER_MODEL"] != "medium" || pc.Env["WHISPER_MODEL"] != "large-v3" {
		t.Fatal("each start must get an independent environment")
	}
	if _, ok := again.Env["HF_TOKEN"]; ok {
		t.Fatal("empty token must not be exported")
	}
}

func TestProcessConfigDevelopmentOmitsPythonHome(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDevelopmentService(false))
	ctx, err := deployment.Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	pc, err := ctx.ProcessConfig(deployment.Selection{Model: "small"})
	if err != nil {
		t.Fatalf("ProcessConfig: %v", err)
	}
	if _, ok := pc.Env["PYTHONHOME"]; ok {
		t.Fatal("development must not set PYTHONHOME")
	}
	if _, ok := pc.Env["PATH"]; ok {
		t.Fatal("development without tools dir must inherit PATH")
	}
	if _, err := ctx.ProcessConfig(deployment.Selection{Model: "large v3"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation for model with whitespace, got %v", err)
	}
}

func TestToolsReportsBundledBinaries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPackagedResources())
	ctx, err := deployment.Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	tools := ctx.Tools()
	if len(tools) != 2 {
		t.Fatalf("expected python and ffmpeg statuses, got %d", len(tools))
	}
	for _, status := range tools {
		if !status.Available {
			t.Fatalf("%s should be available: %s", status.Name, status.Detail)
		}
	}
	if got := ctx.FFmpegPath(); got != filepath.Join(ctx.ToolsDir, "ffmpeg") {
		t.Fatalf("FFmpegPath = %q", got)
	}
}
