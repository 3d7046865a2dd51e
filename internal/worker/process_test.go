package worker

import (
	"slices"
	"testing"
)

func TestProcessConfigArgv(t *testing.T) {
	cfg := ProcessConfig{Script: "/srv/whisper_service/main.py", Args: []string{"--log-level", "debug"}}
	want := []string{"/srv/whisper_service/main.py", "--log-level", "debug"}
	if got := cfg.argv(); !slices.Equal(got, want) {
		t.Fatalf("argv = %v, want %v", got, want)
	}
	if got := (ProcessConfig{Args: []string{"-m", "x"}}).argv(); !slices.Equal(got, []string{"-m", "x"}) {
		t.Fatalf("argv without script = %v", got)
	}
}

func TestProcessConfigEnvironOverrides(t *testing.T) {
	cfg := ProcessConfig{Env: map[string]string{"PYTHONUNBUFFERED": "1", "PATH": "/bundle/bin:/usr/bin"}}
	got := cfg.environ([]string{"PATH=/usr/bin", "HOME=/home/u", "malformed"})
	want := []string{"HOME=/home/u", "PATH=/bundle/bin:/usr/bin", "PYTHONUNBUFFERED=1"}
	if !slices.Equal(got, want) {
		t.Fatalf("environ = %v, want %v", got, want)
	}
}

func TestExitInfoString(t *testing.T) {
	if got := (ExitInfo{PID: 7, Code: 1}).String(); got != "pid 7 exited with code 1" {
		t.Fatalf("String = %q", got)
	}
	if got := (ExitInfo{PID: 7, Code: -1, Signal: "SIGKILL"}).String(); got != "pid 7 terminated by SIGKILL" {
		t.Fatalf("String = %q", got)
	}
}
