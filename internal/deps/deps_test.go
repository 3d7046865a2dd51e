package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func writeStub(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
}

func TestCheckBinaries(t *testing.T) {
	tmp := t.TempDir()
	present := filepath.Join(tmp, "present")
	writeStub(t, present)
	notExec := filepath.Join(tmp, "plain")
	if err := os.WriteFile(notExec, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	toolsDir := filepath.Join(tmp, "tools")
	writeStub(t, filepath.Join(toolsDir, "bundled-tool"))

	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Plain", Command: notExec},
		{Name: "Bundled", Command: "bundled-tool"},
		{Name: "Unset", Command: "  ", Optional: true},
	}
	results := CheckBinaries(reqs, toolsDir)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available || results[0].Path != present || results[0].Detail != "" {
		t.Fatalf("unexpected status for present binary: %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" || results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected status for missing binary: %#v", results[1])
	}
	if results[2].Available {
		t.Fatalf("non-executable file should be unavailable: %#v", results[2])
	}
	if !results[3].Available || results[3].Path != filepath.Join(toolsDir, "bundled-tool") {
		t.Fatalf("bundled tool should resolve from search dir: %#v", results[3])
	}
	if results[4].Available || results[4].Detail != "command not configured" || !results[4].Optional {
		t.Fatalf("unexpected status for unset command: %#v", results[4])
	}
}

func TestCheckFFmpegPrefersSibling(t *testing.T) {
	tmp := t.TempDir()
	drapto := filepath.Join(tmp, "drapto")
	ffmpeg := filepath.Join(tmp, "ffmpeg")
	writeStub(t, drapto)
	writeStub(t, ffmpeg)
	tools := filepath.Join(tmp, "tools")
	writeStub(t, filepath.Join(tools, "ffmpeg"))

	status := CheckFFmpeg(drapto, tools)
	if !status.Available || status.Path != ffmpeg {
		t.Fatalf("expected sibling ffmpeg %q, got %#v", ffmpeg, status)
	}
}

func TestCheckFFmpegToolsDirThenPath(t *testing.T) {
	tmp := t.TempDir()
	tools := filepath.Join(tmp, "tools")
	writeStub(t, filepath.Join(tools, "ffmpeg"))
	binDir := filepath.Join(tmp, "bin")
	writeStub(t, filepath.Join(binDir, "ffmpeg"))
	t.Setenv("PATH", binDir)

	if status := CheckFFmpeg("", tools); status.Path != filepath.Join(tools, "ffmpeg") {
		t.Fatalf("expected tools dir ffmpeg, got %#v", status)
	}
	if status := CheckFFmpeg(""); status.Path != filepath.Join(binDir, "ffmpeg") {
		t.Fatalf("expected PATH ffmpeg, got %#v", status)
	}
}

func TestCheckFFmpegNotFound(t *testing.T) {
	t.Setenv("PATH", "")
	status := CheckFFmpeg(filepath.Join(t.TempDir(), "drapto"))
	if status.Available || status.Detail == "" {
		t.Fatalf("expected ffmpeg resolution to fail, got %#v", status)
	}
}
