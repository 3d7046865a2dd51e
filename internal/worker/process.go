package worker

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"murmur/internal/services"
)

// ProcessConfig fully describes one worker launch. It is computed fresh for
// every start and never mutated after the process is spawned.
type ProcessConfig struct {
	Executable string
	// Script is passed as the first argument when set.
	Script     string
	Args       []string
	WorkingDir string
	// Env entries override the inherited environment.
	Env map[string]string
}

// argv returns the arguments following the executable.
func (c ProcessConfig) argv() []string {
	args := make([]string, 0, len(c.Args)+1)
	if c.Script != "" {
		args = append(args, c.Script)
	}
	return append(args, c.Args...)
}

// environ merges Env over base, keeping the result sorted by key.
func (c ProcessConfig) environ(base []string) []string {
	merged := make(map[string]string, len(base)+len(c.Env))
	for _, entry := range base {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		merged[key] = value
	}
	for key, value := range c.Env {
		merged[key] = value
	}
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	env := make([]string, 0, len(keys))
	for _, key := range keys {
		env = append(env, key+"="+merged[key])
	}
	return env
}

// validate checks that the executable and script exist before anything is
// spawned.
func (c ProcessConfig) validate() (string, error) {
	exe := strings.TrimSpace(c.Executable)
	if exe == "" {
		return "", services.Wrap(services.ErrConfiguration, component, "start", "worker executable not configured", nil)
	}
	var resolved string
	if strings.ContainsRune(exe, filepath.Separator) {
		info, err := os.Stat(exe)
		if err != nil {
			return "", services.Wrap(services.ErrConfiguration, component, "start", fmt.Sprintf("worker executable %q not found", exe), err)
		}
		if info.IsDir() {
			return "", services.Wrap(services.ErrConfiguration, component, "start", fmt.Sprintf("worker executable %q is a directory", exe), nil)
		}
		resolved = exe
	} else {
		path, err := exec.LookPath(exe)
		if err != nil {
			return "", services.Wrap(services.ErrConfiguration, component, "start", fmt.Sprintf("worker executable %q not found in PATH", exe), err)
		}
		resolved = path
	}
	if c.Script != "" {
		if _, err := os.Stat(c.Script); err != nil {
			return "", services.Wrap(services.ErrConfiguration, component, "start", fmt.Sprintf("worker script %q not found", c.Script), err)
		}
	}
	if c.WorkingDir != "" {
		if info, err := os.Stat(c.WorkingDir); err != nil || !info.IsDir() {
			return "", services.Wrap(services.ErrConfiguration, component, "start", fmt.Sprintf("worker directory %q not found", c.WorkingDir), err)
		}
	}
	return resolved, nil
}

// ExitInfo describes how a worker process ended.
type ExitInfo struct {
	PID int
	// Code is the exit status, or -1 when the process was killed by a signal.
	Code   int
	Signal string
	// Expected is true when the exit followed Stop or a failed start.
	Expected bool
}

func (e ExitInfo) String() string {
	if e.Signal != "" {
		return fmt.Sprintf("pid %d terminated by %s", e.PID, e.Signal)
	}
	return fmt.Sprintf("pid %d exited with code %d", e.PID, e.Code)
}

func exitInfoFrom(pid int, state *os.ProcessState, waitErr error) ExitInfo {
	info := ExitInfo{PID: pid, Code: -1}
	if state == nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			state = exitErr.ProcessState
		}
	}
	if state == nil {
		return info
	}
	info.Code = state.ExitCode()
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		info.Signal = unix.SignalName(status.Signal())
		if info.Signal == "" {
			info.Signal = status.Signal().String()
		}
	}
	return info
}

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to the worker's whole process group.
func signalGroup(pid int, sig syscall.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
