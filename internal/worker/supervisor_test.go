package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"murmur/internal/jsonrpc"
	"murmur/internal/services"
	"murmur/internal/testsupport"
	"murmur/internal/worker"
)

func TestHelperProcess(t *testing.T) {
	if os.Getenv(testsupport.HelperProcessEnv) != "1" {
		return
	}
	testsupport.ExitHelper()
}

func helperConfig(mode string) worker.ProcessConfig {
	return testsupport.HelperWorker(mode)
}

type signalRecorder struct {
	mu      sync.Mutex
	signals []syscall.Signal
}

func (r *signalRecorder) send(pid int, sig syscall.Signal) error {
	r.mu.Lock()
	r.signals = append(r.signals, sig)
	r.mu.Unlock()
	return unix.Kill(-pid, sig)
}

func (r *signalRecorder) count(sig syscall.Signal) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.signals {
		if s == sig {
			n++
		}
	}
	return n
}

type exitRecorder struct {
	ch chan worker.ExitInfo
}

func newExitRecorder() *exitRecorder {
	return &exitRecorder{ch: make(chan worker.ExitInfo, 4)}
}

func (r *exitRecorder) handle(info worker.ExitInfo) { r.ch <- info }

func (r *exitRecorder) wait(t *testing.T) worker.ExitInfo {
	t.Helper()
	select {
	case info := <-r.ch:
		return info
	case <-time.After(5 * time.Second):
		t.Fatal("exit handler not called")
		return worker.ExitInfo{}
	}
}

func newSupervisor(t *testing.T, opts ...worker.Option) *worker.Supervisor {
	t.Helper()
	opts = append([]worker.Option{
		worker.WithStartupTimeout(5 * time.Second),
		worker.WithShutdownTimeout(time.Second),
		worker.WithGracePeriod(2 * time.Second),
	}, opts...)
	sup := worker.NewSupervisor(opts...)
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })
	return sup
}

func TestStartWaitsForReady(t *testing.T) {
	var (
		mu      sync.Mutex
		lines   []string
		version string
	)
	sup := newSupervisor(t,
		worker.WithDebugLogHandler(func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		}),
		worker.WithReadyHandler(func(v string) { version = v }),
	)

	channel, err := sup.Start(context.Background(), helperConfig(testsupport.ModeNormal))
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if version != "1.0.0" {
		t.Fatalf("ready version = %q", version)
	}
	if !sup.Running() || sup.PID() == 0 {
		t.Fatal("expected running worker with pid")
	}

	raw, err := channel.Call(context.Background(), "get_status", nil, time.Second)
	if err != nil {
		t.Fatalf("get_status: %v", err)
	}
	var status struct {
		Initialized bool `json:"initialized"`
	}
	if err := json.Unmarshal(raw, &status); err != nil || status.Initialized {
		t.Fatalf("unexpected status %s (%v)", raw, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		got := len(lines)
		mu.Unlock()
		if got > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stderr line never forwarded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	stats, err := sup.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.PID != sup.PID() {
		t.Fatalf("stats pid = %d, want %d", stats.PID, sup.PID())
	}
}

func TestStartRejectsSecondProcess(t *testing.T) {
	sup := newSupervisor(t)
	if _, err := sup.Start(context.Background(), helperConfig(testsupport.ModeNormal)); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	pid := sup.PID()

	_, err := sup.Start(context.Background(), helperConfig(testsupport.ModeNormal))
	if !errors.Is(err, services.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if sup.PID() != pid || !sup.Running() {
		t.Fatal("first process must be left untouched")
	}
}

func TestStartConfigurationErrors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]worker.ProcessConfig{
		"empty executable":   {},
		"missing executable": {Executable: filepath.Join(dir, "python3")},
		"not on PATH":        {Executable: "murmur-no-such-interpreter"},
		"missing script":     {Executable: os.Args[0], Script: filepath.Join(dir, "main.py")},
		"missing workdir":    {Executable: os.Args[0], WorkingDir: filepath.Join(dir, "nope")},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			sup := newSupervisor(t)
			_, err := sup.Start(context.Background(), cfg)
			if !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
			if !services.IsFatal(err) {
				t.Fatal("configuration errors are fatal")
			}
			if sup.Running() {
				t.Fatal("nothing should have been spawned")
			}
		})
	}
}

func TestStartTimesOutWithoutReady(t *testing.T) {
	exits := newExitRecorder()
	sup := newSupervisor(t,
		worker.WithStartupTimeout(200*time.Millisecond),
		worker.WithExitHandler(exits.handle),
	)

	_, err := sup.Start(context.Background(), helperConfig(testsupport.ModeNoReady))
	if !errors.Is(err, services.ErrSpawn) || !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected startup timeout, got %v", err)
	}
	info := exits.wait(t)
	if !info.Expected {
		t.Fatal("kill after failed start should be reported as expected")
	}
	if sup.Running() {
		t.Fatal("worker should have been killed")
	}
}

func TestStartFailsWhenWorkerExitsEarly(t *testing.T) {
	sup := newSupervisor(t)
	_, err := sup.Start(context.Background(), helperConfig(testsupport.ModeExitEarly))
	if !errors.Is(err, services.ErrCrash) {
		t.Fatalf("expected ErrCrash, got %v", err)
	}
}

func TestStartHonoursContext(t *testing.T) {
	sup := newSupervisor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := sup.Start(ctx, helperConfig(testsupport.ModeNoReady))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
	if sup.Running() {
		t.Fatal("worker should have been killed")
	}
}

func TestCrashRejectsPendingCalls(t *testing.T) {
	exits := newExitRecorder()
	sup := newSupervisor(t, worker.WithExitHandler(exits.handle))

	channel, err := sup.Start(context.Background(), helperConfig(testsupport.ModeCrashAfterTwo))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	errs := make(chan error, 2)
	for _, audio := range []string{"a.wav", "b.wav"} {
		go func() {
			_, err := channel.Call(context.Background(), "transcribe", map[string]string{"audio_path": audio}, 5*time.Second)
			errs <- err
		}()
	}
	for range 2 {
		select {
		case err := <-errs:
			if !errors.Is(err, services.ErrChannelClosed) || !errors.Is(err, services.ErrCrash) {
				t.Fatalf("expected ChannelClosed joined with Crash, got %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("pending call hung after crash")
		}
	}

	info := exits.wait(t)
	if info.Code != 1 || info.Expected {
		t.Fatalf("unexpected exit info %+v", info)
	}
	if sup.Running() {
		t.Fatal("supervisor should not report a crashed worker as running")
	}
}

func TestStopGracefulDoesNotKill(t *testing.T) {
	recorder := &signalRecorder{}
	exits := newExitRecorder()
	sup := newSupervisor(t,
		worker.WithSignalFunc(recorder.send),
		worker.WithExitHandler(exits.handle),
	)
	if _, err := sup.Start(context.Background(), helperConfig(testsupport.ModeNormal)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	info := exits.wait(t)
	if !info.Expected {
		t.Fatalf("stop should mark exit expected: %+v", info)
	}
	if n := recorder.count(unix.SIGKILL); n != 0 {
		t.Fatalf("graceful stop sent %d SIGKILL", n)
	}
	if sup.Running() {
		t.Fatal("worker still running after Stop")
	}
}

func TestStopForcesKillOnceAfterGrace(t *testing.T) {
	recorder := &signalRecorder{}
	exits := newExitRecorder()
	grace := 150 * time.Millisecond
	sup := newSupervisor(t,
		worker.WithSignalFunc(recorder.send),
		worker.WithExitHandler(exits.handle),
		worker.WithGracePeriod(grace),
	)
	if _, err := sup.Start(context.Background(), helperConfig(testsupport.ModeIgnoreTerm)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := time.Now()
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed < grace {
		t.Fatalf("kill issued before the grace period elapsed (%s)", elapsed)
	}
	if n := recorder.count(unix.SIGTERM); n != 1 {
		t.Fatalf("SIGTERM count = %d, want 1", n)
	}
	if n := recorder.count(unix.SIGKILL); n != 1 {
		t.Fatalf("SIGKILL count = %d, want 1", n)
	}
	info := exits.wait(t)
	if info.Signal != "SIGKILL" {
		t.Fatalf("exit signal = %q, want SIGKILL", info.Signal)
	}
}

func TestStopWithoutProcessSucceeds(t *testing.T) {
	sup := worker.NewSupervisor()
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on idle supervisor: %v", err)
	}
	if _, err := sup.Stats(); !errors.Is(err, services.ErrNotStarted) {
		t.Fatalf("Stats on idle supervisor: %v", err)
	}
}

func TestRestartAfterStop(t *testing.T) {
	sup := newSupervisor(t)
	if _, err := sup.Start(context.Background(), helperConfig(testsupport.ModeNormal)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := sup.PID()
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if _, err := sup.Start(context.Background(), helperConfig(testsupport.ModeNormal)); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if sup.PID() == first {
		t.Fatal("restart should spawn a fresh process")
	}
}

func waitForPID(t *testing.T, sup *worker.Supervisor) int {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pid := sup.PID(); pid != 0 {
			return pid
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("worker never spawned")
	return 0
}

func TestStopDuringStartKillsPendingWorker(t *testing.T) {
	pids := t.TempDir()
	exits := newExitRecorder()
	sup := newSupervisor(t,
		worker.WithStartupTimeout(30*time.Second),
		worker.WithExitHandler(exits.handle),
	)

	started := make(chan error, 1)
	go func() {
		_, err := sup.Start(context.Background(), testsupport.HelperWorkerTracked(testsupport.ModeNoReady, pids))
		started <- err
	}()
	waitForPID(t, sup)

	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-started:
		if !errors.Is(err, services.ErrChannelClosed) {
			t.Fatalf("Start after Stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start still waiting for ready after Stop returned")
	}
	if sup.Running() {
		t.Fatal("supervisor reports a running worker after Stop")
	}
	if !exits.wait(t).Expected {
		t.Fatal("abandoned start should exit as expected")
	}
	if live, total := testsupport.LiveWorkers(t, pids); len(live) != 0 || total != 1 {
		t.Fatalf("live workers %v of %d spawned", live, total)
	}
}

func TestStartStopRaceLeavesNoOrphans(t *testing.T) {
	pids := t.TempDir()
	sup := newSupervisor(t)
	cfg := testsupport.HelperWorkerTracked(testsupport.ModeSlowReady, pids)

	for i := range 20 {
		started := make(chan error, 1)
		go func() {
			_, err := sup.Start(context.Background(), cfg)
			started <- err
		}()
		time.Sleep(time.Duration(i%10) * 10 * time.Millisecond)
		if err := sup.Stop(context.Background()); err != nil {
			t.Fatalf("iteration %d: Stop: %v", i, err)
		}
		startErr := <-started

		// Start may legitimately win when Stop ran before it began.
		if sup.Running() {
			if startErr != nil {
				t.Fatalf("iteration %d: running worker but Start failed: %v", i, startErr)
			}
		} else if live, _ := testsupport.LiveWorkers(t, pids); len(live) != 0 {
			t.Fatalf("iteration %d: orphaned workers %v", i, live)
		}
		if err := sup.Stop(context.Background()); err != nil {
			t.Fatalf("iteration %d: cleanup Stop: %v", i, err)
		}
	}

	live, total := testsupport.LiveWorkers(t, pids)
	if len(live) != 0 {
		t.Fatalf("live workers %v of %d spawned", live, total)
	}
	if total == 0 {
		t.Fatal("no worker was ever spawned")
	}
}

func TestExitHandlerRunsBeforeStopReturns(t *testing.T) {
	var mu sync.Mutex
	exits := 0
	sup := newSupervisor(t, worker.WithExitHandler(func(worker.ExitInfo) {
		mu.Lock()
		exits++
		mu.Unlock()
	}))
	for i := range 3 {
		if _, err := sup.Start(context.Background(), helperConfig(testsupport.ModeNormal)); err != nil {
			t.Fatalf("Start %d: %v", i, err)
		}
		if err := sup.Stop(context.Background()); err != nil {
			t.Fatalf("Stop %d: %v", i, err)
		}
		mu.Lock()
		got := exits
		mu.Unlock()
		if got != i+1 {
			t.Fatalf("after stop %d exit handler ran %d times", i, got)
		}
	}
}

func TestReadyNotificationPrecedesLaterNotifications(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)
	sup := newSupervisor(t, worker.WithNotificationHandler(func(n jsonrpc.Notification) {
		mu.Lock()
		methods = append(methods, n.Method)
		mu.Unlock()
	}))
	channel, err := sup.Start(context.Background(), helperConfig(testsupport.ModeNormal))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	mu.Lock()
	seen := slices.Clone(methods)
	mu.Unlock()
	if len(seen) != 1 || seen[0] != "ready" {
		t.Fatalf("notifications seen when Start returned = %v", seen)
	}

	if _, err := channel.Call(context.Background(), "initialize", map[string]string{"model": "small"}, 5*time.Second); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(methods) < 2 || methods[0] != "ready" || methods[1] != "progress" {
		t.Fatalf("notification order = %v", methods)
	}
}
