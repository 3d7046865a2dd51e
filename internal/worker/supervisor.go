package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"murmur/internal/jsonrpc"
	"murmur/internal/logging"
	"murmur/internal/services"
)

const component = "worker"

// Default supervision timings.
const (
	DefaultStartupTimeout  = 120 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultGracePeriod     = 5 * time.Second
)

// reapTimeout bounds the wait after SIGKILL.
const reapTimeout = 10 * time.Second

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the supervisor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStartupTimeout bounds how long Start waits for the ready notification.
func WithStartupTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.startupTimeout = d
		}
	}
}

// WithShutdownTimeout bounds the graceful shutdown request.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithGracePeriod sets how long Stop waits after SIGTERM before SIGKILL.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.gracePeriod = d
		}
	}
}

// WithCallTimeout sets the default deadline for calls on the worker channel.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithDebugLogHandler receives every stderr line the worker writes.
func WithDebugLogHandler(fn func(line string)) Option {
	return func(s *Supervisor) {
		s.onDebugLog = fn
	}
}

// WithReadyHandler receives the version from the worker's ready notification.
func WithReadyHandler(fn func(version string)) Option {
	return func(s *Supervisor) {
		s.onReady = fn
	}
}

// WithNotificationHandler receives every worker notification, in wire order,
// including the ready notification.
func WithNotificationHandler(fn func(jsonrpc.Notification)) Option {
	return func(s *Supervisor) {
		s.onNotification = fn
	}
}

// WithExitHandler is called once per process after it has been reaped and
// its channel torn down. It runs before a pending Stop returns.
func WithExitHandler(fn func(ExitInfo)) Option {
	return func(s *Supervisor) {
		s.onExit = fn
	}
}

// WithSignalFunc replaces process-group signalling.
func WithSignalFunc(fn func(pid int, sig syscall.Signal) error) Option {
	return func(s *Supervisor) {
		if fn != nil {
			s.signal = fn
		}
	}
}

// Supervisor owns at most one live worker process.
type Supervisor struct {
	logger          *slog.Logger
	startupTimeout  time.Duration
	shutdownTimeout time.Duration
	gracePeriod     time.Duration
	callTimeout     time.Duration
	onDebugLog      func(string)
	onReady         func(string)
	onExit          func(ExitInfo)
	onNotification  func(jsonrpc.Notification)
	signal          func(pid int, sig syscall.Signal) error

	mu       sync.Mutex
	starting *startAttempt
	current  *process
}

// startAttempt tracks one Start call so Stop can abandon it.
type startAttempt struct {
	abort     chan struct{}
	abortOnce sync.Once
	done      chan struct{}
}

func (a *startAttempt) cancel() {
	a.abortOnce.Do(func() { close(a.abort) })
}

func (a *startAttempt) aborted() bool {
	select {
	case <-a.abort:
		return true
	default:
		return false
	}
}

type process struct {
	cmd      *exec.Cmd
	pid      int
	stdin    io.WriteCloser
	channel  *jsonrpc.Channel
	exited   chan struct{}
	expected atomic.Bool
	exit     ExitInfo
}

func (p *process) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// NewSupervisor constructs an idle supervisor.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		logger:          logging.NewNop(),
		startupTimeout:  DefaultStartupTimeout,
		shutdownTimeout: DefaultShutdownTimeout,
		gracePeriod:     DefaultGracePeriod,
		callTimeout:     jsonrpc.DefaultCallTimeout,
		signal:          signalGroup,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, component)
	return s
}

// Start spawns the worker described by cfg and returns its channel once the
// worker has announced readiness.
func (s *Supervisor) Start(ctx context.Context, cfg ProcessConfig) (*jsonrpc.Channel, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.starting != nil || (s.current != nil && !s.current.hasExited()) {
		s.mu.Unlock()
		return nil, services.Wrap(services.ErrAlreadyRunning, component, "start", "a worker process is already running", nil)
	}
	attempt := &startAttempt{abort: make(chan struct{}), done: make(chan struct{})}
	s.starting = attempt
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.starting = nil
		s.mu.Unlock()
		close(attempt.done)
	}()

	executable, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	if attempt.aborted() {
		return nil, errStoppedDuringStart()
	}

	proc, ready, err := s.spawn(executable, cfg)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.startupTimeout)
	defer timer.Stop()

	var failure error
	select {
	case <-attempt.abort:
		failure = errStoppedDuringStart()
	case version := <-ready:
		s.logger.Info("worker ready",
			logging.Int("pid", proc.pid),
			logging.String("version", version),
		)
		if s.onReady != nil {
			s.onReady(version)
		}
		return proc.channel, nil
	case <-timer.C:
		failure = services.Wrap(services.ErrSpawn, component, "start",
			fmt.Sprintf("no ready notification within %s", s.startupTimeout), services.ErrTimeout)
	case <-ctx.Done():
		failure = fmt.Errorf("worker start: %w", ctx.Err())
	case <-proc.exited:
		failure = services.Wrap(services.ErrCrash, component, "start",
			fmt.Sprintf("worker exited before ready (%s)", proc.exit), nil)
	}

	if !proc.hasExited() {
		proc.expected.Store(true)
		if err := s.signal(proc.pid, unix.SIGKILL); err != nil {
			s.logger.Warn("kill after failed start", logging.Int("pid", proc.pid), logging.Error(err))
		}
		<-proc.exited
	}
	if attempt.aborted() {
		s.logger.Info("worker start abandoned", logging.Int("pid", proc.pid))
		return nil, failure
	}
	logging.ErrorWithContext(s.logger, "worker start failed", "worker_start",
		logging.Error(failure),
		logging.String(logging.FieldErrorHint, "check the worker executable, script and debug output"),
	)
	return nil, failure
}

func errStoppedDuringStart() error {
	return services.Wrap(services.ErrChannelClosed, component, "start", "stopped before the worker became ready", nil)
}

func (s *Supervisor) spawn(executable string, cfg ProcessConfig) (*process, <-chan string, error) {
	cmd := exec.Command(executable, cfg.argv()...)
	cmd.Dir = cfg.WorkingDir
	cmd.Env = cfg.environ(os.Environ())
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, services.Wrap(services.ErrSpawn, component, "start", "stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, services.Wrap(services.ErrSpawn, component, "start", "stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, services.Wrap(services.ErrSpawn, component, "start", "stderr pipe", err)
	}

	channel := jsonrpc.New(stdout, stdin,
		jsonrpc.WithLogger(s.logger),
		jsonrpc.WithDefaultTimeout(s.callTimeout),
		jsonrpc.WithExternalTeardown(),
	)
	// Ready is signalled after the notification handler has seen it, so
	// listeners observe ready before Start returns and before any later
	// notification.
	ready := make(chan string, 1)
	var readyOnce sync.Once
	channel.OnAnyNotification(func(n jsonrpc.Notification) {
		if s.onNotification != nil {
			s.onNotification(n)
		}
		if n.Method != "ready" {
			return
		}
		var payload struct {
			Version string `json:"version"`
		}
		_ = json.Unmarshal(n.Params, &payload)
		readyOnce.Do(func() { ready <- payload.Version })
	})

	if err := cmd.Start(); err != nil {
		return nil, nil, services.Wrap(services.ErrSpawn, component, "start", fmt.Sprintf("spawn %s", executable), err)
	}

	proc := &process{
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		stdin:   stdin,
		channel: channel,
		exited:  make(chan struct{}),
	}
	s.mu.Lock()
	s.current = proc
	s.mu.Unlock()

	s.logger.Info("worker spawned",
		logging.Int("pid", proc.pid),
		logging.String("executable", executable),
		logging.String("script", cfg.Script),
	)

	stderrDone := make(chan struct{})
	go s.pumpStderr(stderr, stderrDone)
	channel.Start()
	go s.observe(proc, stderrDone)

	return proc, ready, nil
}

func (s *Supervisor) pumpStderr(stderr io.Reader, done chan<- struct{}) {
	defer close(done)
	reader := bufio.NewReader(stderr)
	for {
		line, err := reader.ReadString('\n')
		if trimmed := strings.TrimRight(line, "\r\n"); strings.TrimSpace(trimmed) != "" {
			s.logger.Debug("worker output", logging.String(logging.FieldStream, "stderr"), logging.String("line", trimmed))
			if s.onDebugLog != nil {
				s.onDebugLog(trimmed)
			}
		}
		if err != nil {
			return
		}
	}
}

// observe reaps the process once both output streams have drained, then
// tears down its channel.
func (s *Supervisor) observe(proc *process, stderrDone <-chan struct{}) {
	<-proc.channel.ReadDone()
	<-stderrDone
	waitErr := proc.cmd.Wait()
	_ = proc.stdin.Close()

	info := exitInfoFrom(proc.pid, proc.cmd.ProcessState, waitErr)
	info.Expected = proc.expected.Load()
	proc.exit = info

	if info.Expected {
		proc.channel.Close(services.Wrap(services.ErrChannelClosed, component, "exit", "worker stopped", nil))
		s.logger.Info("worker exited",
			logging.Int("pid", info.PID),
			logging.Int("code", info.Code),
			logging.String("signal", info.Signal),
		)
	} else {
		proc.channel.Close(services.Wrap(services.ErrCrash, component, "exit", info.String(), nil))
		logging.ErrorWithContext(s.logger, "worker exited unexpectedly", "worker_crash",
			logging.Int("pid", info.PID),
			logging.Int("code", info.Code),
			logging.String("signal", info.Signal),
			logging.String(logging.FieldErrorHint, "inspect worker debug output for the cause"),
		)
	}

	s.mu.Lock()
	if s.current == proc {
		s.current = nil
	}
	s.mu.Unlock()

	// Stop returns once exited closes, so listeners see the exit first.
	if s.onExit != nil {
		s.onExit(info)
	}
	close(proc.exited)
}

// Stop shuts the worker down. It succeeds when no process is running. A Start
// still waiting for readiness is abandoned and its process killed before
// Stop returns.
func (s *Supervisor) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	attempt := s.starting
	s.mu.Unlock()
	if attempt != nil {
		attempt.cancel()
		select {
		case <-attempt.done:
		case <-ctx.Done():
			return fmt.Errorf("worker stop: %w", ctx.Err())
		}
	}

	s.mu.Lock()
	proc := s.current
	s.mu.Unlock()
	if proc == nil || proc.hasExited() {
		return nil
	}
	proc.expected.Store(true)

	if _, err := proc.channel.Call(ctx, "shutdown", nil, s.shutdownTimeout); err != nil {
		s.logger.Debug("shutdown request not acknowledged", logging.Error(err))
	}
	_ = proc.stdin.Close()

	if proc.hasExited() {
		return nil
	}
	if err := s.signal(proc.pid, unix.SIGTERM); err != nil {
		s.logger.Warn("terminate worker", logging.Int("pid", proc.pid), logging.Error(err))
	}

	grace := time.NewTimer(s.gracePeriod)
	defer grace.Stop()
	select {
	case <-proc.exited:
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}
	if proc.hasExited() {
		return nil
	}

	logging.WarnWithContext(s.logger, "worker did not exit after terminate; killing", "worker_kill",
		logging.Int("pid", proc.pid),
		logging.Duration("grace_period", s.gracePeriod),
		logging.String(logging.FieldErrorHint, "the worker may be stuck in native code"),
	)
	if err := s.signal(proc.pid, unix.SIGKILL); err != nil {
		s.logger.Warn("kill worker", logging.Int("pid", proc.pid), logging.Error(err))
	}

	reap := time.NewTimer(reapTimeout)
	defer reap.Stop()
	select {
	case <-proc.exited:
		return nil
	case <-reap.C:
		return services.Wrap(services.ErrTimeout, component, "stop", fmt.Sprintf("pid %d not reaped after kill", proc.pid), nil)
	}
}

// Running reports whether a worker process is alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && !s.current.hasExited()
}

// PID returns the live worker's process id, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.hasExited() {
		return 0
	}
	return s.current.pid
}

// Channel returns the live worker's channel, or nil.
func (s *Supervisor) Channel() *jsonrpc.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.hasExited() {
		return nil
	}
	return s.current.channel
}
