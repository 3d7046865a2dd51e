package whisperx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"murmur/internal/eventbus"
	"murmur/internal/jsonrpc"
	"murmur/internal/language"
	"murmur/internal/logging"
	"murmur/internal/services"
	"murmur/internal/worker"
)

const component = "whisperx"

// Default call deadlines.
const (
	DefaultInitializeTimeout = 10 * time.Minute
	DefaultCancelTimeout     = 5 * time.Second
	DefaultStatusTimeout     = 10 * time.Second
)

// ConfigSource produces the launch description for each Start.
type ConfigSource func() (worker.ProcessConfig, error)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSupervisorOptions forwards options to every supervisor the service creates.
func WithSupervisorOptions(opts ...worker.Option) Option {
	return func(s *Service) {
		s.supervisorOpts = append(s.supervisorOpts, opts...)
	}
}

// WithInitializeTimeout bounds model loading.
func WithInitializeTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.initTimeout = d
		}
	}
}

// WithCallTimeout bounds transcribe and align calls. Zero keeps the channel default.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithFFmpegBinary sets the ffmpeg used by ExtractAudio.
func WithFFmpegBinary(path string) Option {
	return func(s *Service) {
		if strings.TrimSpace(path) != "" {
			s.ffmpegBinary = path
		}
	}
}

// WithCommandRunner replaces external command execution (for testing).
func WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) Option {
	return func(s *Service) {
		s.commandRunner = runner
	}
}

// Service is the typed transcription facade over one worker process at a time.
type Service struct {
	source         ConfigSource
	logger         *slog.Logger
	supervisorOpts []worker.Option
	initTimeout    time.Duration
	callTimeout    time.Duration
	ffmpegBinary   string
	commandRunner  func(ctx context.Context, name string, args ...string) error

	bus *eventbus.Bus[Event]

	mu          sync.Mutex
	state       State
	supervisor  *worker.Supervisor
	channel     *jsonrpc.Channel
	inFlight    int
	cancelStart context.CancelFunc
	startDone   chan struct{}
}

// NewService builds an idle service. source is consulted on every Start.
func NewService(source ConfigSource, opts ...Option) *Service {
	s := &Service{
		source:       source,
		logger:       logging.NewNop(),
		initTimeout:  DefaultInitializeTimeout,
		ffmpegBinary: FFmpegCommand,
		bus:          eventbus.New[Event](),
		state:        StateNotStarted,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, component)
	return s
}

// Subscribe registers fn for every event and returns its unsubscribe func.
func (s *Service) Subscribe(fn func(Event)) func() {
	return s.bus.Subscribe(fn)
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start spawns the worker and waits for it to become ready. A concurrent Stop
// abandons the start and Start returns an error.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	switch s.state {
	case StateStarting, StateReady, StateBusy, StateStopping:
		state := s.state
		s.mu.Unlock()
		return services.Wrap(services.ErrAlreadyRunning, component, "start", fmt.Sprintf("service is %s", state), nil)
	}
	startCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancelStart = cancel
	s.startDone = done
	from := s.setStateLocked(StateStarting)
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		if s.startDone == done {
			s.cancelStart = nil
			s.startDone = nil
		}
		s.mu.Unlock()
		close(done)
	}()
	s.publishState(from, StateStarting)

	if s.source == nil {
		return s.failStart(nil, services.Wrap(services.ErrConfiguration, component, "start", "no worker configuration source", nil))
	}
	cfg, err := s.source()
	if err != nil {
		if !errors.Is(err, services.ErrConfiguration) && !errors.Is(err, services.ErrValidation) {
			err = services.Wrap(services.ErrConfiguration, component, "start", "resolve worker configuration", err)
		}
		return s.failStart(nil, err)
	}

	var sup *worker.Supervisor
	var readyOnce sync.Once
	opts := append([]worker.Option{}, s.supervisorOpts...)
	opts = append(opts,
		worker.WithLogger(s.logger),
		worker.WithDebugLogHandler(func(line string) {
			s.publish(Event{Type: EventDebugLog, Log: line})
		}),
		worker.WithNotificationHandler(func(n jsonrpc.Notification) {
			if n.Method == "ready" {
				readyOnce.Do(func() { s.publishReady(n.Params) })
				return
			}
			s.handleNotification(n)
		}),
		worker.WithExitHandler(func(info worker.ExitInfo) {
			s.handleExit(sup, info)
		}),
	)
	sup = worker.NewSupervisor(opts...)

	s.mu.Lock()
	if s.state != StateStarting {
		s.mu.Unlock()
		return errStoppedDuringStart()
	}
	s.supervisor = sup
	s.mu.Unlock()

	channel, err := sup.Start(startCtx, cfg)
	if err != nil {
		return s.failStart(sup, err)
	}

	s.mu.Lock()
	if s.supervisor != sup || s.state != StateStarting {
		s.mu.Unlock()
		if stopErr := sup.Stop(ctx); stopErr != nil {
			s.logger.Warn("stop worker abandoned during start", logging.Error(stopErr))
		}
		return errStoppedDuringStart()
	}
	s.channel = channel
	from = s.setStateLocked(StateReady)
	s.mu.Unlock()
	s.publishState(from, StateReady)
	return nil
}

func errStoppedDuringStart() error {
	return services.Wrap(services.ErrChannelClosed, component, "start", "service stopped during start", nil)
}

func (s *Service) failStart(sup *worker.Supervisor, err error) error {
	target := StateStopped
	if errors.Is(err, services.ErrCrash) {
		target = StateCrashed
	}
	s.mu.Lock()
	if s.state != StateStarting || (sup != nil && s.supervisor != sup) {
		s.mu.Unlock()
		return err
	}
	s.supervisor = nil
	s.channel = nil
	from := s.setStateLocked(target)
	s.mu.Unlock()

	s.publishState(from, target)
	s.publishError(err)
	return err
}

// Initialize loads a model in the worker.
func (s *Service) Initialize(ctx context.Context, opts InitOptions) (InitResult, error) {
	opts.Model = strings.TrimSpace(opts.Model)
	if opts.Model == "" {
		return InitResult{}, services.Wrap(services.ErrValidation, component, "initialize", "model name required", nil)
	}
	if opts.Language != "" {
		opts.Language = language.Normalize(opts.Language)
	}
	opts.Device = strings.ToLower(strings.TrimSpace(opts.Device))

	channel, err := s.begin("initialize")
	if err != nil {
		return InitResult{}, err
	}
	defer s.end()

	var result InitResult
	if err := channel.CallResult(ctx, "initialize", opts, s.initTimeout, &result); err != nil {
		return InitResult{}, err
	}
	if result.Model == "" {
		result.Model = opts.Model
	}
	s.logger.Info("worker model initialized",
		logging.String(logging.FieldModel, result.Model),
		logging.String("language", opts.Language),
		logging.String("device", opts.Device),
	)
	return result, nil
}

type transcribeParams struct {
	AudioPath string `json:"audio_path"`
	Language  string `json:"language,omitempty"`
}

type alignParams struct {
	AudioPath string         `json:"audio_path"`
	Segments  []AlignSegment `json:"segments"`
}

// Transcribe runs speech recognition plus word alignment on an audio file.
func (s *Service) Transcribe(ctx context.Context, audioPath string, opts TranscribeOptions) (Result, error) {
	path, err := validateAudio("transcribe", audioPath)
	if err != nil {
		return Result{}, err
	}
	params := transcribeParams{AudioPath: path}
	if !language.IsAuto(opts.Language) {
		params.Language = language.Normalize(opts.Language)
	}
	return s.run(ctx, "transcribe", params)
}

// Align force-aligns known text segments against an audio file.
func (s *Service) Align(ctx context.Context, audioPath string, segments []AlignSegment) (Result, error) {
	path, err := validateAudio("align", audioPath)
	if err != nil {
		return Result{}, err
	}
	if len(segments) == 0 {
		return Result{}, services.Wrap(services.ErrValidation, component, "align", "at least one segment required", nil)
	}
	for i, seg := range segments {
		if strings.TrimSpace(seg.Text) == "" {
			return Result{}, services.Wrap(services.ErrValidation, component, "align", fmt.Sprintf("segment %d has no text", i), nil)
		}
		if seg.End < seg.Start {
			return Result{}, services.Wrap(services.ErrValidation, component, "align", fmt.Sprintf("segment %d ends before it starts", i), nil)
		}
	}
	return s.run(ctx, "align", alignParams{AudioPath: path, Segments: segments})
}

func (s *Service) run(ctx context.Context, method string, params any) (Result, error) {
	channel, err := s.begin(method)
	if err != nil {
		return Result{}, err
	}
	defer s.end()

	started := time.Now()
	var result Result
	if err := channel.CallResult(ctx, method, params, s.callTimeout, &result); err != nil {
		return Result{}, err
	}
	s.logger.Info("worker call completed",
		logging.String("method", method),
		logging.Int("segments", len(result.Segments)),
		logging.Float64("audio_seconds", result.Duration),
		logging.Duration("elapsed", time.Since(started)),
		logging.Bool("cancelled", result.Cancelled),
	)
	return result, nil
}

// Cancel asks the worker to abandon its current job. Failures are logged and
// otherwise ignored; the in-flight call still resolves on its own.
func (s *Service) Cancel(ctx context.Context) {
	channel := s.liveChannel()
	if channel == nil {
		return
	}
	if _, err := channel.Call(ctx, "cancel", nil, DefaultCancelTimeout); err != nil {
		logging.WarnWithContext(s.logger, "cancel request failed", "worker_cancel",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the running job will finish normally"),
		)
	}
}

// Status queries the worker. Without a live worker a local status is
// synthesized and no call is made.
func (s *Service) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	state := s.state
	channel := s.channel
	s.mu.Unlock()
	if channel == nil || !state.Running() {
		return Status{State: state}, nil
	}
	var status Status
	if err := channel.CallResult(ctx, "get_status", nil, DefaultStatusTimeout, &status); err != nil {
		return Status{State: state}, err
	}
	status.State = s.State()
	return status, nil
}

// Stop shuts the worker down. Stopping a service that is not running succeeds.
// A Start in progress is abandoned; Stop returns after it has unwound.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.supervisor
	startDone := s.startDone
	if s.state == StateStopping || (sup == nil && s.state != StateStarting) {
		s.mu.Unlock()
		return nil
	}
	if s.cancelStart != nil {
		s.cancelStart()
	}
	from := s.setStateLocked(StateStopping)
	s.mu.Unlock()
	s.publishState(from, StateStopping)

	var err error
	if sup != nil {
		err = sup.Stop(ctx)
	}
	if startDone != nil {
		select {
		case <-startDone:
		case <-ctx.Done():
			if err == nil {
				err = fmt.Errorf("whisperx stop: %w", ctx.Err())
			}
		}
	}

	s.mu.Lock()
	if s.supervisor == sup {
		s.supervisor = nil
		s.channel = nil
		s.inFlight = 0
	}
	from = s.setStateLocked(StateStopped)
	s.mu.Unlock()
	s.publishState(from, StateStopped)
	return err
}

// ProcessStats samples the live worker's resource usage.
func (s *Service) ProcessStats() (worker.ProcessStats, error) {
	s.mu.Lock()
	sup := s.supervisor
	s.mu.Unlock()
	if sup == nil {
		return worker.ProcessStats{}, services.Wrap(services.ErrNotStarted, component, "stats", "service not running", nil)
	}
	return sup.Stats()
}

func (s *Service) begin(operation string) (*jsonrpc.Channel, error) {
	s.mu.Lock()
	if s.channel == nil || !s.state.Running() {
		state := s.state
		s.mu.Unlock()
		return nil, services.Wrap(services.ErrNotStarted, component, operation, fmt.Sprintf("service is %s", state), nil)
	}
	s.inFlight++
	channel := s.channel
	var from State
	changed := s.state == StateReady
	if changed {
		from = s.setStateLocked(StateBusy)
	}
	s.mu.Unlock()
	if changed {
		s.publishState(from, StateBusy)
	}
	return channel, nil
}

func (s *Service) end() {
	s.mu.Lock()
	if s.inFlight > 0 {
		s.inFlight--
	}
	var from State
	changed := s.inFlight == 0 && s.state == StateBusy
	if changed {
		from = s.setStateLocked(StateReady)
	}
	s.mu.Unlock()
	if changed {
		s.publishState(from, StateReady)
	}
}

func (s *Service) liveChannel() *jsonrpc.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Running() {
		return nil
	}
	return s.channel
}

func (s *Service) handleNotification(n jsonrpc.Notification) {
	switch n.Method {
	case "progress":
		var progress Progress
		if err := json.Unmarshal(n.Params, &progress); err != nil {
			s.logger.Warn("malformed progress notification",
				logging.Error(services.Wrap(services.ErrProtocol, component, "progress", "decode", err)))
			return
		}
		s.publish(Event{Type: EventProgress, Progress: &progress})
	default:
		s.logger.Debug("unhandled worker notification", logging.String("method", n.Method))
	}
}

func (s *Service) publishReady(params json.RawMessage) {
	var payload struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(params, &payload); err != nil {
		s.logger.Debug("ready notification without version", logging.Error(err))
	}
	s.publish(Event{Type: EventReady, Version: payload.Version})
}

func (s *Service) handleExit(sup *worker.Supervisor, info worker.ExitInfo) {
	s.mu.Lock()
	if sup == nil || s.supervisor != sup {
		s.mu.Unlock()
		return
	}
	crashed := !info.Expected && s.state.Running()
	var from State
	if crashed {
		s.supervisor = nil
		s.channel = nil
		s.inFlight = 0
		from = s.setStateLocked(StateCrashed)
	}
	s.mu.Unlock()

	code := info.Code
	s.publish(Event{Type: EventExit, Code: &code, Signal: info.Signal})
	if crashed {
		s.publishState(from, StateCrashed)
		s.publishError(services.Wrap(services.ErrCrash, component, "exit", info.String(), nil))
	}
}

func (s *Service) setStateLocked(to State) State {
	from := s.state
	s.state = to
	return from
}

func (s *Service) publishState(from, to State) {
	if from == to {
		return
	}
	s.logger.Debug("service state changed", logging.String("from", string(from)), logging.String("to", string(to)))
	s.publish(Event{Type: EventState, From: from, To: to})
}

func (s *Service) publishError(err error) {
	s.publish(Event{
		Type:    EventError,
		Message: err.Error(),
		Fatal:   services.IsFatal(err),
		Kind:    services.Kind(err),
	})
}

func (s *Service) publish(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	s.bus.Publish(evt)
}

func validateAudio(operation, audioPath string) (string, error) {
	audioPath = strings.TrimSpace(audioPath)
	if audioPath == "" {
		return "", services.Wrap(services.ErrValidation, component, operation, "audio path required", nil)
	}
	abs, err := filepath.Abs(audioPath)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, component, operation, "resolve audio path", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, component, operation, fmt.Sprintf("audio file %q not found", abs), err)
	}
	if info.IsDir() {
		return "", services.Wrap(services.ErrValidation, component, operation, fmt.Sprintf("audio path %q is a directory", abs), nil)
	}
	return abs, nil
}
