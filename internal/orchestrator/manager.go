package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"murmur/internal/eventbus"
	"murmur/internal/logging"
	"murmur/internal/services"
	"murmur/internal/services/drapto"
	"murmur/internal/services/whisperx"
	"murmur/internal/worker"
)

const component = "orchestrator"

// Manager owns exactly one facade at a time.
type Manager struct {
	factory    Factory
	store      Store
	sink       Sink
	encoder    drapto.Client
	logger     *slog.Logger
	defaults   whisperx.InitOptions
	scratchDir string

	bus *eventbus.Bus[Event]

	// lifecycle serializes Start, SwitchModel and Stop.
	lifecycle sync.Mutex

	mu          sync.RWMutex
	facade      *whisperx.Service
	unsubscribe func()
	model       string
	activeJobs  map[string]struct{}

	samplerMu sync.Mutex
	sampler   *logging.ProgressSampler
}

// New constructs a Manager. No worker is started until Start.
func New(deps Deps) (*Manager, error) {
	if deps.Factory == nil {
		return nil, services.Wrap(services.ErrConfiguration, component, "new", "facade factory required", nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		factory:    deps.Factory,
		store:      deps.Store,
		sink:       deps.Sink,
		encoder:    deps.Encoder,
		logger:     logging.NewComponentLogger(logger, component),
		defaults:   deps.Defaults,
		scratchDir: deps.ScratchDir,
		bus:        eventbus.New[Event](),
		activeJobs: make(map[string]struct{}),
		sampler:    logging.NewProgressSampler(10),
	}, nil
}

// Subscribe registers fn for every relayed event.
func (m *Manager) Subscribe(fn func(Event)) func() {
	return m.bus.Subscribe(fn)
}

// Model returns the model of the current facade, or the empty string.
func (m *Manager) Model() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.model
}

// State returns the current facade state.
func (m *Manager) State() whisperx.State {
	m.mu.RLock()
	facade := m.facade
	m.mu.RUnlock()
	if facade == nil {
		return whisperx.StateNotStarted
	}
	return facade.State()
}

// Start builds a facade for the persisted selection, starts the worker and
// loads the model. A facade left crashed or stopped is replaced.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if state := m.State(); state == whisperx.StateStarting || state.Running() {
		return services.Wrap(services.ErrAlreadyRunning, component, "start", fmt.Sprintf("worker is %s", state), nil)
	}
	m.release(ctx)

	model, err := m.selectedModel(ctx)
	if err != nil {
		m.startupFailure(model, err)
		return fmt.Errorf("%w: %w", ErrStartup, err)
	}
	return m.launch(ctx, model)
}

// SwitchModel stops the current worker, persists model as the selection and
// starts a fresh facade for it.
func (m *Manager) SwitchModel(ctx context.Context, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return services.Wrap(services.ErrValidation, component, "switch", "model name required", nil)
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	previous := m.Model()
	if previous == model && m.State().Running() {
		m.logger.Debug("model already active", logging.String(logging.FieldModel, model))
		return nil
	}

	m.release(ctx)
	if m.store != nil {
		if err := m.store.SetSelectedModel(ctx, model); err != nil {
			return services.Wrap(services.ErrConfiguration, component, "switch", "persist model selection", err)
		}
	}

	m.logger.Info("switching model",
		logging.String("from", previous),
		logging.String("to", model),
		logging.String(logging.FieldEventType, "model_switch"),
	)
	m.publish(Event{Type: EventModelSwitch, Model: model, Message: fmt.Sprintf("%s -> %s", displayModel(previous), model)})
	return m.launch(ctx, model)
}

// Stop shuts the current worker down. Stopping when nothing runs succeeds.
func (m *Manager) Stop(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.release(ctx)
}

// Status reports the current facade's status.
func (m *Manager) Status(ctx context.Context) (whisperx.Status, error) {
	facade, _ := m.current()
	if facade == nil {
		return whisperx.Status{State: whisperx.StateNotStarted}, nil
	}
	return facade.Status(ctx)
}

// Cancel asks the worker to abandon its current job.
func (m *Manager) Cancel(ctx context.Context) {
	if facade, _ := m.current(); facade != nil {
		facade.Cancel(ctx)
	}
}

// ProcessStats samples the current worker's resource usage.
func (m *Manager) ProcessStats() (worker.ProcessStats, error) {
	facade, _ := m.current()
	if facade == nil {
		return worker.ProcessStats{}, notStarted("stats")
	}
	return facade.ProcessStats()
}

// launch must be called with lifecycle held.
func (m *Manager) launch(ctx context.Context, model string) error {
	facade, err := m.factory(model)
	if err != nil {
		m.startupFailure(model, err)
		return fmt.Errorf("%w: %w", ErrStartup, err)
	}

	unsubscribe := facade.Subscribe(func(evt whisperx.Event) {
		m.relay(model, evt)
	})
	m.mu.Lock()
	m.facade = facade
	m.unsubscribe = unsubscribe
	m.model = model
	m.mu.Unlock()

	started := time.Now()
	if err := facade.Start(ctx); err != nil {
		m.release(ctx)
		m.startupFailure(model, err)
		return fmt.Errorf("%w: %w", ErrStartup, err)
	}

	opts := m.defaults
	opts.Model = model
	if _, err := facade.Initialize(ctx, opts); err != nil {
		m.release(ctx)
		m.startupFailure(model, err)
		return fmt.Errorf("%w: initialize %s: %w", ErrStartup, model, err)
	}

	m.logger.Info("transcription worker ready",
		logging.String(logging.FieldModel, model),
		logging.Duration("startup", time.Since(started)),
	)
	return nil
}

// release stops and forgets the current facade. Must be called with
// lifecycle held.
func (m *Manager) release(ctx context.Context) error {
	m.mu.Lock()
	facade := m.facade
	unsubscribe := m.unsubscribe
	m.mu.Unlock()
	if facade == nil {
		return nil
	}

	err := facade.Stop(ctx)
	if unsubscribe != nil {
		unsubscribe()
	}
	m.mu.Lock()
	if m.facade == facade {
		m.facade = nil
		m.unsubscribe = nil
	}
	m.mu.Unlock()
	if err != nil {
		m.logger.Warn("worker stop reported an error", logging.Error(err))
	}
	return err
}

func (m *Manager) current() (*whisperx.Service, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.facade, m.model
}

func (m *Manager) selectedModel(ctx context.Context) (string, error) {
	fallback := strings.TrimSpace(m.defaults.Model)
	if m.store == nil {
		if fallback == "" {
			return "", services.Wrap(services.ErrConfiguration, component, "start", "no model configured", nil)
		}
		return fallback, nil
	}
	model, ok, err := m.store.SelectedModel(ctx)
	if err != nil {
		return fallback, services.Wrap(services.ErrConfiguration, component, "start", "read model selection", err)
	}
	if ok && model != "" {
		return model, nil
	}
	if fallback == "" {
		return "", services.Wrap(services.ErrConfiguration, component, "start", "no model configured", nil)
	}
	return fallback, nil
}

func (m *Manager) startupFailure(model string, err error) {
	logging.ErrorWithContext(m.logger, "transcription worker failed to start", "startup_failed",
		logging.String(logging.FieldModel, model),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "run murmur doctor to check the worker installation"),
	)
	m.publish(Event{Type: EventStartupError, Model: model, Message: err.Error(), Fatal: true})
}

func (m *Manager) relay(model string, evt whisperx.Event) {
	jobID := m.progressJobID()

	switch evt.Type {
	case whisperx.EventProgress:
		if evt.Progress != nil && m.shouldLogProgress(evt.Progress.Stage, evt.Progress.Percent) {
			m.logger.Info("worker progress",
				logging.String(logging.FieldJobID, jobID),
				logging.String("stage", evt.Progress.Stage),
				logging.Float64("percent", evt.Progress.Percent),
				logging.String("message", evt.Progress.Message),
			)
		}
	case whisperx.EventError:
		if evt.Fatal {
			logging.ErrorWithContext(m.logger, "worker failed", "worker_"+evt.Kind,
				logging.String(logging.FieldModel, model),
				logging.String("error", evt.Message),
			)
		}
	}

	copied := evt
	m.publish(Event{Type: EventWorker, Model: model, JobID: jobID, Worker: &copied})
}

func (m *Manager) shouldLogProgress(stage string, percent float64) bool {
	m.samplerMu.Lock()
	defer m.samplerMu.Unlock()
	return m.sampler.ShouldLog(stage, percent)
}

func (m *Manager) publish(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	m.bus.Publish(evt)
	if m.sink != nil {
		m.sink.Publish(evt)
	}
}

func displayModel(model string) string {
	if model == "" {
		return "(none)"
	}
	return model
}

func notStarted(operation string) error {
	return services.Wrap(services.ErrNotStarted, component, operation, "no transcription worker running", nil)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
