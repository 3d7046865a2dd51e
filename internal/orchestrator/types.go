package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"murmur/internal/services/drapto"
	"murmur/internal/services/whisperx"
	"murmur/internal/settings"
)

// ErrStartup marks failures to bring the worker to an initialized state.
// It is distinct from the errors of individual operations.
var ErrStartup = errors.New("startup failed")

// Factory builds a fresh facade for model.
type Factory func(model string) (*whisperx.Service, error)

// Sink receives every relayed event, e.g. the websocket event stream.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Publish calls f(evt).
func (f SinkFunc) Publish(evt Event) { f(evt) }

// Store persists the model selection and job history. *settings.Store
// satisfies it.
type Store interface {
	SelectedModel(ctx context.Context) (string, bool, error)
	SetSelectedModel(ctx context.Context, model string) error
	BeginJob(ctx context.Context, job settings.Job) (settings.Job, error)
	FinishJob(ctx context.Context, id string, outcome settings.JobOutcome) error
}

// Deps wires a Manager. Factory is required; everything else is optional.
type Deps struct {
	Factory Factory
	Store   Store
	Sink    Sink
	Encoder drapto.Client
	Logger  *slog.Logger
	// Defaults are passed to initialize; Model is the fallback when nothing
	// has been selected yet.
	Defaults   whisperx.InitOptions
	ScratchDir string
}

// EventType names an orchestrator Event.
type EventType string

const (
	EventWorker         EventType = "worker"
	EventStartupError   EventType = "startup-error"
	EventModelSwitch    EventType = "model-switch"
	EventEncodeProgress EventType = "encode-progress"
	EventJob            EventType = "job"
	EventLog            EventType = "log"
)

// JobInfo describes a job lifecycle event.
type JobInfo struct {
	ID     string             `json:"id"`
	Kind   settings.JobKind   `json:"kind"`
	Input  string             `json:"input"`
	Status settings.JobStatus `json:"status"`
	Error  string             `json:"error,omitempty"`
}

// Event is what the orchestrator relays to its Sink and subscribers.
type Event struct {
	Type    EventType              `json:"type"`
	Time    time.Time              `json:"time"`
	Model   string                 `json:"model,omitempty"`
	JobID   string                 `json:"job_id,omitempty"`
	Worker  *whisperx.Event        `json:"worker,omitempty"`
	Encode  *drapto.ProgressUpdate `json:"encode,omitempty"`
	Job     *JobInfo               `json:"job,omitempty"`
	Message string                 `json:"message,omitempty"`
	Fatal   bool                   `json:"fatal,omitempty"`
	// Level is set on log events.
	Level   string                 `json:"level,omitempty"`
}

// trackedJob is a job plus whether the store holds a row for it.
type trackedJob struct {
	settings.Job
	recorded bool
}

// JobResult pairs a worker result with the job that produced it.
type JobResult struct {
	JobID string
	whisperx.Result
}
