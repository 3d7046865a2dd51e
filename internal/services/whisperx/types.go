package whisperx

import (
	"strings"
	"time"
)

// State is the lifecycle state of a Service.
type State string

const (
	StateNotStarted State = "not_started"
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateBusy       State = "busy"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
	StateCrashed    State = "crashed"
)

// Running reports whether the state has a live worker behind it.
func (s State) Running() bool {
	return s == StateReady || s == StateBusy
}

// InitOptions selects the model the worker loads.
type InitOptions struct {
	Model       string `json:"model"`
	Language    string `json:"language,omitempty"`
	Device      string `json:"device,omitempty"`
	ComputeType string `json:"compute_type,omitempty"`
	HFToken     string `json:"hf_token,omitempty"`
}

// InitResult is the worker's answer to initialize.
type InitResult struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// TranscribeOptions tunes a single transcription.
type TranscribeOptions struct {
	// Language is a language name or code; empty or "auto" lets the worker
	// use its initialized language.
	Language string
}

// Word is one word with its alignment timing.
type Word struct {
	Word  string  `json:"word" yaml:"word"`
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
	Score float64 `json:"score" yaml:"score"`
}

// Segment is a timed span of transcribed text.
type Segment struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
	Text  string  `json:"text" yaml:"text"`
	Words []Word  `json:"words,omitempty" yaml:"words,omitempty"`
}

// Result is the output of transcribe and align.
type Result struct {
	Segments []Segment `json:"segments" yaml:"segments"`
	Language string    `json:"language" yaml:"language"`
	// Duration is the audio length in seconds.
	Duration  float64 `json:"duration" yaml:"duration"`
	Cancelled bool    `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
}

// Text joins all segment texts.
func (r Result) Text() string {
	parts := make([]string, 0, len(r.Segments))
	for _, seg := range r.Segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// AlignSegment is a text span to force-align against audio.
type AlignSegment struct {
	Text  string  `json:"text" yaml:"text"`
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
}

// Status mirrors the worker's get_status answer plus the local state.
type Status struct {
	Initialized bool   `json:"initialized"`
	Processing  bool   `json:"processing"`
	Device      string `json:"device"`
	Language    string `json:"language"`
	State       State  `json:"state"`
}

// Progress is the payload of a worker progress notification.
type Progress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// EventType names an Event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventReady    EventType = "ready"
	EventError    EventType = "error"
	EventDebugLog EventType = "debug-log"
	EventExit     EventType = "exit"
	EventState    EventType = "state"
)

// Event is published to subscribers. Only the fields relevant to Type are set.
type Event struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`

	Progress *Progress `json:"progress,omitempty"`
	Version  string    `json:"version,omitempty"`

	Message string `json:"message,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`
	// Kind is the error taxonomy label, e.g. "crash" or "timeout".
	Kind string `json:"kind,omitempty"`

	Log string `json:"log,omitempty"`

	Code   *int   `json:"code,omitempty"`
	Signal string `json:"signal,omitempty"`

	From State `json:"from,omitempty"`
	To   State `json:"to,omitempty"`
}
