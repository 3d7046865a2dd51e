package drapto

import (
	"context"
	"fmt"
	"time"
)

// Progress event types shared by the CLI and library clients.
const (
	EventTypeStageProgress    = "stage_progress"
	EventTypeEncodingStarted  = "encoding_started"
	EventTypeEncodingProgress = "encoding_progress"
	EventTypeEncodingComplete = "encoding_complete"
	EventTypeWarning          = "warning"
	EventTypeError            = "error"
	EventTypeInfo             = "info"
)

// ProgressUpdate captures one Drapto progress event.
type ProgressUpdate struct {
	Type      string
	Timestamp time.Time
	Percent   float64
	Stage     string
	Message   string
	ETA       time.Duration
	Speed     float64
	FPS       float64
	Bitrate   string
	// OutputFile is set on encoding_complete.
	OutputFile string
}

// String renders the update as a single status line.
func (u ProgressUpdate) String() string {
	if u.Message != "" {
		return fmt.Sprintf("%s %.1f%% %s", u.Stage, u.Percent, u.Message)
	}
	return fmt.Sprintf("%s %.1f%%", u.Stage, u.Percent)
}

// Client defines Drapto encoding behaviour.
type Client interface {
	Encode(ctx context.Context, inputPath, outputDir string, progress func(ProgressUpdate)) (string, error)
}
