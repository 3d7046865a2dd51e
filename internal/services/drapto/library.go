package drapto

import (
	"context"
	"fmt"
	"time"

	draptolib "github.com/five82/drapto"

	"murmur/internal/services"
)

// Library implements Client using the Drapto Go library directly,
// bypassing the CLI shell-out.
type Library struct{}

// NewLibrary constructs a Library client.
func NewLibrary() *Library {
	return &Library{}
}

// Encode encodes a video file using the Drapto library.
func (l *Library) Encode(ctx context.Context, inputPath, outputDir string, progress func(ProgressUpdate)) (string, error) {
	outputPath, err := outputPathFor(inputPath, outputDir)
	if err != nil {
		return "", err
	}

	encoder, err := draptolib.New(draptolib.WithResponsive())
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, component, "encode", "create encoder", err)
	}

	var rep draptolib.Reporter
	if progress != nil {
		rep = &reporter{callback: progress}
	}
	if _, err := encoder.EncodeWithReporter(ctx, inputPath, outputDir, rep); err != nil {
		return "", services.Wrap(services.ErrExternalTool, component, "encode", "drapto library encode", err)
	}
	return outputPath, nil
}

var _ Client = (*Library)(nil)

// reporter turns Drapto library callbacks into ProgressUpdates. Summaries
// without a progress meaning are reported as info lines.
type reporter struct {
	callback func(ProgressUpdate)
}

func (r *reporter) emit(update ProgressUpdate) {
	update.Timestamp = time.Now()
	r.callback(update)
}

func (r *reporter) info(stage, message string) {
	r.emit(ProgressUpdate{Type: EventTypeInfo, Stage: stage, Message: message})
}

func (r *reporter) Hardware(s draptolib.HardwareSummary) {
	r.info("hardware", s.Hostname)
}

func (r *reporter) Initialization(s draptolib.InitializationSummary) {
	r.info("initialization", s.InputFile)
}

func (r *reporter) StageProgress(s draptolib.StageProgress) {
	var eta time.Duration
	if s.ETA != nil {
		eta = *s.ETA
	}
	r.emit(ProgressUpdate{
		Type:    EventTypeStageProgress,
		Percent: float64(s.Percent),
		Stage:   s.Stage,
		Message: s.Message,
		ETA:     eta,
	})
}

func (r *reporter) CropResult(s draptolib.CropSummary) {
	r.info("crop", s.Message)
}

func (r *reporter) EncodingConfig(s draptolib.EncodingConfigSummary) {
	r.info("config", fmt.Sprintf("%v preset %v", s.Encoder, s.Preset))
}

func (r *reporter) EncodingStarted(uint64) {
	r.emit(ProgressUpdate{Type: EventTypeEncodingStarted, Stage: "encoding"})
}

func (r *reporter) EncodingProgress(s draptolib.ProgressSnapshot) {
	r.emit(ProgressUpdate{
		Type:    EventTypeEncodingProgress,
		Percent: float64(s.Percent),
		Stage:   "encoding",
		Speed:   float64(s.Speed),
		FPS:     float64(s.FPS),
		ETA:     s.ETA,
		Bitrate: s.Bitrate,
	})
}

func (r *reporter) ValidationComplete(s draptolib.ValidationSummary) {
	message := "validation passed"
	if !s.Passed {
		message = "validation failed"
	}
	r.info("validation", message)
}

func (r *reporter) EncodingComplete(s draptolib.EncodingOutcome) {
	r.emit(ProgressUpdate{
		Type:       EventTypeEncodingComplete,
		Percent:    100,
		Stage:      "complete",
		OutputFile: s.OutputFile,
	})
}

func (r *reporter) Warning(message string) {
	r.emit(ProgressUpdate{Type: EventTypeWarning, Message: message})
}

func (r *reporter) Error(e draptolib.ReporterError) {
	r.emit(ProgressUpdate{Type: EventTypeError, Stage: e.Title, Message: e.Message})
}

func (r *reporter) OperationComplete(message string) {
	r.info("complete", message)
}

func (r *reporter) BatchStarted(draptolib.BatchStartInfo) {}

func (r *reporter) FileProgress(draptolib.FileProgressContext) {}

func (r *reporter) BatchComplete(draptolib.BatchSummary) {}

var _ draptolib.Reporter = (*reporter)(nil)
