package drapto

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"murmur/internal/services"
)

const component = "drapto"

var commandContext = exec.CommandContext

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithLogDir makes Drapto write its own log files under dir.
func WithLogDir(dir string) Option {
	return func(c *CLI) {
		c.logDir = strings.TrimSpace(dir)
	}
}

// WithPreset selects the SVT-AV1 preset. Zero keeps Drapto's default.
func WithPreset(preset int) Option {
	return func(c *CLI) {
		c.preset = preset
	}
}

// WithDisableDenoise turns off Drapto's denoise filter.
func WithDisableDenoise(disable bool) Option {
	return func(c *CLI) {
		c.disableDenoise = disable
	}
}

// CLI wraps the drapto command-line encoder.
type CLI struct {
	binary         string
	logDir         string
	preset         int
	disableDenoise bool
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "drapto"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

type progressLine struct {
	Type       string   `json:"type"`
	Percent    float64  `json:"percent"`
	Stage      string   `json:"stage"`
	Message    string   `json:"message"`
	ETASeconds *float64 `json:"eta_seconds"`
	Speed      float64  `json:"speed"`
	FPS        float64  `json:"fps"`
	Bitrate    string   `json:"bitrate"`
	OutputFile string   `json:"output_file"`
}

// Encode launches drapto encode and returns the output path.
func (c *CLI) Encode(ctx context.Context, inputPath, outputDir string, progress func(ProgressUpdate)) (string, error) {
	outputPath, err := outputPathFor(inputPath, outputDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, component, "encode", "ensure output dir", err)
	}

	cmd := commandContext(ctx, c.binary, c.args(inputPath, filepath.Dir(outputPath))...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, component, "encode", "stdout pipe", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return "", services.Wrap(services.ErrExternalTool, component, "encode", "start drapto", err)
	}

	reader := bufio.NewReader(stdout)
	for {
		line, readErr := reader.ReadBytes('\n')
		if update, ok := parseProgressLine(line); ok && progress != nil {
			progress(update)
		}
		if readErr != nil {
			break
		}
	}

	if err := cmd.Wait(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = "drapto encode failed"
		}
		return "", services.Wrap(services.ErrExternalTool, component, "encode", detail, err)
	}
	return outputPath, nil
}

func (c *CLI) args(inputPath, outputDir string) []string {
	args := []string{"encode", "--input", inputPath, "--output", outputDir, "--responsive", "--progress-json"}
	if c.logDir != "" {
		args = append(args, "--log-dir", c.logDir)
	}
	if c.preset > 0 {
		args = append(args, "--preset", strconv.Itoa(c.preset))
	}
	if c.disableDenoise {
		args = append(args, "--no-denoise")
	}
	return args
}

func parseProgressLine(line []byte) (ProgressUpdate, bool) {
	var payload progressLine
	if err := json.Unmarshal(line, &payload); err != nil {
		return ProgressUpdate{}, false
	}
	update := ProgressUpdate{
		Type:       payload.Type,
		Timestamp:  time.Now(),
		Percent:    payload.Percent,
		Stage:      payload.Stage,
		Message:    payload.Message,
		Speed:      payload.Speed,
		FPS:        payload.FPS,
		Bitrate:    payload.Bitrate,
		OutputFile: payload.OutputFile,
	}
	if update.Type == "" {
		update.Type = EventTypeStageProgress
	}
	if payload.ETASeconds != nil {
		update.ETA = time.Duration(*payload.ETASeconds * float64(time.Second))
	}
	return update, true
}

func outputPathFor(inputPath, outputDir string) (string, error) {
	inputPath = strings.TrimSpace(inputPath)
	if inputPath == "" {
		return "", services.Wrap(services.ErrValidation, component, "encode", "input path required", nil)
	}
	outputDir = strings.TrimSpace(outputDir)
	if outputDir == "" {
		return "", services.Wrap(services.ErrValidation, component, "encode", "output directory required", nil)
	}
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	return filepath.Join(outputDir, stem+".mkv"), nil
}

var _ Client = (*CLI)(nil)
