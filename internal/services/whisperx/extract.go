package whisperx

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"murmur/internal/services"
)

// FFmpegCommand is the default ffmpeg executable name.
const FFmpegCommand = "ffmpeg"

// audioExtensions are passed to the worker untouched.
var audioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".flac": true,
	".m4a":  true,
	".ogg":  true,
}

// NeedsExtraction reports whether path must go through ffmpeg before the
// worker can read it.
func NeedsExtraction(path string) bool {
	return !audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// ExtractAudio writes the first audio stream of source to dest as a mono
// 16 kHz PCM WAV.
func (s *Service) ExtractAudio(ctx context.Context, source, dest string) error {
	args := buildFFmpegExtractArgs(source, dest)
	if s.commandRunner != nil {
		return s.commandRunner(ctx, s.ffmpegBinary, args...)
	}
	return runFFmpeg(ctx, s.ffmpegBinary, args)
}

// PrepareAudio returns a path the worker can read. Audio files are returned
// as-is; anything else is extracted into scratchDir. The returned cleanup
// removes any file PrepareAudio created.
func (s *Service) PrepareAudio(ctx context.Context, input, scratchDir string) (string, func(), error) {
	noop := func() {}
	if !NeedsExtraction(input) {
		return input, noop, nil
	}
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return "", noop, services.Wrap(services.ErrConfiguration, component, "extract", "ensure scratch dir", err)
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	dest := filepath.Join(scratchDir, base+".16k.wav")
	if err := s.ExtractAudio(ctx, input, dest); err != nil {
		return "", noop, err
	}
	return dest, func() { _ = os.Remove(dest) }, nil
}

func buildFFmpegExtractArgs(source, dest string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-map", "0:a:0",
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
}

func runFFmpeg(ctx context.Context, binary string, args []string) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return services.Wrap(services.ErrExternalTool, component, "extract",
			fmt.Sprintf("ffmpeg: %s", strings.TrimSpace(string(output))), err)
	}
	return nil
}
