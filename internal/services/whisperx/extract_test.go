package whisperx

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"murmur/internal/services"
	"murmur/internal/worker"
)

func TestPrepareAudioPassesAudioThrough(t *testing.T) {
	svc := NewService(nil, WithCommandRunner(func(context.Context, string, ...string) error {
		t.Fatal("audio input must not be extracted")
		return nil
	}))
	path, cleanup, err := svc.PrepareAudio(context.Background(), "/media/take1.WAV", t.TempDir())
	if err != nil {
		t.Fatalf("PrepareAudio: %v", err)
	}
	defer cleanup()
	if path != "/media/take1.WAV" {
		t.Fatalf("path = %q", path)
	}
}

func TestPrepareAudioExtractsVideo(t *testing.T) {
	scratch := filepath.Join(t.TempDir(), "scratch")
	var gotName string
	var gotArgs []string
	svc := NewService(nil,
		WithFFmpegBinary("/bundle/bin/ffmpeg"),
		WithCommandRunner(func(_ context.Context, name string, args ...string) error {
			gotName = name
			gotArgs = args
			return os.WriteFile(args[len(args)-1], []byte("RIFF"), 0o644)
		}),
	)

	path, cleanup, err := svc.PrepareAudio(context.Background(), "/media/episode.mkv", scratch)
	if err != nil {
		t.Fatalf("PrepareAudio: %v", err)
	}
	if want := filepath.Join(scratch, "episode.16k.wav"); path != want {
		t.Fatalf("path = %q, want %q", path, want)
	}
	if gotName != "/bundle/bin/ffmpeg" {
		t.Fatalf("ffmpeg binary = %q", gotName)
	}
	for _, pair := range [][]string{{"-ac", "1"}, {"-ar", "16000"}, {"-i", "/media/episode.mkv"}} {
		idx := slices.Index(gotArgs, pair[0])
		if idx < 0 || idx+1 >= len(gotArgs) || gotArgs[idx+1] != pair[1] {
			t.Fatalf("missing %v in %v", pair, gotArgs)
		}
	}
	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("cleanup should remove extracted audio, stat err = %v", err)
	}
}

func TestExtractAudioFailureIsExternalToolError(t *testing.T) {
	svc := NewService(func() (worker.ProcessConfig, error) { return worker.ProcessConfig{}, nil },
		WithFFmpegBinary(filepath.Join(t.TempDir(), "no-ffmpeg")))
	err := svc.ExtractAudio(context.Background(), "in.mkv", filepath.Join(t.TempDir(), "out.wav"))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}
}
