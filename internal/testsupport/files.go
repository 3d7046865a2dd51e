package testsupport

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Sample format of WAV files written by WriteFile, matching what the audio
// extraction step produces.
const (
	wavSampleRate = 16000
	wavChannels   = 1
	wavBits       = 16
)

// WriteFile creates path holding size bytes of silence. A .wav path gets a
// mono 16 kHz PCM header in front of the samples; anything else is raw
// filler. A size <= 0 writes a single sample.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 2
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}

	var buf bytes.Buffer
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		writeWAVHeader(&buf, uint32(size))
	}
	buf.Write(make([]byte, size))

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeWAVHeader(buf *bytes.Buffer, dataSize uint32) {
	blockAlign := uint16(wavChannels * wavBits / 8)
	le := binary.LittleEndian

	buf.WriteString("RIFF")
	_ = binary.Write(buf, le, 36+dataSize)
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(buf, le, uint32(16))
	_ = binary.Write(buf, le, uint16(1)) // PCM
	_ = binary.Write(buf, le, uint16(wavChannels))
	_ = binary.Write(buf, le, uint32(wavSampleRate))
	_ = binary.Write(buf, le, uint32(wavSampleRate)*uint32(blockAlign))
	_ = binary.Write(buf, le, blockAlign)
	_ = binary.Write(buf, le, uint16(wavBits))
	buf.WriteString("data")
	_ = binary.Write(buf, le, dataSize)
}
