package deps

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CheckFFmpeg reports the ffmpeg binary used for audio extraction. An ffmpeg
// next to the sibling executable wins (Drapto resolves its ffmpeg sidecar the
// same way), then the bundled tools dirs, then PATH.
func CheckFFmpeg(sibling string, toolDirs ...string) Status {
	result := Status{
		Name:        "FFmpeg",
		Command:     "ffmpeg",
		Description: "Audio extraction and Drapto encoding",
	}

	if sibling = strings.TrimSpace(sibling); sibling != "" {
		if resolved, err := exec.LookPath(sibling); err == nil {
			candidate := filepath.Join(filepath.Dir(resolved), executableName("ffmpeg"))
			if info, statErr := os.Stat(candidate); statErr == nil && isExecutable(info) {
				result.Path = candidate
				result.Available = true
				return result
			}
		}
	}

	path, err := Resolve("ffmpeg", toolDirs...)
	if err != nil {
		result.Detail = err.Error()
		return result
	}
	result.Path = path
	result.Available = true
	return result
}
