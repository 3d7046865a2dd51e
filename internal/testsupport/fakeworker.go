package testsupport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"murmur/internal/worker"
)

// Environment variables understood by the fake worker.
const (
	HelperProcessEnv  = "GO_WANT_HELPER_PROCESS"
	FakeWorkerModeEnv = "MURMUR_FAKE_WORKER_MODE"
)

// FakeWorkerPIDDirEnv names a directory the fake worker drops a file named
// after its pid into.
const FakeWorkerPIDDirEnv = "MURMUR_FAKE_WORKER_PID_DIR"

// Fake worker behaviours.
const (
	// ModeNormal answers every method the real worker supports.
	ModeNormal = "normal"
	// ModeSilentTranscribe never replies to transcribe or align.
	ModeSilentTranscribe = "silent-transcribe"
	// ModeCrashAfterTwo exits with code 1 once two transcribe calls are pending.
	ModeCrashAfterTwo = "crash-after-two"
	// ModeNoReady never sends the ready notification.
	ModeNoReady = "no-ready"
	// ModeExitEarly exits with code 3 before sending ready.
	ModeExitEarly = "exit-early"
	// ModeIgnoreTerm acknowledges shutdown but ignores SIGTERM and stdin EOF.
	ModeIgnoreTerm = "ignore-term"
	// ModeFailInit rejects initialize with an internal error.
	ModeFailInit = "fail-init"
	// ModeSlowReady waits slowReadyDelay before announcing readiness.
	ModeSlowReady = "slow-ready"
	// ModeHangInit never replies to initialize.
	ModeHangInit = "hang-init"
	// ModeCrashOnShutdown exits with code 1 instead of acknowledging shutdown.
	ModeCrashOnShutdown = "crash-on-shutdown"
)

const slowReadyDelay = 50 * time.Millisecond

// FakeWorkerEnv returns the environment a helper process needs to run the
// fake worker in mode.
func FakeWorkerEnv(mode string) map[string]string {
	return map[string]string{
		HelperProcessEnv:  "1",
		FakeWorkerModeEnv: mode,
	}
}

// HelperProcessArgs returns the test binary arguments that route execution to
// a TestHelperProcess function.
func HelperProcessArgs() []string {
	return []string{"-test.run=TestHelperProcess", "--"}
}

// HelperWorker returns a ProcessConfig that re-executes the running test
// binary as a fake worker in mode. The calling package must define a
// TestHelperProcess that calls ExitHelper.
func HelperWorker(mode string) worker.ProcessConfig {
	return worker.ProcessConfig{
		Executable: os.Args[0],
		Args:       HelperProcessArgs(),
		Env:        FakeWorkerEnv(mode),
	}
}

type fakeRequest struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type fakeWorker struct {
	mu          sync.Mutex
	out         io.Writer
	mode        string
	initialized bool
	model       string
	language    string
	device      string
	pending     int
}

// RunFakeWorker speaks the worker's line protocol on stdin/stdout and returns
// the process exit code. Diagnostics go to stderr.
func RunFakeWorker(stdin io.Reader, stdout, stderr io.Writer, mode string) int {
	if mode == "" {
		mode = ModeNormal
	}
	w := &fakeWorker{out: stdout, mode: mode, language: "de", device: "cpu"}

	fmt.Fprintln(stderr, "fake worker starting")
	switch mode {
	case ModeExitEarly:
		fmt.Fprintln(stderr, "fatal: missing model files")
		return 3
	case ModeIgnoreTerm:
		signal.Ignore(syscall.SIGTERM)
	case ModeSlowReady:
		time.Sleep(slowReadyDelay)
	}
	if mode != ModeNoReady {
		w.notify("ready", map[string]any{"version": "1.0.0"})
	}

	reader := bufio.NewReader(stdin)
	for {
		line, err := reader.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			if code, exit := w.handle(strings.TrimSpace(line), stderr); exit {
				return code
			}
		}
		if err != nil {
			if mode == ModeIgnoreTerm {
				for {
					time.Sleep(time.Hour)
				}
			}
			return 0
		}
	}
}

func (w *fakeWorker) handle(line string, stderr io.Writer) (int, bool) {
	var req fakeRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		w.write(map[string]any{"jsonrpc": "2.0", "id": nil, "error": map[string]any{"code": -32700, "message": "Parse error"}})
		return 0, false
	}
	if req.ID == nil {
		return 0, false
	}
	id := *req.ID

	switch req.Method {
	case "initialize":
		var params struct {
			Model    string `json:"model"`
			Language string `json:"language"`
			Device   string `json:"device"`
		}
		_ = json.Unmarshal(req.Params, &params)
		if w.mode == ModeHangInit {
			w.progress("initializing", 0, "loading model")
			return 0, false
		}
		if w.mode == ModeFailInit {
			w.fail(id, -32603, "model files not found: "+params.Model)
			return 0, false
		}
		w.progress("initializing", 0, "loading model")
		w.mu.Lock()
		w.initialized = true
		w.model = params.Model
		if params.Language != "" {
			w.language = params.Language
		}
		if params.Device != "" {
			w.device = params.Device
		}
		w.mu.Unlock()
		w.progress("initializing", 100, "model ready")
		w.reply(id, map[string]any{"status": "initialized", "model": params.Model})
	case "transcribe", "align":
		switch w.mode {
		case ModeSilentTranscribe:
			return 0, false
		case ModeCrashAfterTwo:
			w.mu.Lock()
			w.pending++
			n := w.pending
			w.mu.Unlock()
			if n >= 2 {
				fmt.Fprintln(stderr, "segmentation fault in decoder")
				return 1, true
			}
			return 0, false
		}
		w.transcribe(id, req.Method, req.Params)
	case "cancel":
		w.reply(id, map[string]any{"status": "cancelled"})
	case "get_status":
		w.mu.Lock()
		status := map[string]any{"initialized": w.initialized, "processing": false, "device": w.device, "language": w.language}
		w.mu.Unlock()
		w.reply(id, status)
	case "shutdown":
		if w.mode == ModeCrashOnShutdown {
			fmt.Fprintln(stderr, "double free during teardown")
			return 1, true
		}
		w.reply(id, map[string]any{"status": "shutdown"})
		if w.mode != ModeIgnoreTerm {
			return 0, true
		}
	default:
		w.fail(id, -32601, "Method not found: "+req.Method)
	}
	return 0, false
}

func (w *fakeWorker) transcribe(id int64, method string, raw json.RawMessage) {
	var params struct {
		AudioPath string `json:"audio_path"`
		Language  string `json:"language"`
		Segments  []struct {
			Text  string  `json:"text"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"segments"`
	}
	_ = json.Unmarshal(raw, &params)

	w.mu.Lock()
	ready := w.initialized
	language := w.language
	w.mu.Unlock()
	if !ready {
		w.fail(id, -32603, "WhisperTranscriber not initialized")
		return
	}
	if params.AudioPath == "" {
		w.fail(id, -32603, "'audio_path'")
		return
	}
	if params.Language != "" {
		language = params.Language
	}
	if strings.Contains(params.AudioPath, "cancel") {
		w.reply(id, map[string]any{"cancelled": true})
		return
	}

	w.progress("loading", 0, "loading audio")
	w.progress("transcribing", 10, "transcribing")
	time.Sleep(5 * time.Millisecond)
	w.progress("aligning", 50, "aligning words")
	w.progress("complete", 100, "done")

	text := "hallo welt"
	if method == "align" && len(params.Segments) > 0 {
		text = params.Segments[0].Text
	}
	words := strings.Fields(text)
	wordList := make([]map[string]any, 0, len(words))
	for i, word := range words {
		wordList = append(wordList, map[string]any{"word": word, "start": float64(i) * 0.5, "end": float64(i)*0.5 + 0.4, "score": 0.9})
	}
	w.reply(id, map[string]any{
		"segments": []map[string]any{{"start": 0.0, "end": float64(len(words)) * 0.5, "text": text, "words": wordList}},
		"language": language,
		"duration": 2.5,
	})
}

func (w *fakeWorker) progress(stage string, percent float64, message string) {
	w.notify("progress", map[string]any{"stage": stage, "percent": percent, "message": message})
}

func (w *fakeWorker) notify(method string, params any) {
	w.write(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

func (w *fakeWorker) reply(id int64, result any) {
	w.write(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func (w *fakeWorker) fail(id int64, code int, message string) {
	w.write(map[string]any{"jsonrpc": "2.0", "id": id, "error": map[string]any{"code": code, "message": message}})
}

func (w *fakeWorker) write(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = w.out.Write(append(data, '\n'))
}

// ExitHelper is a convenience for TestHelperProcess implementations.
func ExitHelper() {
	if dir := os.Getenv(FakeWorkerPIDDirEnv); dir != "" {
		_ = os.WriteFile(filepath.Join(dir, strconv.Itoa(os.Getpid())), nil, 0o644)
	}
	os.Exit(RunFakeWorker(os.Stdin, os.Stdout, os.Stderr, os.Getenv(FakeWorkerModeEnv)))
}

// HelperWorkerTracked is HelperWorker with every spawned pid recorded in dir.
func HelperWorkerTracked(mode, dir string) worker.ProcessConfig {
	cfg := HelperWorker(mode)
	cfg.Env[FakeWorkerPIDDirEnv] = dir
	return cfg
}

// LiveWorkers returns the pids recorded in dir that still exist, and the total
// number recorded.
func LiveWorkers(t testing.TB, dir string) (live []int, total int) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read pid dir: %v", err)
	}
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		total++
		if unix.Kill(pid, 0) == nil {
			live = append(live, pid)
		}
	}
	return live, total
}
