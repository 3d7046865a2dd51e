package orchestrator

import (
	"sync"
	"testing"

	"murmur/internal/services/whisperx"
)

func TestProgressAttributedOnlyToSoleJob(t *testing.T) {
	var (
		mu     sync.Mutex
		tagged []string
	)
	m, err := New(Deps{
		Factory: func(string) (*whisperx.Service, error) { return nil, nil },
		Sink: SinkFunc(func(evt Event) {
			mu.Lock()
			tagged = append(tagged, evt.JobID)
			mu.Unlock()
		}),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	progress := whisperx.Event{Type: whisperx.EventProgress, Progress: &whisperx.Progress{Stage: "transcribing", Percent: 10}}

	m.relay("small", progress)
	m.setActiveJob("first")
	m.relay("small", progress)
	m.setActiveJob("second")
	m.relay("small", progress)
	m.clearActiveJob("first")
	m.relay("small", progress)
	m.clearActiveJob("second")
	m.relay("small", progress)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"", "first", "", "second", ""}
	if len(tagged) != len(want) {
		t.Fatalf("relayed %d events, want %d", len(tagged), len(want))
	}
	for i := range want {
		if tagged[i] != want[i] {
			t.Fatalf("event %d tagged %q, want %q (all: %q)", i, tagged[i], want[i], tagged)
		}
	}
}
