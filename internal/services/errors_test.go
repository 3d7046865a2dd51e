package services_test

import (
	"errors"
	"strings"
	"testing"

	"murmur/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrSpawn, "worker", "start", "spawn python3", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrSpawn) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"worker", "start", "spawn python3"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected default marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil", nil, false},
		{"configuration", services.Wrap(services.ErrConfiguration, "worker", "start", "missing script", nil), true},
		{"spawn", services.Wrap(services.ErrSpawn, "worker", "start", "", errors.New("EACCES")), true},
		{"crash", services.Wrap(services.ErrCrash, "worker", "wait", "exit 1", nil), true},
		{"timeout", services.Wrap(services.ErrTimeout, "rpc", "transcribe", "", nil), false},
		{"remote", services.Wrap(services.ErrRemote, "rpc", "transcribe", "bad audio", nil), false},
		{"closed", services.Wrap(services.ErrChannelClosed, "rpc", "align", "", nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.IsFatal(tt.err); got != tt.fatal {
				t.Fatalf("IsFatal(%v) = %v, want %v", tt.err, got, tt.fatal)
			}
		})
	}
}

func TestKindPrefersMostSpecificMarker(t *testing.T) {
	closed := services.Wrap(services.ErrChannelClosed, "rpc", "transcribe", "", services.ErrCrash)
	if kind := services.Kind(closed); kind != "crash" {
		t.Fatalf("expected crash kind for channel closed by crash, got %q", kind)
	}
	if kind := services.Kind(services.ErrTimeout); kind != "timeout" {
		t.Fatalf("expected timeout kind, got %q", kind)
	}
	if kind := services.Kind(errors.New("other")); kind != "external" {
		t.Fatalf("expected external kind, got %q", kind)
	}
}
