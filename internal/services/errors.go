package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration  = errors.New("configuration error")
	ErrSpawn          = errors.New("spawn error")
	ErrProtocol       = errors.New("protocol error")
	ErrTimeout        = errors.New("timeout")
	ErrRemote         = errors.New("remote error")
	ErrChannelClosed  = errors.New("channel closed")
	ErrCrash          = errors.New("worker crashed")
	ErrNotStarted     = errors.New("service not started")
	ErrAlreadyRunning = errors.New("worker already running")
	ErrExternalTool   = errors.New("external tool error")
	ErrValidation     = errors.New("validation error")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsFatal reports whether err ends the current worker/service pairing. Fatal
// errors leave the service unusable until a fresh start; everything else
// rejects a single call and leaves the service ready for retry.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrSpawn), errors.Is(err, ErrCrash):
		return true
	default:
		return false
	}
}

// Kind returns a short label for the taxonomy marker carried by err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrSpawn):
		return "spawn"
	case errors.Is(err, ErrCrash):
		return "crash"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRemote):
		return "remote"
	case errors.Is(err, ErrChannelClosed):
		return "channel_closed"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrNotStarted):
		return "not_started"
	case errors.Is(err, ErrAlreadyRunning):
		return "already_running"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "external"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
