// Package services defines shared utilities consumed by the worker supervisor,
// the RPC channel, and the transcription service facade.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, model names, and correlation
//     identifiers for logging.
//   - The error taxonomy (configuration, spawn, protocol, timeout, remote,
//     channel closed, crash) plus the Wrap helper, so callers can tell a fatal
//     worker failure from a single rejected call with errors.Is.
//
// Use these helpers when wiring new components so error handling and
// observability stay uniform across the sidecar.
package services
