// Package whisperx is the typed front door to the transcription worker.
//
// Service wraps a worker.Supervisor and its jsonrpc.Channel behind domain
// operations (Initialize, Transcribe, Align, Cancel, Status) and owns the
// service state machine:
//
//	not_started -> starting -> ready <-> busy -> stopping -> stopped
//
// with a terminal crashed state entered when the worker exits on its own.
// Protocol notifications and process lifecycle changes are re-published as
// typed Events through Subscribe, in the order the worker produced them.
//
// The package also keeps the ffmpeg helper that turns arbitrary media into
// the mono 16 kHz WAV the worker expects.
package whisperx
