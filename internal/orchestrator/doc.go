// Package orchestrator owns the single transcription facade a murmur process
// talks to. It builds the facade for the selected model, relays facade and
// encoder events to a Sink, records job history, and swaps the facade when
// the model selection changes.
//
// A model switch always stops the current facade completely before the
// replacement is constructed; facades are never reused across models.
package orchestrator
