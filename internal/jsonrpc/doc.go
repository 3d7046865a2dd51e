// Package jsonrpc implements the newline-delimited JSON-RPC 2.0 channel used to
// talk to the transcription worker over its stdin/stdout.
//
// A Channel allocates request IDs, writes one JSON object per line, and
// correlates responses back to callers by ID alone, so any number of calls may
// be in flight and the worker may answer them in any order. Every call carries
// its own deadline. Notifications from the worker are dispatched to listeners
// on the read goroutine in the order they arrived on the wire; listeners must
// not block or issue calls synchronously.
//
// Teardown rejects every pending call exactly once with
// services.ErrChannelClosed. Whichever of response, deadline, caller
// cancellation, or teardown removes a pending entry under the lock owns its
// delivery; the others become no-ops.
package jsonrpc
