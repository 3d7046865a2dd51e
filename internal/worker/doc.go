// Package worker supervises the external transcription worker process.
//
// A Supervisor spawns the worker in its own process group, wires its stdio to
// a jsonrpc.Channel, waits for the worker's ready notification, forwards
// stderr lines as debug output, and observes exit. Stop asks the worker to shut
// down, signals the process group, waits a fixed grace period, and only then
// forces a kill, exactly once.
package worker
