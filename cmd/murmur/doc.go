// Package main hosts the murmur CLI.
//
// transcribe, align, and model switch --verify start their own worker through
// the orchestrator and stop it on exit; encode runs Drapto and records the job.
// serve keeps one worker alive, watches the config file for model changes,
// and streams worker events to local clients over a websocket. status asks a
// running serve over HTTP; the remaining commands work on the settings store,
// the config file, or the filesystem.
package main
