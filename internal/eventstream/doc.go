// Package eventstream broadcasts orchestrator events to local UI clients over
// websockets and serves a small JSON status endpoint. Late joiners receive
// the most recent events first. Only loopback origins may connect.
package eventstream
