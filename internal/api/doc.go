// Package api exposes the bridge over HTTP: typed status reads, guarded
// control commands, a raw console passthrough, an SSE telemetry stream and
// Prometheus metrics, all wrapped in a unified JSON envelope.
package api
