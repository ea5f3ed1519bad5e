// Package server exposes the event bus and batch processor over HTTP.
//
// Routes:
//
//	GET  /health               liveness, bus and storage status (no auth)
//	GET  /metrics              Prometheus exposition (no auth)
//	GET  /ws                   WebSocket stream handshake
//	POST /batch                execute a batch of operations
//	POST /publish              push an event to a subscriber identity
//	GET  /presence/{identity}  report whether an identity is connected
//
// Every route except /health and /metrics requires an API key when a key
// set is configured.
package server
