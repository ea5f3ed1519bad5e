// Package event defines the Event Envelope exchanged over the real-time channel.
//
// Wire shape (both directions):
//
//	{"type": "memory_update", "timestamp": "2026-01-02T15:04:05Z", ...fields}
//
// Reserved types:
//   - heartbeat: client -> server keep-alive, carries client_timestamp
//   - connection_established: server -> client greeting, also synthesized locally by the client
//   - connection_closed: synthesized locally by the client on unexpected close
//
// Clients never dispatch reserved types received from the peer. Locally
// synthesized lifecycle events carry "local": true.
package event
