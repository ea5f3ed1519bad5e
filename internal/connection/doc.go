// Package connection implements the client side of the real-time event channel.
//
// A Session owns one logical duplex connection for a subscriber identity:
//   - Connect dials the endpoint with identity, client kind and protocol version as query parameters
//   - a 30s heartbeat keeps proxies from timing out the idle socket
//   - unexpected closes trigger exponential-backoff reconnection (base * 2^n, 5 attempts)
//   - incoming events are re-dispatched to handlers registered per event type
//
// All state transitions for a session are serialized under one mutex and every
// transport is tagged with a generation number, so a late reconnect timer or a
// superseded dial can never resurrect a session that was closed.
package connection
