// Package stream is the server side of the real-time event channel.
//
// A Gateway upgrades HTTP requests to WebSocket sessions. Each Session binds
// one connection to a subscriber identity, registers with the bus while it is
// open and pushes delivered events to the client through a bounded outbound
// queue drained by a single writer goroutine. Client heartbeats refresh the
// session's idle deadline; a session that stays silent past the idle timeout
// is closed.
package stream
