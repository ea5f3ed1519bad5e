package connection

import (
	"errors"
	"time"

	"github.com/R3duxLabs/EchoMind-Backend/internal/event"
)

// Errors
var (
	ErrConfiguration     = errors.New("configuration error")
	ErrNotConnected      = errors.New("not connected")
	ErrTransport         = errors.New("transport error")
	ErrConnectInProgress = errors.New("connect already in progress")
	ErrAlreadyConnected  = errors.New("already connected with a different identity")
	ErrSuperseded        = errors.New("connect superseded by close")
)

// State is the transport state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// AnyEvent registers a handler for every non-system event type.
const AnyEvent = "*"

// Handler receives a dispatched event. A returned error (or panic) is logged
// and does not stop delivery to the remaining handlers.
type Handler func(event.Envelope) error

// SessionConfig configures a Session.
type SessionConfig struct {
	URL                  string        // WebSocket endpoint, e.g. ws://localhost:8080/ws
	APIKey               string        // Sent as X-API-Key on the handshake
	ClientKind           string        // Reported to the server as ?client=
	ProtocolVersion      string        // Reported to the server as ?version=
	HeartbeatInterval    time.Duration // Period of heartbeat events while Open
	ReconnectBaseDelay   time.Duration // First reconnect delay; doubles per attempt
	MaxReconnectAttempts int           // Attempts before giving up
	DialTimeout          time.Duration // Handshake timeout per attempt
	WriteTimeout         time.Duration // Write deadline for sends
	MaxMessageSize       int64         // Read limit per message (0 = unlimited)
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ClientKind:           "go",
		ProtocolVersion:      event.ProtocolVersion,
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		MaxReconnectAttempts: 5,
		DialTimeout:          10 * time.Second,
		WriteTimeout:         5 * time.Second,
		MaxMessageSize:       1 << 20,
	}
}

// SessionStats provides statistics about a session.
type SessionStats struct {
	State             State
	Identity          string
	Reconnecting      bool  // A reconnection cycle is in progress
	ReconnectAttempts int   // Attempts consumed in the current reconnection cycle
	Reconnects        int64 // Reconnection dials started over the session lifetime
	MessagesReceived  int64
	MalformedDropped  int64
	HandlerFailures   int64
	HeartbeatsSent    int64
}
