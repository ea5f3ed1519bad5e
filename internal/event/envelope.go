package event

import (
	"errors"
	"fmt"
	"time"
)

// Reserved and well-known event types.
const (
	TypeHeartbeat             = "heartbeat"
	TypeConnectionEstablished = "connection_established"
	TypeConnectionClosed      = "connection_closed"

	TypeMemoryUpdate    = "memory_update"
	TypeNotification    = "notification"
	TypeStreaming       = "streaming"
	TypeCodeExecution   = "code_execution_result"
	TypeStateSync       = "state_sync"
	TypeServerBroadcast = "broadcast"
)

// Envelope field names that are not part of the payload.
const (
	fieldType      = "type"
	fieldTimestamp = "timestamp"
)

// Errors
var (
	ErrMissingType  = errors.New("event type is required")
	ErrNotObject    = errors.New("message is not a JSON object")
	ErrTrailingData = errors.New("unexpected data after JSON object")
)

// MalformedMessageError reports an incoming payload that could not be parsed
// into an Envelope.
type MalformedMessageError struct {
	Raw []byte
	Err error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed message (%d bytes): %v", len(e.Raw), e.Err)
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

// Envelope is a typed, timestamped unit of real-time data.
// Treat it as immutable once constructed; use With to derive a modified copy.
type Envelope struct {
	Type      string
	Payload   map[string]any
	Timestamp time.Time
}

// New builds an Envelope stamped with the current time. The payload map is
// copied so later mutation by the producer does not leak into the envelope.
func New(eventType string, payload map[string]any) Envelope {
	return Envelope{
		Type:      eventType,
		Payload:   clonePayload(payload),
		Timestamp: time.Now().UTC(),
	}
}

// Heartbeat builds the client keep-alive envelope.
func Heartbeat(now time.Time) Envelope {
	return Envelope{
		Type:      TypeHeartbeat,
		Payload:   map[string]any{"client_timestamp": now.UnixMilli()},
		Timestamp: now.UTC(),
	}
}

// IsSystem reports whether eventType is consumed by the session layer itself
// instead of being dispatched to application handlers.
func IsSystem(eventType string) bool {
	switch eventType {
	case TypeHeartbeat, TypeConnectionEstablished, TypeConnectionClosed:
		return true
	}
	return false
}

// Field returns a payload field.
func (e Envelope) Field(key string) (any, bool) {
	v, ok := e.Payload[key]
	return v, ok
}

// String returns a payload field as a string, or "" if absent or not a string.
func (e Envelope) String(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// With returns a copy of the envelope with one payload field set.
func (e Envelope) With(key string, value any) Envelope {
	out := e
	out.Payload = clonePayload(e.Payload)
	out.Payload[key] = value
	return out
}

func clonePayload(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if k == fieldType || k == fieldTimestamp {
			continue
		}
		out[k] = v
	}
	return out
}
