package event

// ProtocolVersion is the wire protocol version negotiated in the handshake.
const ProtocolVersion = "1"

// Handshake query parameters on the WebSocket endpoint.
const (
	ParamIdentity = "identity"
	ParamClient   = "client"
	ParamVersion  = "version"
	ParamAPIKey   = "api_key"
)

// APIKeyHeader carries the API key on HTTP requests and WebSocket dials.
const APIKeyHeader = "X-API-Key"

// SubscriberHeader carries the caller's subscriber identity on batch calls.
const SubscriberHeader = "X-Subscriber-ID"
