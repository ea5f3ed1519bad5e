package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3duxLabs/EchoMind-Backend/internal/event"
)

// Session is the client side of one logical real-time connection.
type Session struct {
	cfg      SessionConfig
	dialer   Dialer
	policy   ReconnectPolicy
	logger   *slog.Logger
	handlers *registry

	// State, guarded by mu
	mu           sync.Mutex
	state        State
	identity     string
	gen          uint64 // bumped by every connect start and every Close
	conn         Transport
	beat         *heartbeat
	attempts     int
	reconnecting bool // true between an unexpected close and recovery/exhaustion
	retryTimer   *time.Timer

	// Stats
	received   atomic.Int64
	malformed  atomic.Int64
	reconnects atomic.Int64
	heartbeats atomic.Int64
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) SessionOption {
	return func(s *Session) {
		s.dialer = d
	}
}

// NewSession creates a disconnected session.
func NewSession(cfg SessionConfig, logger *slog.Logger, opts ...SessionOption) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		cfg: cfg,
		dialer: WebSocketDialer{
			HandshakeTimeout: cfg.DialTimeout,
			WriteTimeout:     cfg.WriteTimeout,
			MaxMessageSize:   cfg.MaxMessageSize,
		},
		policy: ReconnectPolicy{
			BaseDelay:   cfg.ReconnectBaseDelay,
			MaxAttempts: cfg.MaxReconnectAttempts,
		},
		logger:   logger,
		handlers: newRegistry(logger),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Connect opens the transport for identity and blocks until it is Open or
// the dial fails. Connecting an already Open session with the same identity
// is a no-op.
func (s *Session) Connect(ctx context.Context, identity string) error {
	if identity == "" {
		return fmt.Errorf("%w: subscriber identity is required", ErrConfiguration)
	}
	if s.cfg.URL == "" {
		return fmt.Errorf("%w: url is required", ErrConfiguration)
	}

	s.mu.Lock()
	switch s.state {
	case StateOpen:
		same := s.identity == identity
		s.mu.Unlock()
		if same {
			return nil
		}
		return ErrAlreadyConnected
	case StateConnecting, StateClosing:
		s.mu.Unlock()
		return ErrConnectInProgress
	}

	s.identity = identity
	s.stopRetryLocked()
	gen := s.beginConnectLocked()
	s.mu.Unlock()

	err := s.dialAndOpen(ctx, gen, identity)
	if err != nil {
		// A manual attempt during a reconnection cycle keeps the cycle alive.
		s.scheduleReconnect()
	}
	return err
}

// Close closes the session voluntarily. It stops the heartbeat, cancels any
// pending reconnect and never triggers a new one.
func (s *Session) Close() error {
	s.mu.Lock()
	s.gen++
	s.stopRetryLocked()
	s.reconnecting = false
	s.haltHeartbeatLocked()

	conn := s.conn
	s.conn = nil
	if s.state == StateDisconnected && conn == nil {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	identity := s.identity
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.CloseNormalClosure, "client closed")
	}

	s.mu.Lock()
	if s.state == StateClosing {
		s.state = StateDisconnected
	}
	s.mu.Unlock()

	s.logger.Info("session closed", "identity", identity)
	return err
}

// Send writes an event to the server. It fails fast with ErrNotConnected
// unless the session is Open. A write failure drops the transport, which
// then follows the unexpected-close path.
func (s *Session) Send(env event.Envelope) error {
	s.mu.Lock()
	if s.state != StateOpen || s.conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	s.mu.Unlock()

	data, err := event.Encode(env)
	if err != nil {
		return err
	}

	if err := conn.WriteMessage(data); err != nil {
		s.logger.Warn("send failed, dropping transport", "type", env.Type, "error", err)
		conn.Close(0, "")
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// TrySend is Send for callers that only need to know whether the event went out.
func (s *Session) TrySend(env event.Envelope) bool {
	if err := s.Send(env); err != nil {
		s.logger.Debug("event not sent", "type", env.Type, "error", err)
		return false
	}
	return true
}

// Subscribe registers handler for eventType. Use AnyEvent to receive every
// non-system event.
func (s *Session) Subscribe(eventType string, handler Handler) Subscription {
	return s.handlers.add(eventType, handler)
}

// Unsubscribe removes one registration. Unknown subscriptions are ignored.
func (s *Session) Unsubscribe(sub Subscription) {
	s.handlers.remove(sub)
}

// HandlerCount returns the number of registrations for eventType.
func (s *Session) HandlerCount(eventType string) int {
	return s.handlers.count(eventType)
}

// NotifyNetworkAvailable is fed by the owning process when connectivity
// returns. During a reconnection cycle it retries immediately instead of
// waiting out the backoff delay.
func (s *Session) NotifyNetworkAvailable() {
	s.mu.Lock()
	if s.state != StateDisconnected || !s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.stopRetryLocked()
	gen := s.gen
	s.mu.Unlock()

	s.logger.Info("network available, reconnecting now")
	go s.retry(gen)
}

// State returns the current transport state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns current statistics.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	state, identity, attempts, reconnecting := s.state, s.identity, s.attempts, s.reconnecting
	s.mu.Unlock()

	return SessionStats{
		State:             state,
		Identity:          identity,
		Reconnecting:      reconnecting,
		ReconnectAttempts: attempts,
		Reconnects:        s.reconnects.Load(),
		MessagesReceived:  s.received.Load(),
		MalformedDropped:  s.malformed.Load(),
		HandlerFailures:   s.handlers.failures.Load(),
		HeartbeatsSent:    s.heartbeats.Load(),
	}
}

// beginConnectLocked moves to Connecting and returns the new generation.
func (s *Session) beginConnectLocked() uint64 {
	s.gen++
	s.state = StateConnecting
	return s.gen
}

// dialAndOpen performs the suspending part of a connect for generation gen.
func (s *Session) dialAndOpen(ctx context.Context, gen uint64, identity string) error {
	endpoint, err := s.endpoint(identity)
	if err != nil {
		s.abortConnect(gen)
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	if s.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DialTimeout)
		defer cancel()
	}

	conn, err := s.dialer.Dial(ctx, endpoint, s.header())
	if err != nil {
		s.abortConnect(gen)
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StateConnecting {
		// Closed (or restarted) while dialing.
		s.mu.Unlock()
		conn.Close(websocket.CloseNormalClosure, "superseded")
		return ErrSuperseded
	}
	s.conn = conn
	s.state = StateOpen
	s.attempts = 0
	s.reconnecting = false
	beat := newHeartbeat(s.cfg.HeartbeatInterval)
	s.beat = beat
	s.mu.Unlock()

	s.logger.Info("session connected", "identity", identity)

	s.handlers.dispatch(event.New(event.TypeConnectionEstablished, map[string]any{
		"identity": identity,
		"local":    true,
	}))

	go beat.run(func() { s.sendHeartbeat(gen) })
	go s.readLoop(conn, gen)

	return nil
}

func (s *Session) abortConnect(gen uint64) {
	s.mu.Lock()
	if s.gen == gen && s.state == StateConnecting {
		s.state = StateDisconnected
	}
	s.mu.Unlock()
}

// readLoop delivers messages in transport order until the transport fails.
func (s *Session) readLoop(conn Transport, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.handleTransportClose(conn, gen, err)
			return
		}
		s.received.Add(1)
		s.handleMessage(data)
	}
}

func (s *Session) handleMessage(data []byte) {
	env, err := event.Decode(data)
	if err != nil {
		s.malformed.Add(1)
		s.logger.Warn("dropping malformed message", "error", err)
		return
	}

	if event.IsSystem(env.Type) {
		s.logger.Debug("system event consumed", "type", env.Type)
		return
	}

	s.handlers.dispatch(env)
}

// handleTransportClose runs when the read loop of generation gen fails.
// Closes initiated by Close() or superseded transports are ignored.
func (s *Session) handleTransportClose(conn Transport, gen uint64, readErr error) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateOpen {
		s.mu.Unlock()
		conn.Close(0, "")
		return
	}
	s.state = StateDisconnected
	s.conn = nil
	s.haltHeartbeatLocked()
	s.reconnecting = true
	identity := s.identity
	s.mu.Unlock()

	conn.Close(0, "")

	code, reason := closeInfo(readErr)
	s.logger.Warn("connection lost",
		"identity", identity,
		"code", code,
		"reason", reason,
	)

	s.handlers.dispatch(event.New(event.TypeConnectionClosed, map[string]any{
		"code":   code,
		"reason": reason,
		"local":  true,
	}))

	s.scheduleReconnect()
}

// scheduleReconnect arms the backoff timer for the next attempt, or gives
// up once the policy is exhausted.
func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateDisconnected || !s.reconnecting {
		return
	}

	if !s.policy.ShouldRetry(s.attempts) {
		s.reconnecting = false
		s.logger.Warn("reconnection attempts exhausted, staying disconnected",
			"identity", s.identity,
			"attempts", s.attempts,
		)
		return
	}

	delay := s.policy.Delay(s.attempts)
	s.attempts++
	gen := s.gen

	s.stopRetryLocked()
	s.retryTimer = time.AfterFunc(delay, func() { s.retry(gen) })

	s.logger.Info("reconnect scheduled",
		"identity", s.identity,
		"attempt", s.attempts,
		"delay", delay,
	)
}

// retry is the body of a reconnect attempt scheduled at generation gen.
func (s *Session) retry(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateDisconnected || !s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.retryTimer = nil
	identity := s.identity
	attempt := s.attempts
	next := s.beginConnectLocked()
	s.mu.Unlock()

	s.reconnects.Add(1)
	s.logger.Info("attempting reconnection", "identity", identity, "attempt", attempt)

	if err := s.dialAndOpen(context.Background(), next, identity); err != nil {
		s.logger.Warn("reconnection failed", "identity", identity, "attempt", attempt, "error", err)
		s.scheduleReconnect()
		return
	}

	s.logger.Info("reconnected", "identity", identity)
}

func (s *Session) sendHeartbeat(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.mu.Unlock()

	data, err := event.Encode(event.Heartbeat(time.Now()))
	if err != nil {
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		s.logger.Debug("failed to send heartbeat", "error", err)
		conn.Close(0, "")
		return
	}
	s.heartbeats.Add(1)
}

func (s *Session) stopRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Session) haltHeartbeatLocked() {
	if s.beat != nil {
		s.beat.halt()
		s.beat = nil
	}
}

func (s *Session) endpoint(identity string) (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	q := u.Query()
	q.Set(event.ParamIdentity, identity)
	if s.cfg.ClientKind != "" {
		q.Set(event.ParamClient, s.cfg.ClientKind)
	}
	if s.cfg.ProtocolVersion != "" {
		q.Set(event.ParamVersion, s.cfg.ProtocolVersion)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (s *Session) header() http.Header {
	header := http.Header{}
	header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		header.Set(event.APIKeyHeader, s.cfg.APIKey)
	}
	return header
}
