package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/R3duxLabs/EchoMind-Backend/internal/bus"
	"github.com/R3duxLabs/EchoMind-Backend/internal/event"
	"github.com/R3duxLabs/EchoMind-Backend/internal/metrics"
)

// InboundHandler receives non-heartbeat events sent by a client.
type InboundHandler func(ctx context.Context, s *Session, env event.Envelope)

// SessionStats contains per-session statistics.
type SessionStats struct {
	ID         string
	Identity   string
	OpenedAt   time.Time
	LastSeen   time.Time
	Received   int64
	Malformed  int64
	Heartbeats int64
	Sent       int64
	Queue      QueueStats
}

// Session is the server side of one client connection. It is registered
// with the bus for as long as its transport is open.
type Session struct {
	id       string
	identity string
	client   string

	conn    *websocket.Conn
	cfg     Config
	bus     *bus.Bus
	inbound InboundHandler
	logger  *slog.Logger
	metrics *metrics.Metrics

	queue    *Queue[event.Envelope]
	openedAt time.Time
	lastSeen atomic.Int64 // unix nanos

	closeOnce sync.Once

	received   atomic.Int64
	malformed  atomic.Int64
	heartbeats atomic.Int64
	sent       atomic.Int64
}

func newSession(conn *websocket.Conn, identity, client string, g *Gateway) *Session {
	id := uuid.NewString()
	s := &Session{
		id:       id,
		identity: identity,
		client:   client,
		conn:     conn,
		cfg:      g.cfg,
		bus:      g.bus,
		inbound:  g.inbound,
		metrics:  g.metrics,
		logger:   g.logger.With("identity", identity, "session_id", id),
		queue:    NewQueue[event.Envelope](g.cfg.SendBuffer, g.cfg.MaxSendBuffer),
		openedAt: time.Now(),
	}
	s.lastSeen.Store(s.openedAt.UnixNano())
	return s
}

// ID returns the session's unique ID.
func (s *Session) ID() string { return s.id }

// Identity returns the subscriber identity the session is bound to.
func (s *Session) Identity() string { return s.identity }

// Backlog returns the number of events queued for the client.
func (s *Session) Backlog() int { return s.queue.Len() }

// Deliver queues env for the client. It never blocks.
func (s *Session) Deliver(env event.Envelope) error {
	if err := s.queue.Push(env); err != nil {
		reason := metrics.DropQueueFull
		if err == ErrQueueClosed {
			reason = metrics.DropClosed
		}
		s.metrics.EventDropped(reason)
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	return nil
}

// Close sends a close frame and tears the connection down. The read pump
// then exits and the session deregisters itself.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(s.cfg.WriteTimeout)
		s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		s.conn.Close()
	})
}

// Stats returns current session statistics.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		ID:         s.id,
		Identity:   s.identity,
		OpenedAt:   s.openedAt,
		LastSeen:   time.Unix(0, s.lastSeen.Load()),
		Received:   s.received.Load(),
		Malformed:  s.malformed.Load(),
		Heartbeats: s.heartbeats.Load(),
		Sent:       s.sent.Load(),
		Queue:      s.queue.Stats(),
	}
}

// run serves the session until the transport closes or ctx is cancelled.
func (s *Session) run(ctx context.Context) {
	s.Deliver(event.New(event.TypeConnectionEstablished, map[string]any{
		"session_id": s.id,
		"identity":   s.identity,
	}))

	if err := s.bus.Register(s.identity, s); err != nil {
		s.logger.Error("failed to register session", "error", err)
		s.Close(websocket.CloseInternalServerErr, "registration failed")
		return
	}
	s.metrics.SessionOpened()
	s.logger.Info("stream session opened", "client", s.client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writePump()
	}()

	go func() {
		<-ctx.Done()
		s.Close(websocket.CloseGoingAway, "server shutting down")
	}()

	err := s.readPump(ctx)

	s.bus.Deregister(s.identity, s)
	s.metrics.SessionClosed()
	s.queue.Close()
	s.Close(websocket.CloseNormalClosure, "")
	wg.Wait()

	code, reason := closeInfo(err)
	s.logger.Info("stream session closed",
		"code", code,
		"reason", reason,
		"received", s.received.Load(),
		"sent", s.sent.Load(),
	)
}

// readPump reads client messages until the transport fails or the client
// stays silent for longer than the idle timeout.
func (s *Session) readPump(ctx context.Context) error {
	if s.cfg.MaxMessageSize > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	}

	for {
		if s.cfg.IdleTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}

		s.received.Add(1)
		s.lastSeen.Store(time.Now().UnixNano())
		s.handleMessage(ctx, data)
	}
}

func (s *Session) handleMessage(ctx context.Context, data []byte) {
	env, err := event.Decode(data)
	if err != nil {
		s.malformed.Add(1)
		s.metrics.InboundMalformed()
		s.logger.Warn("dropping malformed client message", "error", err)
		return
	}
	s.metrics.InboundMessage(env.Type)

	if env.Type == event.TypeHeartbeat {
		s.heartbeats.Add(1)
		s.bus.Touch(ctx, s.identity)
		return
	}

	if s.inbound == nil {
		s.logger.Debug("client event ignored", "type", env.Type)
		return
	}
	s.inbound(ctx, s, env)
}

// writePump drains the outbound queue to the transport in order.
func (s *Session) writePump() {
	for {
		env, ok := s.queue.Pop()
		if !ok {
			return
		}

		data, err := event.Encode(env)
		if err != nil {
			s.logger.Warn("dropping unencodable event", "type", env.Type, "error", err)
			continue
		}

		if s.cfg.WriteTimeout > 0 {
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Debug("write failed, closing session", "type", env.Type, "error", err)
			s.queue.Close()
			s.conn.Close()
			return
		}
		s.sent.Add(1)
	}
}

func closeInfo(err error) (int, string) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text
	}
	if err == nil {
		return websocket.CloseNormalClosure, ""
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
