package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3duxLabs/EchoMind-Backend/internal/bus"
	"github.com/R3duxLabs/EchoMind-Backend/internal/event"
	"github.com/R3duxLabs/EchoMind-Backend/internal/metrics"
)

// ErrGatewayClosed is returned by Shutdown when called twice.
var ErrGatewayClosed = errors.New("gateway closed")

// Config holds server-side stream settings.
type Config struct {
	SendBuffer     int           // initial outbound queue capacity per session
	MaxSendBuffer  int           // outbound queue limit per session
	IdleTimeout    time.Duration // close sessions silent for this long
	WriteTimeout   time.Duration
	MaxMessageSize int64
	AllowedOrigins []string // empty allows any origin
}

// DefaultConfig returns the default stream settings.
func DefaultConfig() Config {
	return Config{
		SendBuffer:     64,
		MaxSendBuffer:  1024,
		IdleTimeout:    90 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// Gateway upgrades HTTP requests to stream sessions.
type Gateway struct {
	cfg      Config
	bus      *bus.Bus
	inbound  InboundHandler
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithInboundHandler sets the handler for client-sent events.
func WithInboundHandler(h InboundHandler) GatewayOption {
	return func(g *Gateway) {
		g.inbound = h
	}
}

// WithMetrics records session activity.
func WithMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// NewGateway creates a gateway that registers its sessions with b.
func NewGateway(cfg Config, b *bus.Bus, logger *slog.Logger, opts ...GatewayOption) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if cfg.MaxSendBuffer < cfg.SendBuffer {
		cfg.MaxSendBuffer = cfg.SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:      cfg,
		bus:      b,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}

	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ServeHTTP performs the handshake. The subscriber identity comes from the
// identity query parameter; client kind and protocol version are optional.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	identity := q.Get(event.ParamIdentity)
	if identity == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "identity query parameter is required")
		return
	}
	if v := q.Get(event.ParamVersion); v != "" && v != event.ProtocolVersion {
		writeError(w, http.StatusBadRequest, "bad_request", "unsupported protocol version "+v)
		return
	}

	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "server shutting down")
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		g.logger.Warn("websocket upgrade failed", "identity", identity, "error", err)
		return
	}

	s := newSession(conn, identity, q.Get(event.ParamClient), g)
	if !g.track(s) {
		s.Close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer g.untrack(s)

	s.run(g.ctx)
}

// Shutdown closes every session with a going-away frame and waits for them
// to finish or for ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrGatewayClosed
	}
	g.closed = true
	n := len(g.sessions)
	g.mu.Unlock()

	g.logger.Info("closing stream sessions", "sessions", n)
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.logger.Info("stream gateway stopped")
		return nil
	case <-ctx.Done():
		g.logger.Warn("stream gateway stop timeout")
		return ctx.Err()
	}
}

// SessionCount returns the number of sessions served by this gateway.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Sessions returns a snapshot of per-session statistics.
func (g *Gateway) Sessions() []SessionStats {
	g.mu.Lock()
	list := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		list = append(list, s)
	}
	g.mu.Unlock()

	out := make([]SessionStats, len(list))
	for i, s := range list {
		out[i] = s.Stats()
	}
	return out
}

func (g *Gateway) track(s *Session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.sessions[s.id] = s
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(s *Session) {
	g.mu.Lock()
	delete(g.sessions, s.id)
	g.mu.Unlock()
	g.wg.Done()
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: code, Detail: detail})
}
