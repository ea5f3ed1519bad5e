package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/R3duxLabs/EchoMind-Backend/internal/event"
	"github.com/R3duxLabs/EchoMind-Backend/internal/metrics"
)

var (
	// ErrEmptyIdentity is returned when an operation is given an empty identity.
	ErrEmptyIdentity = errors.New("subscriber identity is required")

	// ErrEmptyType is returned by Publish when the event type is empty.
	ErrEmptyType = errors.New("event type is required")
)

const presenceTimeout = 2 * time.Second

// Sink is one live session as seen by the bus.
type Sink interface {
	// ID uniquely identifies the session within the process.
	ID() string

	// Deliver queues env for the session without blocking.
	Deliver(env event.Envelope) error
}

// Presence tracks which identities hold sessions across processes.
type Presence interface {
	Join(ctx context.Context, identity, sessionID string) error
	Leave(ctx context.Context, identity, sessionID string) error
	Touch(ctx context.Context, identity string) error
	Count(ctx context.Context, identity string) (int, error)
}

// Stats contains runtime statistics.
type Stats struct {
	Identities       int
	Sessions         int
	Published        int64
	Delivered        int64
	DeliveryFailures int64
}

// Bus maps subscriber identities to their live sessions.
type Bus struct {
	logger   *slog.Logger
	presence Presence
	metrics  *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]map[string]Sink

	published atomic.Int64
	delivered atomic.Int64
	failures  atomic.Int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithPresence mirrors registrations into a shared presence store.
func WithPresence(p Presence) Option {
	return func(b *Bus) {
		b.presence = p
	}
}

// WithMetrics records bus activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// New creates an empty bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bus{
		logger:   logger,
		sessions: make(map[string]map[string]Sink),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds sink as a delivery target for identity.
func (b *Bus) Register(identity string, sink Sink) error {
	if identity == "" {
		return ErrEmptyIdentity
	}

	b.mu.Lock()
	set, ok := b.sessions[identity]
	if !ok {
		set = make(map[string]Sink)
		b.sessions[identity] = set
	}
	set[sink.ID()] = sink
	n := len(set)
	b.mu.Unlock()

	b.logger.Debug("session registered", "identity", identity, "session_id", sink.ID(), "sessions", n)

	if b.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		defer cancel()
		if err := b.presence.Join(ctx, identity, sink.ID()); err != nil {
			b.logger.Warn("presence join failed", "identity", identity, "error", err)
		}
	}
	return nil
}

// Deregister removes sink. Unknown sinks are ignored.
func (b *Bus) Deregister(identity string, sink Sink) {
	b.mu.Lock()
	set, ok := b.sessions[identity]
	if !ok {
		b.mu.Unlock()
		return
	}
	if _, ok := set[sink.ID()]; !ok {
		b.mu.Unlock()
		return
	}
	delete(set, sink.ID())
	if len(set) == 0 {
		delete(b.sessions, identity)
	}
	b.mu.Unlock()

	b.logger.Debug("session deregistered", "identity", identity, "session_id", sink.ID())

	if b.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
		defer cancel()
		if err := b.presence.Leave(ctx, identity, sink.ID()); err != nil {
			b.logger.Warn("presence leave failed", "identity", identity, "error", err)
		}
	}
}

// Publish builds an event and delivers it to every live session of identity.
// It returns the number of sessions that accepted the event.
func (b *Bus) Publish(identity, eventType string, payload map[string]any) (int, error) {
	if eventType == "" {
		return 0, ErrEmptyType
	}
	return b.PublishEnvelope(identity, event.New(eventType, payload))
}

// PublishEnvelope delivers env to every live session of identity. A session
// whose queue rejects the event does not affect the others.
func (b *Bus) PublishEnvelope(identity string, env event.Envelope) (int, error) {
	if identity == "" {
		return 0, ErrEmptyIdentity
	}
	if env.Type == "" {
		return 0, ErrEmptyType
	}

	b.mu.RLock()
	targets := make([]Sink, 0, len(b.sessions[identity]))
	for _, sink := range b.sessions[identity] {
		targets = append(targets, sink)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sink := range targets {
		if err := sink.Deliver(env); err != nil {
			b.failures.Add(1)
			b.logger.Warn("event delivery failed",
				"identity", identity,
				"session_id", sink.ID(),
				"type", env.Type,
				"error", err,
			)
			continue
		}
		delivered++
	}

	b.published.Add(1)
	b.delivered.Add(int64(delivered))
	b.metrics.EventPublished(env.Type, delivered)

	if len(targets) == 0 {
		b.logger.Debug("no live sessions, event dropped", "identity", identity, "type", env.Type)
	}

	return delivered, nil
}

// Touch refreshes the shared presence entry for identity.
func (b *Bus) Touch(ctx context.Context, identity string) {
	if b.presence == nil || identity == "" {
		return
	}
	if err := b.presence.Touch(ctx, identity); err != nil {
		b.logger.Debug("presence touch failed", "identity", identity, "error", err)
	}
}

// Connected reports whether identity has a live session in this process or,
// when a presence store is configured, in any process sharing it.
func (b *Bus) Connected(ctx context.Context, identity string) (bool, error) {
	n, err := b.Sessions(ctx, identity)
	return n > 0, err
}

// Sessions returns the number of live sessions for identity. Local sessions
// are authoritative; the presence store is consulted only when there are none.
func (b *Bus) Sessions(ctx context.Context, identity string) (int, error) {
	if identity == "" {
		return 0, ErrEmptyIdentity
	}

	if n := b.SessionCount(identity); n > 0 || b.presence == nil {
		return n, nil
	}

	n, err := b.presence.Count(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("presence lookup: %w", err)
	}
	return n, nil
}

// SessionCount returns the number of local sessions for identity.
func (b *Bus) SessionCount(identity string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions[identity])
}

// Stats returns current statistics.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	identities := len(b.sessions)
	sessions := 0
	for _, set := range b.sessions {
		sessions += len(set)
	}
	b.mu.RUnlock()

	return Stats{
		Identities:       identities,
		Sessions:         sessions,
		Published:        b.published.Load(),
		Delivered:        b.delivered.Load(),
		DeliveryFailures: b.failures.Load(),
	}
}
