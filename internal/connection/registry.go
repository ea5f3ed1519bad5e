package connection

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/R3duxLabs/EchoMind-Backend/internal/event"
)

// Subscription identifies one handler registration. Registering the same
// handler twice yields two subscriptions and two deliveries per event.
type Subscription struct {
	eventType string
	id        uint64
}

// EventType returns the event type the subscription was registered for.
func (s Subscription) EventType() string {
	return s.eventType
}

type registration struct {
	id uint64
	fn Handler
}

// registry maps event type to an ordered list of handlers.
type registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]registration

	failures atomic.Int64
}

func newRegistry(logger *slog.Logger) *registry {
	return &registry{
		logger:   logger,
		handlers: make(map[string][]registration),
	}
}

func (r *registry) add(eventType string, fn Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.handlers[eventType] = append(r.handlers[eventType], registration{id: r.nextID, fn: fn})
	return Subscription{eventType: eventType, id: r.nextID}
}

// remove deletes one registration. Unknown subscriptions are a no-op.
func (r *registry) remove(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[sub.eventType]
	for i, reg := range list {
		if reg.id != sub.id {
			continue
		}
		next := make([]registration, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.handlers, sub.eventType)
		} else {
			r.handlers[sub.eventType] = next
		}
		return true
	}
	return false
}

func (r *registry) count(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventType])
}

// dispatch delivers env to the handlers for its type in registration order,
// then to AnyEvent handlers. Returns how many handlers failed.
func (r *registry) dispatch(env event.Envelope) int {
	r.mu.RLock()
	targets := make([]registration, 0, len(r.handlers[env.Type])+len(r.handlers[AnyEvent]))
	targets = append(targets, r.handlers[env.Type]...)
	if env.Type != AnyEvent {
		targets = append(targets, r.handlers[AnyEvent]...)
	}
	r.mu.RUnlock()

	failed := 0
	for _, reg := range targets {
		if err := invoke(reg.fn, env); err != nil {
			failed++
			r.failures.Add(1)
			r.logger.Warn("event handler failed",
				"type", env.Type,
				"subscription", reg.id,
				"error", err,
			)
		}
	}
	return failed
}

func invoke(fn Handler, env event.Envelope) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return fn(env)
}
