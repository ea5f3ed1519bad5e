// Package memory stores user memories and exposes them as batch operations.
// Every mutation is announced to the owning identity as a memory_update
// event.
package memory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a memory does not exist.
var ErrNotFound = errors.New("memory not found")

// DefaultMemoryType is used when a memory is created without a type.
const DefaultMemoryType = "general"

// Memory is one stored memory.
type Memory struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Agent      string    `json:"agent,omitempty"`
	MemoryType string    `json:"memory_type"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"timestamp"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Filter narrows List.
type Filter struct {
	UserID string
	Agent  string
	Limit  int // 0 means no limit
}

// Store persists memories.
type Store interface {
	Create(ctx context.Context, m Memory) (Memory, error)
	Get(ctx context.Context, id string) (Memory, error)
	Update(ctx context.Context, id, content string) (Memory, error)
	Delete(ctx context.Context, id string) (Memory, error)
	// List returns matching memories, newest first.
	List(ctx context.Context, f Filter) ([]Memory, error)
	Ping(ctx context.Context) error
}
