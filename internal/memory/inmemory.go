package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	now func() time.Time

	mu       sync.RWMutex
	memories map[string]Memory
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      func() time.Time { return time.Now().UTC() },
		memories: make(map[string]Memory),
	}
}

func (s *MemoryStore) Create(_ context.Context, m Memory) (Memory, error) {
	now := s.now()
	m.ID = uuid.NewString()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.MemoryType == "" {
		m.MemoryType = DefaultMemoryType
	}

	s.mu.Lock()
	s.memories[m.ID] = m
	s.mu.Unlock()
	return m, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memories[id]
	if !ok {
		return Memory{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) Update(_ context.Context, id, content string) (Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memories[id]
	if !ok {
		return Memory{}, ErrNotFound
	}
	m.Content = content
	m.UpdatedAt = s.now()
	s.memories[id] = m
	return m, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memories[id]
	if !ok {
		return Memory{}, ErrNotFound
	}
	delete(s.memories, id)
	return m, nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]Memory, error) {
	s.mu.RLock()
	out := make([]Memory, 0)
	for _, m := range s.memories {
		if f.UserID != "" && m.UserID != f.UserID {
			continue
		}
		if f.Agent != "" && m.Agent != f.Agent {
			continue
		}
		out = append(out, m)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
