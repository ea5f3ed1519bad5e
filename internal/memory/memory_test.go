package memory

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/R3duxLabs/EchoMind-Backend/internal/batch"
	"github.com/R3duxLabs/EchoMind-Backend/internal/config"
	"github.com/R3duxLabs/EchoMind-Backend/internal/database"
	"github.com/R3duxLabs/EchoMind-Backend/internal/event"
)

type published struct {
	identity string
	typ      string
	payload  map[string]any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (r *recordingPublisher) Publish(identity, eventType string, payload map[string]any) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{identity, eventType, payload})
	return 1, r.err
}

func steppedClock() func() time.Time {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var n int
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestMemoryStore_CRUD(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	created, err := s.Create(ctx, Memory{UserID: "user-1", Agent: "echo", Content: "likes tea"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == "" || created.MemoryType != DefaultMemoryType || created.CreatedAt.IsZero() {
		t.Errorf("Create = %+v", created)
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil || got.Content != "likes tea" {
		t.Errorf("Get = %+v, %v", got, err)
	}

	updated, err := s.Update(ctx, created.ID, "likes green tea")
	if err != nil || updated.Content != "likes green tea" {
		t.Errorf("Update = %+v, %v", updated, err)
	}

	if _, err := s.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
	if _, err := s.Update(ctx, created.ID, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update after Delete = %v, want ErrNotFound", err)
	}
	if _, err := s.Delete(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	s.now = steppedClock()
	ctx := context.Background()

	s.Create(ctx, Memory{UserID: "user-1", Agent: "echo", Content: "first"})
	s.Create(ctx, Memory{UserID: "user-1", Agent: "sage", Content: "second"})
	s.Create(ctx, Memory{UserID: "user-2", Agent: "echo", Content: "other"})
	s.Create(ctx, Memory{UserID: "user-1", Agent: "echo", Content: "third"})

	list, _ := s.List(ctx, Filter{UserID: "user-1"})
	if len(list) != 3 || list[0].Content != "third" || list[2].Content != "first" {
		t.Errorf("List(user-1) = %+v", list)
	}

	list, _ = s.List(ctx, Filter{UserID: "user-1", Agent: "echo"})
	if len(list) != 2 {
		t.Errorf("List(user-1, echo) = %d entries, want 2", len(list))
	}

	list, _ = s.List(ctx, Filter{Limit: 1})
	if len(list) != 1 || list[0].Content != "third" {
		t.Errorf("List(limit 1) = %+v", list)
	}
}

func newProcessor(t *testing.T, store Store, pub Publisher) *batch.Processor {
	t.Helper()
	p := batch.NewProcessor(nil)
	if err := NewOperations(store, pub, nil).Register(p); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return p
}

func TestOperations_BatchExample(t *testing.T) {
	store := NewMemoryStore()
	seeded, _ := store.Create(context.Background(), Memory{UserID: "user-1", Content: "seed"})

	pub := &recordingPublisher{}
	p := newProcessor(t, store, pub)

	ctx := batch.WithIdentity(context.Background(), "user-1")
	result, err := p.Execute(ctx, []batch.Operation{
		{Type: OpGet, Data: json.RawMessage(`{"id":"` + seeded.ID + `"}`)},
		{Type: "unknown_op", Data: json.RawMessage(`{}`)},
		{Type: OpCreate, Data: json.RawMessage(`{"content":"x"}`)},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(result.Results) != 3 || result.ErrorCount != 1 {
		t.Fatalf("Results = %d, ErrorCount = %d; want 3 and 1", len(result.Results), result.ErrorCount)
	}
	if !result.Results[0].Success || result.Results[1].Success || !result.Results[2].Success {
		t.Errorf("success flags = %v %v %v", result.Results[0].Success, result.Results[1].Success, result.Results[2].Success)
	}

	if got := result.Results[0].Result.(Memory); got.Content != "seed" {
		t.Errorf("get_memory content = %q", got.Content)
	}

	created := result.Results[2].Result.(createResponse)
	m, err := store.Get(context.Background(), created.MemoryID)
	if err != nil {
		t.Fatalf("created memory not stored: %v", err)
	}
	if m.UserID != "user-1" {
		t.Errorf("UserID = %q, want caller identity user-1", m.UserID)
	}

	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}
	ev := pub.events[0]
	if ev.identity != "user-1" || ev.typ != event.TypeMemoryUpdate || ev.payload["action"] != ActionCreated {
		t.Errorf("published %+v", ev)
	}
}

func TestOperations_Lifecycle(t *testing.T) {
	store := NewMemoryStore()
	pub := &recordingPublisher{err: errors.New("bus down")}
	p := newProcessor(t, store, pub)
	ctx := context.Background()

	result, _ := p.Execute(ctx, []batch.Operation{
		{Type: OpCreate, Data: json.RawMessage(`{"user_id":"user-9","agent":"sage","memory_type":"preference","content":"dark mode"}`)},
	})
	if !result.Results[0].Success {
		t.Fatalf("create failed: %s", result.Results[0].Error)
	}
	id := result.Results[0].Result.(createResponse).MemoryID

	result, _ = p.Execute(ctx, []batch.Operation{
		{Type: OpUpdate, Data: json.RawMessage(`{"id":"` + id + `","content":"light mode"}`)},
		{Type: OpList, Data: json.RawMessage(`{"user_id":"user-9"}`)},
		{Type: OpDelete, Data: json.RawMessage(`{"id":"` + id + `"}`)},
		{Type: OpGet, Data: json.RawMessage(`{"id":"` + id + `"}`)},
	})

	if result.ErrorCount != 1 {
		t.Fatalf("ErrorCount = %d, want 1: %+v", result.ErrorCount, result.Errors)
	}
	if got := result.Results[0].Result.(Memory); got.Content != "light mode" || got.MemoryType != "preference" {
		t.Errorf("update result = %+v", got)
	}
	list := result.Results[1].Result.(map[string]any)["memories"].([]Memory)
	if len(list) != 1 {
		t.Errorf("list returned %d memories, want 1", len(list))
	}
	if result.Results[3].Error != ErrNotFound.Error() {
		t.Errorf("get after delete error = %q", result.Results[3].Error)
	}

	// Publish failures are logged, never surfaced.
	actions := []any{}
	for _, ev := range pub.events {
		actions = append(actions, ev.payload["action"])
	}
	if len(actions) != 3 || actions[0] != ActionCreated || actions[1] != ActionUpdated || actions[2] != ActionDeleted {
		t.Errorf("announced actions = %v", actions)
	}
}

func TestOperations_Validation(t *testing.T) {
	p := newProcessor(t, NewMemoryStore(), nil)

	tests := []struct {
		name    string
		op      batch.Operation
		wantErr string
	}{
		{"create without content", batch.Operation{Type: OpCreate, Data: json.RawMessage(`{"user_id":"u"}`)}, "content is required"},
		{"create without user", batch.Operation{Type: OpCreate, Data: json.RawMessage(`{"content":"x"}`)}, "user_id is required"},
		{"get without id", batch.Operation{Type: OpGet}, "id is required"},
		{"update without content", batch.Operation{Type: OpUpdate, Data: json.RawMessage(`{"id":"m1"}`)}, "content is required"},
		{"delete unknown", batch.Operation{Type: OpDelete, Data: json.RawMessage(`{"id":"nope"}`)}, "memory not found"},
		{"bad data", batch.Operation{Type: OpGet, Data: json.RawMessage(`[1,2]`)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := p.Execute(context.Background(), []batch.Operation{tt.op})
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			r := result.Results[0]
			if r.Success {
				t.Fatal("expected failure")
			}
			if tt.wantErr != "" && r.Error != tt.wantErr {
				t.Errorf("error = %q, want %q", r.Error, tt.wantErr)
			}
		})
	}
}

func TestPostgresStore(t *testing.T) {
	host := os.Getenv("ECHOMIND_TEST_DB_HOST")
	if host == "" {
		t.Skip("ECHOMIND_TEST_DB_HOST not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, config.DBConfig{
		Host:     host,
		Port:     5432,
		Name:     os.Getenv("ECHOMIND_TEST_DB_NAME"),
		User:     os.Getenv("ECHOMIND_TEST_DB_USER"),
		Password: os.Getenv("ECHOMIND_TEST_DB_PASSWORD"),
		SSLMode:  "disable",
		MaxConns: 2,
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	s := NewPostgresStore(pool)
	user := "pg-test-" + time.Now().Format("150405.000000")

	created, err := s.Create(ctx, Memory{UserID: user, Content: "stored"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := s.Update(ctx, created.ID, "changed"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	list, err := s.List(ctx, Filter{UserID: user})
	if err != nil || len(list) != 1 || list[0].Content != "changed" {
		t.Fatalf("List = %+v, %v", list, err)
	}
	if _, err := s.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
}
