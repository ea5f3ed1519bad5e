package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/R3duxLabs/EchoMind-Backend/internal/batch"
	"github.com/R3duxLabs/EchoMind-Backend/internal/event"
)

// Operation types served by this package.
const (
	OpCreate = "create_memory"
	OpGet    = "get_memory"
	OpUpdate = "update_memory"
	OpDelete = "delete_memory"
	OpList   = "list_memories"
)

// Actions carried by memory_update events.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

var (
	errIDRequired      = errors.New("id is required")
	errContentRequired = errors.New("content is required")
	errUserRequired    = errors.New("user_id is required")
)

// Publisher pushes live events to a subscriber identity.
type Publisher interface {
	Publish(identity, eventType string, payload map[string]any) (int, error)
}

// Operations adapts a Store to batch handlers.
type Operations struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
}

// NewOperations creates the handlers. publisher may be nil.
func NewOperations(store Store, publisher Publisher, logger *slog.Logger) *Operations {
	if logger == nil {
		logger = slog.Default()
	}
	return &Operations{store: store, publisher: publisher, logger: logger}
}

// Register adds every memory operation to p.
func (o *Operations) Register(p *batch.Processor) error {
	handlers := map[string]batch.HandlerFunc{
		OpCreate: o.create,
		OpGet:    o.get,
		OpUpdate: o.update,
		OpDelete: o.delete,
		OpList:   o.list,
	}
	for opType, h := range handlers {
		if err := p.Register(opType, h); err != nil {
			return err
		}
	}
	return nil
}

type createRequest struct {
	UserID     string `json:"user_id"`
	Agent      string `json:"agent"`
	MemoryType string `json:"memory_type"`
	Content    string `json:"content"`
}

type createResponse struct {
	MemoryID  string    `json:"memory_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (o *Operations) create(ctx context.Context, data json.RawMessage) (any, error) {
	var req createRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Content == "" {
		return nil, errContentRequired
	}
	if req.UserID == "" {
		req.UserID = batch.IdentityFrom(ctx)
	}
	if req.UserID == "" {
		return nil, errUserRequired
	}

	m, err := o.store.Create(ctx, Memory{
		UserID:     req.UserID,
		Agent:      req.Agent,
		MemoryType: req.MemoryType,
		Content:    req.Content,
	})
	if err != nil {
		return nil, err
	}

	o.announce(ActionCreated, m)
	return createResponse{MemoryID: m.ID, Timestamp: m.CreatedAt}, nil
}

type idRequest struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

func (o *Operations) get(ctx context.Context, data json.RawMessage) (any, error) {
	var req idRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, errIDRequired
	}
	return o.store.Get(ctx, req.ID)
}

func (o *Operations) update(ctx context.Context, data json.RawMessage) (any, error) {
	var req idRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, errIDRequired
	}
	if req.Content == "" {
		return nil, errContentRequired
	}

	m, err := o.store.Update(ctx, req.ID, req.Content)
	if err != nil {
		return nil, err
	}
	o.announce(ActionUpdated, m)
	return m, nil
}

func (o *Operations) delete(ctx context.Context, data json.RawMessage) (any, error) {
	var req idRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, errIDRequired
	}

	m, err := o.store.Delete(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	o.announce(ActionDeleted, m)
	return map[string]any{"deleted": true, "memory_id": m.ID}, nil
}

type listRequest struct {
	UserID string `json:"user_id"`
	Agent  string `json:"agent"`
	Limit  int    `json:"limit"`
}

func (o *Operations) list(ctx context.Context, data json.RawMessage) (any, error) {
	var req listRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		req.UserID = batch.IdentityFrom(ctx)
	}

	memories, err := o.store.List(ctx, Filter{UserID: req.UserID, Agent: req.Agent, Limit: req.Limit})
	if err != nil {
		return nil, err
	}
	return map[string]any{"memories": memories}, nil
}

// announce publishes a memory_update to the memory's owner. Delivery is
// best-effort and never fails the operation.
func (o *Operations) announce(action string, m Memory) {
	if o.publisher == nil {
		return
	}
	_, err := o.publisher.Publish(m.UserID, event.TypeMemoryUpdate, map[string]any{
		"action":    action,
		"memory_id": m.ID,
		"user_id":   m.UserID,
		"agent":     m.Agent,
	})
	if err != nil {
		o.logger.Warn("memory_update publish failed", "memory_id", m.ID, "error", err)
	}
}

func decode(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}
