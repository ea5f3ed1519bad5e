package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/R3duxLabs/EchoMind-Backend/internal/metrics"
)

const tracerName = "echomind/batch"

// DefaultMaxOperations bounds a single request.
const DefaultMaxOperations = 100

// Processor executes batches against a table of registered handlers. It
// keeps no state between requests.
type Processor struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	maxOps  int

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// Option configures a Processor.
type Option func(*Processor)

// WithMetrics records operation outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Processor) {
		p.tracer = t
	}
}

// WithMaxOperations sets the per-request operation limit.
func WithMaxOperations(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxOps = n
		}
	}
}

// NewProcessor creates a processor with an empty handler table.
func NewProcessor(logger *slog.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Processor{
		logger:   logger,
		maxOps:   DefaultMaxOperations,
		handlers: make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	return p
}

// Register adds the handler for opType.
func (p *Processor) Register(opType string, h HandlerFunc) error {
	if opType == "" || h == nil {
		return fmt.Errorf("register %q: type and handler are required", opType)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.handlers[opType]; ok {
		return fmt.Errorf("register %q: %w", opType, ErrDuplicateHandler)
	}
	p.handlers[opType] = h
	return nil
}

// Types returns the registered operation types, sorted.
func (p *Processor) Types() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	types := make([]string, 0, len(p.handlers))
	for t := range p.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// MaxOperations returns the per-request operation limit.
func (p *Processor) MaxOperations() int {
	return p.maxOps
}

// Validate checks a request before anything executes.
func (p *Processor) Validate(ops []Operation) error {
	if ops == nil {
		return ErrNoOperations
	}
	if len(ops) > p.maxOps {
		return fmt.Errorf("%w: %d exceeds limit of %d", ErrTooManyOperations, len(ops), p.maxOps)
	}
	return nil
}

// Execute runs ops strictly in order. A failing operation is recorded and
// the rest still run; once ctx is done the remaining operations are rejected
// without running. The returned error is non-nil only when the request as a
// whole is invalid, in which case nothing executed.
func (p *Processor) Execute(ctx context.Context, ops []Operation) (Result, error) {
	if err := p.Validate(ops); err != nil {
		return Result{}, err
	}

	ctx, span := p.tracer.Start(ctx, "batch.execute",
		trace.WithAttributes(attribute.Int("batch.operations", len(ops))),
	)
	defer span.End()

	result := Result{
		Results: make([]OperationResult, len(ops)),
		Errors:  []ErrorEntry{},
	}

	for i, op := range ops {
		value, err := p.run(ctx, i, op)
		if err != nil {
			opErr := &OperationError{Index: i, Type: op.Type, Err: err}
			result.Results[i] = OperationResult{Type: op.Type, Success: false, Error: err.Error()}
			result.Errors = append(result.Errors, ErrorEntry{Index: i, Operation: op, Error: err.Error()})
			result.ErrorCount++
			p.logger.Warn("batch operation failed", "index", i, "type", op.Type, "error", opErr)
			continue
		}
		result.Results[i] = OperationResult{Type: op.Type, Success: true, Result: value}
	}

	span.SetAttributes(attribute.Int("batch.error_count", result.ErrorCount))
	if result.ErrorCount == len(ops) && len(ops) > 0 {
		span.SetStatus(codes.Error, "all operations failed")
	}
	p.metrics.BatchExecuted()

	p.logger.Debug("batch executed",
		"operations", len(ops),
		"error_count", result.ErrorCount,
	)
	return result, nil
}

// run executes a single operation in its own span.
func (p *Processor) run(ctx context.Context, index int, op Operation) (value any, err error) {
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "batch.operation",
		trace.WithAttributes(
			attribute.Int("batch.index", index),
			attribute.String("batch.operation.type", op.Type),
		),
	)
	p.mu.RLock()
	h, ok := p.handlers[op.Type]
	p.mu.RUnlock()

	// Only registered types become metric labels.
	label := metrics.LabelUnknown
	if ok {
		label = op.Type
	}

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		p.metrics.BatchOperation(label, err == nil, time.Since(start))
	}()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("not executed: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op.Type)
	}

	data := op.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return invoke(ctx, h, data)
}

func invoke(ctx context.Context, h HandlerFunc, data json.RawMessage) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, data)
}
