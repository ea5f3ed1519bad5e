package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const memoryColumns = "id, user_id, agent, memory_type, content, created_at, updated_at"

// PostgresStore is a Store backed by the memories table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an open pool. The schema must already exist.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, m Memory) (Memory, error) {
	now := time.Now().UTC()
	m.ID = uuid.NewString()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.MemoryType == "" {
		m.MemoryType = DefaultMemoryType
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO memories (`+memoryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.UserID, m.Agent, m.MemoryType, m.Content, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return Memory{}, fmt.Errorf("insert memory: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Memory, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = $1`, id)
	return scanOne(row)
}

func (s *PostgresStore) Update(ctx context.Context, id, content string) (Memory, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE memories SET content = $2, updated_at = $3 WHERE id = $1 RETURNING `+memoryColumns,
		id, content, time.Now().UTC(),
	)
	return scanOne(row)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (Memory, error) {
	row := s.pool.QueryRow(ctx, `DELETE FROM memories WHERE id = $1 RETURNING `+memoryColumns, id)
	return scanOne(row)
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Memory, error) {
	var where []string
	var args []any
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Agent != "" {
		args = append(args, f.Agent)
		where = append(where, fmt.Sprintf("agent = $%d", len(args)))
	}

	query := `SELECT ` + memoryColumns + ` FROM memories`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Memory, error) {
		return scan(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanOne(row pgx.Row) (Memory, error) {
	m, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Memory{}, ErrNotFound
	}
	if err != nil {
		return Memory{}, fmt.Errorf("scan memory: %w", err)
	}
	return m, nil
}

func scan(row pgx.Row) (Memory, error) {
	var m Memory
	err := row.Scan(&m.ID, &m.UserID, &m.Agent, &m.MemoryType, &m.Content, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}
