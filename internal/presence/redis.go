// Package presence records which subscriber identities hold live stream
// sessions, shared across every server process pointed at the same Redis.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "echomind:presence:"

// Config holds Redis connection configuration.
type Config struct {
	Addr     string // Redis server address (host:port)
	Password string
	DB       int

	// TTL bounds how long an identity stays present without a Join or Touch.
	TTL time.Duration

	// Instance prefixes session IDs so two processes never collide.
	Instance string
}

// RedisPresence is a Redis set per identity holding its session IDs.
type RedisPresence struct {
	client   *redis.Client
	ttl      time.Duration
	instance string
	logger   *slog.Logger
}

// NewRedisPresence connects to Redis and verifies the connection.
func NewRedisPresence(cfg Config, logger *slog.Logger) (*RedisPresence, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	p := newRedisPresence(client, cfg, logger)
	p.logger.Info("connected to redis presence store", "addr", cfg.Addr, "db", cfg.DB)
	return p, nil
}

func newRedisPresence(client *redis.Client, cfg Config, logger *slog.Logger) *RedisPresence {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &RedisPresence{
		client:   client,
		ttl:      ttl,
		instance: cfg.Instance,
		logger:   logger,
	}
}

// Join adds sessionID to identity's set and refreshes its TTL.
func (p *RedisPresence) Join(ctx context.Context, identity, sessionID string) error {
	key := p.key(identity)
	pipe := p.client.TxPipeline()
	pipe.SAdd(ctx, key, p.member(sessionID))
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence join %s: %w", identity, err)
	}
	return nil
}

// Leave removes sessionID from identity's set.
func (p *RedisPresence) Leave(ctx context.Context, identity, sessionID string) error {
	if err := p.client.SRem(ctx, p.key(identity), p.member(sessionID)).Err(); err != nil {
		return fmt.Errorf("presence leave %s: %w", identity, err)
	}
	return nil
}

// Touch extends identity's TTL.
func (p *RedisPresence) Touch(ctx context.Context, identity string) error {
	if err := p.client.Expire(ctx, p.key(identity), p.ttl).Err(); err != nil {
		return fmt.Errorf("presence touch %s: %w", identity, err)
	}
	return nil
}

// Count returns the number of sessions recorded for identity.
func (p *RedisPresence) Count(ctx context.Context, identity string) (int, error) {
	n, err := p.client.SCard(ctx, p.key(identity)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence count %s: %w", identity, err)
	}
	return int(n), nil
}

// Ping checks the Redis connection.
func (p *RedisPresence) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (p *RedisPresence) Close() error {
	return p.client.Close()
}

func (p *RedisPresence) key(identity string) string {
	return keyPrefix + identity
}

func (p *RedisPresence) member(sessionID string) string {
	if p.instance == "" {
		return sessionID
	}
	return p.instance + "/" + sessionID
}
