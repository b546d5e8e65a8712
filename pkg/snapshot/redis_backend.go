package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend persists snapshots in Redis, suitable for multi-node
// deployments where any node may resume a session.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix (default: "datalens:snapshot:").
	Prefix string
	// TTL is the snapshot expiry duration (0 = never expire).
	TTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisBackend creates a Redis snapshot backend and verifies the
// connection.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "datalens:snapshot:"
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisBackend{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

// NewRedisBackendFromClient creates a backend from an existing client.
// This is useful for testing with miniredis.
func NewRedisBackendFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = "datalens:snapshot:"
	}
	return &RedisBackend{client: client, prefix: prefix, ttl: ttl}
}

func (b *RedisBackend) snapKey(snapshotID string) string {
	return b.prefix + "snap:" + snapshotID
}

func (b *RedisBackend) sessionIndexKey(sessionID string) string {
	return b.prefix + "session:" + sessionID
}

func (b *RedisBackend) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBackendClosed
	}
	return nil
}

// SaveSnapshot stores a snapshot and indexes it under its session.
func (b *RedisBackend) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.snapKey(snap.ID), data, b.ttl)
	pipe.SAdd(ctx, b.sessionIndexKey(snap.SessionID), snap.ID)
	if b.ttl > 0 {
		pipe.Expire(ctx, b.sessionIndexKey(snap.SessionID), b.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot retrieves a snapshot scoped to a session. Membership in
// the session index is checked first, so an ID from another session is
// not found rather than leaked.
func (b *RedisBackend) LoadSnapshot(ctx context.Context, sessionID, snapshotID string) (*Snapshot, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	member, err := b.client.SIsMember(ctx, b.sessionIndexKey(sessionID), snapshotID).Result()
	if err != nil {
		return nil, fmt.Errorf("check session index: %w", err)
	}
	if !member {
		return nil, ErrSnapshotNotFound
	}

	data, err := b.client.Get(ctx, b.snapKey(snapshotID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// ListSnapshots returns all snapshots of a session.
func (b *RedisBackend) ListSnapshots(ctx context.Context, sessionID string) ([]*Snapshot, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	ids, err := b.client.SMembers(ctx, b.sessionIndexKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list session snapshots: %w", err)
	}

	snaps := make([]*Snapshot, 0, len(ids))
	for _, id := range ids {
		data, err := b.client.Get(ctx, b.snapKey(id)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Snapshot expired, clean up the index.
				b.client.SRem(ctx, b.sessionIndexKey(sessionID), id)
				continue
			}
			return nil, fmt.Errorf("get snapshot %s: %w", id, err)
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot %s: %w", id, err)
		}
		snaps = append(snaps, &snap)
	}
	return snaps, nil
}

// DeleteSession removes all snapshots of a session.
func (b *RedisBackend) DeleteSession(ctx context.Context, sessionID string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	ids, err := b.client.SMembers(ctx, b.sessionIndexKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("list session snapshots: %w", err)
	}

	pipe := b.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, b.snapKey(id))
	}
	pipe.Del(ctx, b.sessionIndexKey(sessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session snapshots: %w", err)
	}
	return nil
}

// Close releases the Redis client.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}

// Ping checks if the Redis connection is alive.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.client.Ping(ctx).Err()
}
