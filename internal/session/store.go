package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"api-gateway-go/internal/config"
)

// NewStore builds the Store selected by session.store.
func NewStore(cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.Session.Store {
	case config.StoreRedis:
		return NewRedisStore(cfg.Session.Redis, logger)
	case config.StoreMemory, "":
		logger.Info("using in-memory session store; sessions are lost on restart")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("session: unknown store %q", cfg.Session.Store)
	}
}

// sweepInterval bounds how often Save scans the whole map for expired entries.
const sweepInterval = time.Minute

// MemoryStore keeps sessions in process memory. Expired entries are removed
// when loaded and by a periodic sweep on Save, so abandoned sessions do not
// accumulate.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	now       func() time.Time
	lastSweep time.Time
}

type memoryEntry struct {
	rec     Record
	expires time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// Load returns the record for id, or ErrNotFound when absent or expired.
func (s *MemoryStore) Load(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.entries, id)
		return Record{}, ErrNotFound
	}
	return e.rec, nil
}

// Save stores rec under id. A zero ttl never expires.
func (s *MemoryStore) Save(_ context.Context, id string, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= sweepInterval {
		s.sweep(now)
	}

	e := memoryEntry{rec: rec}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	s.entries[id] = e
	return nil
}

func (s *MemoryStore) sweep(now time.Time) {
	for id, e := range s.entries {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(s.entries, id)
		}
	}
	s.lastSweep = now
}

// RedisStore keeps sessions in redis as JSON values with a TTL.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *slog.Logger
}

// NewRedisStore connects to the redis URL in cfg.
func NewRedisStore(cfg config.RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("session: parse redis url: %w", err)
	}
	return &RedisStore{
		client:    redis.NewClient(opts),
		keyPrefix: cfg.KeyPrefix,
		logger:    logger.With("component", "session_redis"),
	}, nil
}

// Ping checks the redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Load returns the record for id, or ErrNotFound when the key is missing.
func (s *RedisStore) Load(ctx context.Context, id string) (Record, error) {
	raw, err := s.client.Get(ctx, s.keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("redis get: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.logger.Warn("discarding undecodable session record", "err", err)
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Save stores rec under id with the given ttl.
func (s *RedisStore) Save(ctx context.Context, id string, rec Record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, s.keyPrefix+id, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
