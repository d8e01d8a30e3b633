package preference

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidTerminal is returned when a terminal identifier is blank.
var ErrInvalidTerminal = errors.New("preference: terminal id required")

// Store persists the last price column selected on each terminal.
type Store interface {
	Get(ctx context.Context, terminal string) (string, bool, error)
	Set(ctx context.Context, terminal, column string) error
}

// RedisStore keeps preferences in Redis under Prefix + terminal.
type RedisStore struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

func (s RedisStore) key(terminal string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "pos:price-column:"
	}
	return prefix + terminal
}

// Get returns the stored column id.
func (s RedisStore) Get(ctx context.Context, terminal string) (string, bool, error) {
	if s.Client == nil {
		return "", false, errors.New("preference: redis client not configured")
	}
	terminal = strings.TrimSpace(terminal)
	if terminal == "" {
		return "", false, ErrInvalidTerminal
	}
	value, err := s.Client.Get(ctx, s.key(terminal)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores the column id. An empty column clears the preference.
func (s RedisStore) Set(ctx context.Context, terminal, column string) error {
	if s.Client == nil {
		return errors.New("preference: redis client not configured")
	}
	terminal = strings.TrimSpace(terminal)
	if terminal == "" {
		return ErrInvalidTerminal
	}
	if column == "" {
		return s.Client.Del(ctx, s.key(terminal)).Err()
	}
	return s.Client.Set(ctx, s.key(terminal), column, s.TTL).Err()
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the stored column id.
func (s *MemoryStore) Get(_ context.Context, terminal string) (string, bool, error) {
	terminal = strings.TrimSpace(terminal)
	if terminal == "" {
		return "", false, ErrInvalidTerminal
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[terminal]
	return value, ok, nil
}

// Set stores the column id. An empty column clears the preference.
func (s *MemoryStore) Set(_ context.Context, terminal, column string) error {
	terminal = strings.TrimSpace(terminal)
	if terminal == "" {
		return ErrInvalidTerminal
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]string)
	}
	if column == "" {
		delete(s.values, terminal)
		return nil
	}
	s.values[terminal] = column
	return nil
}
