// Package redis implements a SessionStore on Redis so session state can be
// shared across processes and expire on its own.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	idlink "github.com/jferrer/idlink"
)

const (
	DefaultKeyPrefix = "idlink:session:"
	DefaultTTL       = 7 * 24 * time.Hour
)

// Store implements idlink.SessionStore on Redis. Each session is one JSON
// value under KeyPrefix+handle with a TTL refreshed on every write.
type Store struct {
	Client    redis.UniversalClient
	KeyPrefix string
	TTL       time.Duration
}

func NewStore(client redis.UniversalClient) *Store {
	return &Store{Client: client}
}

func (s *Store) key(handle string) string {
	prefix := s.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return prefix + handle
}

func (s *Store) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultTTL
}

// Get returns the state for handle. Missing or expired handles are
// anonymous sessions, not errors.
func (s *Store) Get(ctx context.Context, handle string) (*idlink.SessionState, error) {
	data, err := s.Client.Get(ctx, s.key(handle)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return &idlink.SessionState{}, nil
		}
		return nil, fmt.Errorf("reading session %s: %w", handle, err)
	}
	var state idlink.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", handle, err)
	}
	return &state, nil
}

func (s *Store) Set(ctx context.Context, handle string, state *idlink.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := s.Client.Set(ctx, s.key(handle), data, s.ttl()).Err(); err != nil {
		return fmt.Errorf("writing session %s: %w", handle, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, handle string) error {
	if err := s.Client.Del(ctx, s.key(handle)).Err(); err != nil {
		return fmt.Errorf("clearing session %s: %w", handle, err)
	}
	return nil
}
