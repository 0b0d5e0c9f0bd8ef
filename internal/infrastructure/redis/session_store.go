// Package redis holds the consent session store. Sessions must survive the
// cross-origin redirect through the bank's consent page and expire on their
// own when a wizard is abandoned, which is exactly what a TTL'd key gives us.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v7"

	"subsidia/internal/domain/consent"
)

const keyPrefix = "consent:session:"

type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore connects to Redis and verifies the connection.
func NewSessionStore(addr, password string, db int, ttl time.Duration) (*SessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := client.Ping().Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &SessionStore{client: client, ttl: ttl}, nil
}

func (s *SessionStore) Save(ctx context.Context, session *consent.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode consent session: %w", err)
	}
	if err := s.client.WithContext(ctx).Set(keyPrefix+session.Ref, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store consent session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, ref string) (*consent.Session, error) {
	data, err := s.client.WithContext(ctx).Get(keyPrefix + ref).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, consent.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load consent session: %w", err)
	}

	var session consent.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode consent session: %w", err)
	}
	return &session, nil
}

func (s *SessionStore) Delete(ctx context.Context, ref string) error {
	if err := s.client.WithContext(ctx).Del(keyPrefix + ref).Err(); err != nil {
		return fmt.Errorf("failed to delete consent session: %w", err)
	}
	return nil
}

func (s *SessionStore) Close() error {
	return s.client.Close()
}
