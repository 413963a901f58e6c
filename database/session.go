package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bantahserver/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const sessionKeyPrefix = "session:"

// ErrSessionNotFound はセッションが存在しないか期限切れのとき
var ErrSessionNotFound = errors.New("session not found")

// SessionStore は認証済みユーザーをセッションIDで保持する
type SessionStore interface {
	Create(ctx context.Context, user models.AuthUser) (string, error)
	Get(ctx context.Context, sessionID string) (*models.AuthUser, error)
	Delete(ctx context.Context, sessionID string) error
}

// RedisSessionStore は "session:<uuid>" キーにJSONで保存する
type RedisSessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSessionStore(rdb *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSessionStore{rdb: rdb, ttl: ttl}
}

func (s *RedisSessionStore) Create(ctx context.Context, user models.AuthUser) (string, error) {
	sessionID := uuid.New().String()

	sessionInfoJSON, err := json.Marshal(user)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKeyPrefix+sessionID, sessionInfoJSON, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return sessionID, nil
}

func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (*models.AuthUser, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	sessionInfoJSON, err := s.rdb.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var user models.AuthUser
	if err := json.Unmarshal(sessionInfoJSON, &user); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &user, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, sessionKeyPrefix+sessionID).Err()
}
