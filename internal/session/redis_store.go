// Package session provides the Redis-backed stores shared across requests:
// login sessions and the render cache for public share pages.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginData is stored per active session token.
type LoginData struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore holds login sessions keyed by hashed session token.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "login:"}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "login:"}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// SaveLogin stores a login session under the token hash with the session TTL.
func (s *RedisStore) SaveLogin(ctx context.Context, tokenHash, userID, username string, ttl time.Duration) error {
	data := LoginData{
		UserID:    userID,
		Username:  username,
		CreatedAt: time.Now(),
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal login data: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := s.client.Set(ctx, s.key(tokenHash), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save login session: %w", err)
	}
	return nil
}

// LookupLogin resolves a token hash to the login data, failing for unknown or
// expired sessions.
func (s *RedisStore) LookupLogin(ctx context.Context, tokenHash string) (LoginData, error) {
	jsonData, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if err == redis.Nil {
		return LoginData{}, fmt.Errorf("session not found or expired")
	}
	if err != nil {
		return LoginData{}, fmt.Errorf("lookup login session: %w", err)
	}

	var data LoginData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return LoginData{}, fmt.Errorf("unmarshal login data: %w", err)
	}
	return data, nil
}

// RevokeLogin deletes a login session.
func (s *RedisStore) RevokeLogin(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke login session: %w", err)
	}
	return nil
}

// Client exposes the underlying connection for other stores on the same
// Redis instance.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
