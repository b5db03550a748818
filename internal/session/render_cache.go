package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RenderCache memoizes rendered share pages keyed by the exact raw-content
// URL. Entries are add-only: once a URL has been rendered successfully the
// stored pair is reused as-is until the TTL evicts it. Writes use SETNX, so a
// concurrent miss for the same URL costs a redundant render but can never
// corrupt or overwrite an entry.
type RenderCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type renderEntry struct {
	Content string `json:"content"`
	TOC     string `json:"toc"`
}

func NewRenderCache(client *redis.Client, ttl time.Duration) *RenderCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RenderCache{client: client, prefix: "render:", ttl: ttl}
}

// Get returns the cached (content, toc) pair for the URL, if present.
func (c *RenderCache) Get(ctx context.Context, url string) (content, toc string, ok bool, err error) {
	jsonData, err := c.client.Get(ctx, c.prefix+url).Result()
	if err == redis.Nil {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("render cache get: %w", err)
	}
	var entry renderEntry
	if err := json.Unmarshal([]byte(jsonData), &entry); err != nil {
		return "", "", false, fmt.Errorf("render cache decode: %w", err)
	}
	return entry.Content, entry.TOC, true, nil
}

// Add stores a successfully rendered pair unless the URL already has an
// entry. Failed fetches and decode errors must not be added, so a later
// request can retry.
func (c *RenderCache) Add(ctx context.Context, url, content, toc string) error {
	jsonData, err := json.Marshal(renderEntry{Content: content, TOC: toc})
	if err != nil {
		return fmt.Errorf("render cache encode: %w", err)
	}
	if err := c.client.SetNX(ctx, c.prefix+url, jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("render cache add: %w", err)
	}
	return nil
}
