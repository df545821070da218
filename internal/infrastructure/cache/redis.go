package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/offlinecache/internal/domain/model"
)

const (
	// progressKeyPrefix is the prefix for progress snapshot keys in Redis.
	progressKeyPrefix = "progress:"
	// sessionKeyPrefix is the prefix for session sweep markers in Redis.
	sessionKeyPrefix = "session:"
)

// progressJSON is the JSON representation of a progress snapshot.
// Using explicit struct avoids coupling to domain model's JSON tags.
type progressJSON struct {
	VideoID   string  `json:"video_id"`
	Progress  float64 `json:"progress"`
	Status    string  `json:"status"`
	UpdatedAt string  `json:"updated_at"`
}

// RedisProgressCache implements ProgressCache using Redis as the backing store.
type RedisProgressCache struct {
	client *redis.Client
}

// Compile-time verification that RedisProgressCache implements ProgressCache.
var _ ProgressCache = (*RedisProgressCache)(nil)

// NewRedisProgressCache creates a new Redis-backed progress cache.
func NewRedisProgressCache(client *redis.Client) *RedisProgressCache {
	return &RedisProgressCache{
		client: client,
	}
}

// Get retrieves a progress snapshot from Redis.
// Returns nil, nil on cache miss.
func (c *RedisProgressCache) Get(ctx context.Context, userID, videoID string) (*model.DownloadProgress, error) {
	data, err := c.client.Get(ctx, c.progressKey(userID, videoID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	progress, err := c.deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("deserialize progress: %w", err)
	}

	return progress, nil
}

// Set stores a progress snapshot in Redis with the specified TTL.
func (c *RedisProgressCache) Set(ctx context.Context, userID string, progress *model.DownloadProgress, ttl time.Duration) error {
	data, err := c.serialize(progress)
	if err != nil {
		return fmt.Errorf("serialize progress: %w", err)
	}

	if err := c.client.Set(ctx, c.progressKey(userID, progress.VideoID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a progress snapshot from Redis.
func (c *RedisProgressCache) Delete(ctx context.Context, userID, videoID string) error {
	if err := c.client.Del(ctx, c.progressKey(userID, videoID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// MarkSession sets the session marker only if it does not exist yet.
func (c *RedisProgressCache) MarkSession(ctx context.Context, userID, sessionID string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.sessionKey(userID, sessionID), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// ClearSession removes the session marker. Missing markers are not an error.
func (c *RedisProgressCache) ClearSession(ctx context.Context, userID, sessionID string) error {
	if err := c.client.Del(ctx, c.sessionKey(userID, sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (c *RedisProgressCache) sessionKey(userID, sessionID string) string {
	return sessionKeyPrefix + userID + ":" + sessionID
}

// progressKey constructs the Redis key for a progress snapshot.
func (c *RedisProgressCache) progressKey(userID, videoID string) string {
	return progressKeyPrefix + userID + ":" + videoID
}

func (c *RedisProgressCache) serialize(p *model.DownloadProgress) ([]byte, error) {
	return json.Marshal(progressJSON{
		VideoID:   p.VideoID,
		Progress:  p.Progress,
		Status:    string(p.Status),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (c *RedisProgressCache) deserialize(data []byte) (*model.DownloadProgress, error) {
	var v progressJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}

	status := model.Status(v.Status)
	if !status.IsValid() && status != model.StatusIdle {
		return nil, fmt.Errorf("invalid status %q", v.Status)
	}

	return &model.DownloadProgress{
		VideoID:  v.VideoID,
		Progress: v.Progress,
		Status:   status,
	}, nil
}
