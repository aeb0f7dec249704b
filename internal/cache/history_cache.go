package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"github.com/dnaforca/backend/internal/model"
)

// HistoryCache keeps recently served chat histories in Redis. Because
// messages are persisted through the queue, a just-written message may not
// be in SQLite yet; the dirty marker keeps reads off the cache until the
// worker has caught up.
type HistoryCache struct {
	client         *redisv9.Client
	historyTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

func NewHistoryCache(client *redisv9.Client, historyTTL, dirtyMarkerTTL time.Duration) *HistoryCache {
	if historyTTL <= 0 {
		historyTTL = 60 * time.Second
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = 5 * time.Second
	}
	return &HistoryCache{
		client:         client,
		historyTTL:     historyTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

// GetHistory returns the cached history, or nil on a miss. A cached empty
// history comes back as an empty non-nil slice so callers can tell the two
// apart.
func (c *HistoryCache) GetHistory(ctx context.Context, sessionID uint) ([]model.ChatMessage, error) {
	raw, err := c.client.Get(ctx, c.historyKey(sessionID)).Result()
	if err == redisv9.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get history failed: %w", err)
	}

	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	if messages == nil {
		messages = []model.ChatMessage{}
	}
	return messages, nil
}

func (c *HistoryCache) SetHistory(ctx context.Context, sessionID uint, messages []model.ChatMessage) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal history cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.historyKey(sessionID), payload, c.historyTTL).Err(); err != nil {
		return fmt.Errorf("redis set history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) DeleteHistory(ctx context.Context, sessionID uint) error {
	if err := c.client.Del(ctx, c.historyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) MarkDirty(ctx context.Context, sessionID uint) error {
	if err := c.client.Set(ctx, c.dirtyKey(sessionID), "1", c.dirtyMarkerTTL).Err(); err != nil {
		return fmt.Errorf("redis set dirty marker failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) IsDirty(ctx context.Context, sessionID uint) (bool, error) {
	exists, err := c.client.Exists(ctx, c.dirtyKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

func (c *HistoryCache) historyKey(sessionID uint) string {
	return fmt.Sprintf("chat:history:%d", sessionID)
}

func (c *HistoryCache) dirtyKey(sessionID uint) string {
	return fmt.Sprintf("chat:history:dirty:%d", sessionID)
}
