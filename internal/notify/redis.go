package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/gr4yha7/ghosttab-backend/internal/models"
)

const (
	channelPrefix = "notifications:"
	EmailQueueKey = "email_queue"
)

// Channel is the pub/sub channel a user's clients subscribe to
func Channel(userID string) string {
	return channelPrefix + userID
}

// RedisPublisher publishes notifications on per-user redis channels
type RedisPublisher struct {
	rdb redis.Cmdable
}

func NewRedisPublisher(rdb redis.Cmdable) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, userID string, n models.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return p.rdb.Publish(ctx, Channel(userID), string(payload)).Err()
}

// RedisMailer pushes outbound email onto the queue drained by the mail worker
type RedisMailer struct {
	rdb redis.Cmdable
}

func NewRedisMailer(rdb redis.Cmdable) *RedisMailer {
	return &RedisMailer{rdb: rdb}
}

func (m *RedisMailer) Enqueue(ctx context.Context, e models.Email) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}
	return m.rdb.RPush(ctx, EmailQueueKey, string(payload)).Err()
}
