package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"siniopay/internal/logger"

	"github.com/redis/go-redis/v9"
)

const (
	queueKey       = "notifications"
	failedQueueKey = "notifications:failed"
)

// Dispatcher enqueues notification events for asynchronous delivery.
type Dispatcher struct {
	redis redis.Cmdable
}

func NewDispatcher(client redis.Cmdable) *Dispatcher {
	return &Dispatcher{redis: client}
}

func (d *Dispatcher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(Job{Event: ev, Created: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := d.redis.LPush(ctx, queueKey, data).Err(); err != nil {
		return fmt.Errorf("queue notification for %s: %w", ev.UserID, err)
	}

	logger.Debug("notification queued", "type", ev.Type, "user_id", ev.UserID, "transaction_id", ev.TransactionID)
	return nil
}

func (d *Dispatcher) QueueLength(ctx context.Context) int64 {
	length, _ := d.redis.LLen(ctx, queueKey).Result()
	return length
}
