package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"siniopay/internal/logger"
	"siniopay/internal/metrics"

	"github.com/redis/go-redis/v9"
)

const (
	maxTries    = 3
	pollTimeout = 2 * time.Second
)

// RecipientResolver looks up where a user's notifications should go.
type RecipientResolver interface {
	Resolve(ctx context.Context, userID string) (Recipient, error)
}

type RecipientFunc func(ctx context.Context, userID string) (Recipient, error)

func (f RecipientFunc) Resolve(ctx context.Context, userID string) (Recipient, error) {
	return f(ctx, userID)
}

// Worker drains the notification queue and delivers each event through the
// sender. Failed deliveries are requeued up to maxTries, then parked on the
// failed list.
type Worker struct {
	redis      redis.Cmdable
	resolver   RecipientResolver
	sender     Sender
	retryDelay time.Duration
}

func NewWorker(client redis.Cmdable, resolver RecipientResolver, sender Sender) *Worker {
	return &Worker{
		redis:      client,
		resolver:   resolver,
		sender:     sender,
		retryDelay: 5 * time.Second,
	}
}

func (w *Worker) Start(ctx context.Context) {
	logger.Info("Notification worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Notification worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *Worker) processNext(ctx context.Context) {
	result, err := w.redis.BRPop(ctx, pollTimeout, queueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			logger.Warn("notification queue poll failed", "error", err)
			time.Sleep(time.Second)
		}
		return
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		logger.Error("bad notification payload", "error", err)
		return
	}

	job.Tries++
	if err := w.deliver(ctx, job.Event); err != nil {
		logger.Error("notification delivery failed", "type", job.Event.Type, "user_id", job.Event.UserID, "attempt", job.Tries, "error", err)
		metrics.RecordNotification(string(job.Event.Type), "failed")

		var pushErr error
		if job.Tries < maxTries {
			if w.retryDelay > 0 {
				time.Sleep(w.retryDelay)
			}
			pushErr = w.requeue(ctx, job)
		} else {
			pushErr = w.saveFailed(ctx, job, err)
		}
		if pushErr != nil {
			metrics.RecordNotification(string(job.Event.Type), "lost")
			logger.Error("notification lost", "type", job.Event.Type, "user_id", job.Event.UserID, "transaction_id", job.Event.TransactionID, "attempt", job.Tries, "error", pushErr)
		}
		return
	}

	metrics.RecordNotification(string(job.Event.Type), "sent")
	if length, err := w.redis.LLen(ctx, queueKey).Result(); err == nil {
		metrics.NotificationQueueLength.Set(float64(length))
	}
}

func (w *Worker) deliver(ctx context.Context, ev Event) error {
	to, err := w.resolver.Resolve(ctx, ev.UserID)
	if err != nil {
		return err
	}
	subject, body := render(ev, to.Name)
	return w.sender.Send(ctx, to, subject, body)
}

func (w *Worker) requeue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := w.redis.LPush(context.WithoutCancel(ctx), queueKey, data).Err(); err != nil {
		return fmt.Errorf("requeue notification: %w", err)
	}
	return nil
}

func (w *Worker) saveFailed(ctx context.Context, job Job, cause error) error {
	failed := map[string]interface{}{
		"job":   job,
		"error": cause.Error(),
		"time":  time.Now(),
	}
	data, err := json.Marshal(failed)
	if err != nil {
		return err
	}
	if err := w.redis.LPush(context.WithoutCancel(ctx), failedQueueKey, data).Err(); err != nil {
		return fmt.Errorf("park failed notification: %w", err)
	}
	logger.Error("notification moved to failed queue", "user_id", job.Event.UserID, "transaction_id", job.Event.TransactionID)
	return nil
}
