package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"siniopay/internal/api"
	"siniopay/internal/auth"
	"siniopay/internal/logger"
	"siniopay/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	IdempotencyHeader       = "Idempotency-Key"
	IdempotencyReplayHeader = "X-Idempotency-Replayed"

	maxIdempotencyKeyLength = 128
	pendingMarker           = "pending"
)

type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type bodyRecorder struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key from the same user. A key whose first request is still
// running gets 409. A 5xx releases the key only when the handler marked it
// with api.MarkNothingWritten. Any other 5xx is stored like a success, since
// its write may have committed and a fresh run could apply it twice.
// Requests without the header pass through.
func IdempotencyMiddleware(client redis.Cmdable, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: "Idempotency-Key is too long"})
			return
		}

		userID, _ := auth.GetUserID(c)
		redisKey := "idempotency:" + userID + ":" + c.Request.Method + ":" + c.FullPath() + ":" + key
		ctx := c.Request.Context()

		acquired, err := client.SetNX(ctx, redisKey, pendingMarker, ttl).Result()
		if err != nil {
			logger.Error("idempotency store unavailable", "error", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, api.ErrorResponse{Error: "idempotency store unavailable"})
			return
		}

		if !acquired {
			replay(c, client, redisKey)
			return
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = rec
		c.Next()

		status := c.Writer.Status()
		body := rec.body.Bytes()
		switch {
		case status >= http.StatusInternalServerError && api.NothingWritten(c):
			release(c, client, redisKey, key)
			return
		case !json.Valid(body) && status < http.StatusInternalServerError:
			release(c, client, redisKey, key)
			return
		case !json.Valid(body):
			// The write may have landed. The pending marker holds the key until the TTL.
			logger.Warn("keeping idempotency key after unrecorded server error", "key", key, "status", status)
			return
		}

		payload, err := json.Marshal(cachedResponse{Status: status, Body: body})
		if err == nil {
			err = client.Set(ctx, redisKey, payload, ttl).Err()
		}
		if err != nil {
			logger.Error("failed to save idempotent response", "key", key, "error", err)
		}
	}
}

func release(c *gin.Context, client redis.Cmdable, redisKey, key string) {
	if err := client.Del(c.Request.Context(), redisKey).Err(); err != nil {
		logger.Warn("failed to release idempotency key", "key", key, "error", err)
	}
}

func replay(c *gin.Context, client redis.Cmdable, redisKey string) {
	raw, err := client.Get(c.Request.Context(), redisKey).Result()
	switch {
	case errors.Is(err, redis.Nil), err == nil && raw == pendingMarker:
		c.AbortWithStatusJSON(http.StatusConflict, api.ErrorResponse{Error: "a request with this Idempotency-Key is already in progress"})
		return
	case err != nil:
		logger.Error("idempotency store unavailable", "error", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, api.ErrorResponse{Error: "idempotency store unavailable"})
		return
	}

	var cached cachedResponse
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		logger.Error("corrupt idempotent response", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, api.ErrorResponse{Error: "internal error"})
		return
	}

	metrics.RecordIdempotentReplay()
	c.Header(IdempotencyReplayHeader, "true")
	c.Data(cached.Status, "application/json; charset=utf-8", cached.Body)
	c.Abort()
}
