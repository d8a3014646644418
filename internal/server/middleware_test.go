package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"siniopay/internal/auth"
	"siniopay/internal/logger"
	"siniopay/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())

	var seen string
	router.GET("/ping", func(c *gin.Context) {
		seen = c.GetString(ctxRequestID)
		assert.NotSame(t, logger.Logger(), logger.FromContext(c.Request.Context()))
		c.Status(http.StatusOK)
	})

	t.Run("propagates caller id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(requestIDHeader, "req-42")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "req-42", w.Header().Get(requestIDHeader))
		assert.Equal(t, "req-42", seen)
	})

	t.Run("mints id when absent or oversized", func(t *testing.T) {
		for _, incoming := range []string{"", strings.Repeat("x", maxRequestIDLen+1)} {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if incoming != "" {
				req.Header.Set(requestIDHeader, incoming)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Len(t, w.Header().Get(requestIDHeader), 36)
			assert.Equal(t, w.Header().Get(requestIDHeader), seen)
		}
	})
}

func TestMetricsMiddleware_LabelsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.HTTPRequestsTotal.Reset()

	router := gin.New()
	router.Use(MetricsMiddleware())
	router.GET("/transactions/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for _, path := range []string{"/transactions/a", "/transactions/b", "/nowhere"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/transactions/:id", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestRequestLoggingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID(), RequestLoggingMiddleware())
	router.GET("/boom", func(c *gin.Context) {
		c.Set(auth.CtxUserID, "user-1")
		_ = c.Error(assert.AnError)
		c.Status(http.StatusInternalServerError)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 2, time.Minute)
	now := time.Now()

	ok, _ := rl.Allow("user:a", now)
	assert.True(t, ok)
	ok, _ = rl.Allow("user:a", now)
	assert.True(t, ok)

	ok, wait := rl.Allow("user:a", now)
	assert.False(t, ok)
	assert.InDelta(t, time.Second.Seconds(), wait.Seconds(), 0.01)

	ok, _ = rl.Allow("user:b", now)
	assert.True(t, ok, "buckets are per key")

	ok, _ = rl.Allow("user:a", now.Add(time.Second))
	assert.True(t, ok, "a refused request does not consume a token")
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(1, 1, time.Minute)
	now := time.Now()

	rl.Allow("ip:1.1.1.1", now.Add(-2*time.Minute))
	rl.Allow("ip:2.2.2.2", now)

	assert.Equal(t, 1, rl.Sweep(now))
	assert.Len(t, rl.buckets, 1)
	assert.Contains(t, rl.buckets, "ip:2.2.2.2")
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics.RateLimitedTotal.Reset()

	router := gin.New()
	router.POST("/transfers", func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			c.Set(auth.CtxUserID, id)
		}
		c.Next()
	}, RateLimitMiddleware(NewRateLimiter(0.5, 1, time.Minute), "transfers"), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	send := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/transfers", nil)
		if user != "" {
			req.Header.Set("X-Test-User", user)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusCreated, send("alice").Code)

	w := send("alice")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())

	assert.Equal(t, http.StatusCreated, send("bob").Code, "users do not share a bucket")
	assert.Equal(t, http.StatusCreated, send("").Code, "anonymous callers are keyed by IP")
	assert.Equal(t, http.StatusTooManyRequests, send("").Code)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("transfers")))
}

func TestCorsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware())
	router.POST("/transfers", func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/transfers", nil))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/transfers", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
