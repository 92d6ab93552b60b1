package httpx

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }
	h := rl.Middleware()(okHandler())

	call := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		return rw.Code
	}

	assert.Equal(t, http.StatusOK, call())
	assert.Equal(t, http.StatusOK, call())
	assert.Equal(t, http.StatusTooManyRequests, call())

	now = now.Add(61 * time.Second)
	assert.Equal(t, http.StatusOK, call())
}

func TestRequestIDEchoed(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rw.Header().Get(RequestIDHeader))

	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(rw.Header().Get(RequestIDHeader))
	assert.NoError(t, err)
}

func TestRequestIDRejectsUnsafeClientValues(t *testing.T) {
	h := WithRequestID(okHandler())
	for _, id := range []string{"two words", "line\nbreak", strings.Repeat("a", 129)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, id)
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)

		got := rw.Header().Get(RequestIDHeader)
		assert.NotEqual(t, id, got)
		_, err := uuid.Parse(got)
		assert.NoError(t, err, "client id %q", id)
	}
}

func TestWithRecover(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), WithRequestID, WithRecover(logger))

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rw.Code)
}

func TestOnlyFor(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
	}
	h := OnlyFor("/api/v1/public/", deny)(okHandler())

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots", nil))
	assert.Equal(t, http.StatusForbidden, rw.Code)

	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/v1/blocks", nil))
	assert.Equal(t, http.StatusOK, rw.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := WithCORS(CORSPolicy{
		AllowedOrigins: []string{"https://salon.example"},
		AllowedMethods: []string{"GET", "POST"},
		MaxAge:         time.Hour,
	})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/public/book", nil)
	req.Header.Set("Origin", "https://salon.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusNoContent, rw.Code)
	assert.Equal(t, "https://salon.example", rw.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "3600", rw.Header().Get("Access-Control-Max-Age"))
}

func unreachableRedis(t *testing.T) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisRateLimiterWithoutRedis(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rl := NewRedisRateLimiter(unreachableRedis(t), 5, time.Minute, "")

	rw := httptest.NewRecorder()
	rl.Middleware(logger, true)(okHandler()).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots", nil))
	assert.Equal(t, http.StatusOK, rw.Code)

	rw = httptest.NewRecorder()
	rl.Middleware(logger, false)(okHandler()).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rw.Code)
}

func TestRedisRateLimiterWindowKeys(t *testing.T) {
	rl := NewRedisRateLimiter(unreachableRedis(t), 5, time.Minute, "")
	at := time.Date(2025, 6, 10, 9, 0, 15, 0, time.UTC)

	assert.Equal(t, "salonbook:ratelimit:10.0.0.1:1749546000", rl.key("10.0.0.1", at))
	assert.Equal(t, rl.key("10.0.0.1", at), rl.key("10.0.0.1", at.Add(44*time.Second)))
	assert.NotEqual(t, rl.key("10.0.0.1", at), rl.key("10.0.0.1", at.Add(45*time.Second)))
	assert.Equal(t, 45, rl.retryAfter(at))
	assert.Equal(t, 1, rl.retryAfter(at.Add(44*time.Second+500*time.Millisecond)))
}
