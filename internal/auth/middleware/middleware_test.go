package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/agentchat-backend/internal/auth"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (m *memCounter) Key(parts ...string) string { return "test:" + strings.Join(parts, ":") }

func (m *memCounter) IncrWindow(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if m.err != nil {
		return 0, 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], window, nil
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextUserID))
	})
	r.GET("/ping", handlers...)
	return r
}

func get(r *gin.Engine, target, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	m := auth.NewJWTManager("secret", "agentchat")
	token, err := m.GenerateToken("u1", time.Minute)
	require.NoError(t, err)
	r := newEngine(JWTAuth(m, logger.NewNop()))

	tests := []struct {
		name     string
		target   string
		header   string
		wantCode int
		wantBody string
	}{
		{name: "bearer header", target: "/ping", header: "Bearer " + token, wantCode: http.StatusOK, wantBody: "u1"},
		{name: "query token", target: "/ping?token=" + token, wantCode: http.StatusOK, wantBody: "u1"},
		{name: "missing", target: "/ping", wantCode: http.StatusUnauthorized},
		{name: "malformed header", target: "/ping", header: "Token " + token, wantCode: http.StatusUnauthorized},
		{name: "bad token", target: "/ping", header: "Bearer nope", wantCode: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, tt.target, tt.header)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	counter := &memCounter{counts: map[string]int64{}}
	setUser := func(c *gin.Context) { c.Set(ContextUserID, c.Query("u")) }
	r := newEngine(setUser, CompletionRateLimiter(counter, 2, 60, logger.NewNop()))

	for i := 0; i < 2; i++ {
		w := get(r, "/ping?u=a", "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := get(r, "/ping?u=a", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	// 其他用户不受影响
	w = get(r, "/ping?u=b", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	counter := &memCounter{err: errors.New("redis down")}
	r := newEngine(RateLimiter(counter, RateLimiterConfig{MaxRequests: 1}, logger.NewNop()))
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, get(r, "/ping", "").Code)
	}
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}
