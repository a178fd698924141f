package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/lk2023060901/agentchat-backend/internal/pkg/errors"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/response"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/validator"
)

// WindowCounter 固定窗口计数器，由 internal/pkg/redis.Client 实现
type WindowCounter interface {
	Key(parts ...string) string
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RateLimiterConfig 限流配置
type RateLimiterConfig struct {
	// 时间窗口内允许的最大请求数
	MaxRequests int
	// 时间窗口（秒）
	WindowSeconds int
	// 限流策略：user（默认）, endpoint, ip
	Strategy string
}

// RateLimiter 基于 Redis 的固定窗口限流中间件。计数器故障时放行
func RateLimiter(counter WindowCounter, cfg RateLimiterConfig, log *logger.Logger) gin.HandlerFunc {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 100
	}
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 60
	}
	if cfg.Strategy == "" {
		cfg.Strategy = "user"
	}
	window := time.Duration(cfg.WindowSeconds) * time.Second

	return func(c *gin.Context) {
		key := counter.Key(buildRateLimitKey(c, cfg.Strategy)...)

		count, ttl, err := counter.IncrWindow(c.Request.Context(), key, window)
		if err != nil {
			log.Error("rate limiter error", zap.Error(err), zap.String("key", key))
			c.Next()
			return
		}
		if ttl <= 0 {
			ttl = window
		}

		remaining := max(cfg.MaxRequests-int(count), 0)
		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if count > int64(cfg.MaxRequests) {
			retryAfter := int((ttl + time.Second - 1) / time.Second)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			response.ErrorWithCode(c, apperrors.ErrTooManyRequests, fmt.Sprintf("try again in %d seconds", retryAfter))
			c.Abort()
			return
		}
		c.Next()
	}
}

// buildRateLimitKey 构建限流 key 的各段
func buildRateLimitKey(c *gin.Context, strategy string) []string {
	switch strategy {
	case "user":
		// 未认证用户回退到 IP 限流
		if userID := c.GetString(ContextUserID); userID != "" {
			return []string{"rate_limit", "user", userID}
		}
	case "endpoint":
		return []string{"rate_limit", "endpoint", c.FullPath(), validator.ClientIP(c.ClientIP())}
	}
	return []string{"rate_limit", "ip", validator.ClientIP(c.ClientIP())}
}

// CompletionRateLimiter /completion 按用户限流
func CompletionRateLimiter(counter WindowCounter, maxRequests, windowSeconds int, log *logger.Logger) gin.HandlerFunc {
	return RateLimiter(counter, RateLimiterConfig{
		MaxRequests:   maxRequests,
		WindowSeconds: windowSeconds,
		Strategy:      "user",
	}, log)
}
