package biz

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

// RetryPolicy 冲突重试策略
type RetryPolicy struct {
	MaxRetries      uint64        `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// DefaultRetryPolicy 默认最多重试 4 次
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      4,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

// RetryOnConflict 仅在 ErrConcurrentUpdateConflict 时按指数退避重试 fn，
// 其他错误立即返回
func RetryOnConflict(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		eb.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		eb.MaxInterval = policy.MaxInterval
	}
	eb.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		if err == nil || !errors.Is(err, ErrConcurrentUpdateConflict) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.FromContext(ctx).Warn("额度更新冲突，准备重试",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, policy.MaxRetries), ctx)
	return backoff.RetryNotify(op, b, notify)
}
