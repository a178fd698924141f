package workerpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("worker pool is closed")

// Config Worker Pool 配置
type Config struct {
	Workers int `mapstructure:"workers"` // 最大并发 worker 数
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{Workers: 16}
}

// Statistics 统计信息
type Statistics struct {
	Submitted int64 // 已提交
	Completed int64 // 已完成
	Panicked  int64 // panic 次数
}

// Pool 基于 ants 的有界 goroutine 池。
// 池满时 Submit 阻塞直到有空闲 worker
type Pool struct {
	pool *ants.Pool

	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64

	logger *zap.Logger
}

// New 创建 Worker Pool
func New(config Config, logger *zap.Logger) (*Pool, error) {
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{logger: logger}
	antsPool, err := ants.NewPool(config.Workers,
		ants.WithPanicHandler(func(err interface{}) {
			p.panicked.Add(1)
			p.logger.Error("worker panic", zap.Any("error", err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}
	p.pool = antsPool
	return p, nil
}

// Submit 提交任务
func (p *Pool) Submit(task func()) error {
	p.submitted.Add(1)
	err := p.pool.Submit(func() {
		defer p.completed.Add(1)
		task()
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// RunAll 提交一批任务并等待全部结束。
// 提交失败时已提交的任务仍会等待完成
func (p *Pool) RunAll(tasks ...func()) error {
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		if err := p.Submit(func() {
			defer wg.Done()
			task()
		}); err != nil {
			wg.Done()
			wg.Wait()
			return err
		}
	}
	wg.Wait()
	return nil
}

// Running 获取运行中的 worker 数量
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Cap 池容量
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Stats 获取统计信息
func (p *Pool) Stats() Statistics {
	return Statistics{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// Shutdown 关闭
func (p *Pool) Shutdown() {
	p.pool.Release()
}
