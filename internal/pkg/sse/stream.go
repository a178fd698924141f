package sse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// ErrStreamClosed 流已关闭
var ErrStreamClosed = errors.New("stream closed")

// Stream 基于 gin 响应的 SSE 输出流
type Stream struct {
	ctx       *gin.Context
	heartbeat time.Duration
	onError   func(error)

	mu      sync.Mutex
	started bool
	closed  atomic.Bool
}

// Option Stream 配置项
type Option func(*Stream)

// WithHeartbeat 设置心跳间隔(0 表示禁用心跳)
func WithHeartbeat(interval time.Duration) Option {
	return func(s *Stream) { s.heartbeat = interval }
}

// OnError 设置写入错误钩子
func OnError(fn func(error)) Option {
	return func(s *Stream) { s.onError = fn }
}

// NewStream 创建 Stream，首次写入时发送响应头
func NewStream(c *gin.Context, opts ...Option) *Stream {
	s := &Stream{ctx: c, heartbeat: 15 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stream) start() {
	if s.started {
		return
	}
	s.started = true

	s.ctx.Header("Content-Type", "text/event-stream")
	s.ctx.Header("Cache-Control", "no-cache")
	s.ctx.Header("Connection", "keep-alive")
	s.ctx.Header("X-Accel-Buffering", "no")
	s.ctx.Status(200)
	s.ctx.Writer.WriteHeaderNow()
}

// Send 写入一条 data 事件并刷新(并发安全)
func (s *Stream) Send(data any) error {
	return s.write(Event{Data: data})
}

// SendEvent 写入带类型的事件
func (s *Stream) SendEvent(eventType string, data any) error {
	return s.write(Event{Type: eventType, Data: data})
}

func (s *Stream) write(e Event) error {
	payload, err := e.FormatSSE()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.writeRaw(payload)
}

func (s *Stream) writeRaw(payload string) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.start()
	if _, err := s.ctx.Writer.WriteString(payload); err != nil {
		if s.onError != nil {
			s.onError(err)
		}
		s.closed.Store(true)
		return err
	}
	s.ctx.Writer.Flush()
	return nil
}

// Close 关闭流(幂等)，之后的写入返回 ErrStreamClosed
func (s *Stream) Close() error {
	s.closed.Store(true)
	return nil
}

// IsClosed 检查是否已关闭
func (s *Stream) IsClosed() bool {
	return s.closed.Load()
}

// Relay 把 frames 中的数据依次写出，直到 frames 关闭、客户端断开或写入失败。
// 空闲时按心跳间隔发送注释行
func Relay[T any](ctx context.Context, s *Stream, frames <-chan T) error {
	var tick <-chan time.Time
	if s.heartbeat > 0 {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if err := s.Send(f); err != nil {
				return err
			}
		case <-tick:
			if err := s.writeRaw(": heartbeat\n\n"); err != nil {
				return err
			}
		}
	}
}
