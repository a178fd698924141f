package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
)

// errEmitterStopped 已中止或已关闭后继续发送
var errEmitterStopped = errors.New("emitter stopped")

// Emitter 一次补全的输出通道。任务树的所有节点都往同一个通道发帧；
// 关闭幂等，中止帧至多一个，中止后不再发送任何帧
type Emitter struct {
	ch        chan *types.Frame
	stopped   atomic.Bool
	abortOnce sync.Once
	closeOnce sync.Once
}

// NewEmitter 创建带缓冲的输出通道
func NewEmitter(buffer int) *Emitter {
	return &Emitter{ch: make(chan *types.Frame, buffer)}
}

// Frames 只读通道，关闭即流结束
func (e *Emitter) Frames() <-chan *types.Frame {
	return e.ch
}

// Send 阻塞发送，ctx 取消时返回 ctx.Err()
func (e *Emitter) Send(ctx context.Context, f *types.Frame) error {
	if e.stopped.Load() {
		return errEmitterStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case e.ch <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort 尽力投递一个 abort 帧（缓冲区满则放弃），之后拒绝所有发送
func (e *Emitter) Abort(f *types.Frame) {
	e.abortOnce.Do(func() {
		if e.stopped.Swap(true) {
			return
		}
		select {
		case e.ch <- f:
		default:
		}
	})
}

// Close 关闭输出通道，可重复调用
func (e *Emitter) Close() {
	e.closeOnce.Do(func() {
		e.stopped.Store(true)
		close(e.ch)
	})
}
