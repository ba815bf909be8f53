package events

import (
	"context"
	"errors"
	"sync"
)

// MemoryBus 使用 channel 模拟事件总线，主要用于测试和单机部署。
type MemoryBus struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewMemoryBus 创建一个内存总线。
func NewMemoryBus(size int) *MemoryBus {
	if size <= 0 {
		size = 256
	}
	return &MemoryBus{ch: make(chan Event, size)}
}

// Publish 将事件投递到总线。缓冲已满时丢弃而不阻塞结算路径。
func (b *MemoryBus) Publish(_ context.Context, event Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return errors.New("事件总线已关闭")
	}
	select {
	case b.ch <- event:
		return nil
	default:
		return errors.New("事件总线缓冲已满")
	}
}

// Consume 启动指定数量的工作协程消费总线上的事件。
func (b *MemoryBus) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-b.ch:
					if !ok {
						return
					}
					_ = handler(ctx, event)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Drain 同步取走当前缓冲的全部事件，供测试断言使用。
func (b *MemoryBus) Drain() []Event {
	var drained []Event
	for {
		select {
		case event := <-b.ch:
			drained = append(drained, event)
		default:
			return drained
		}
	}
}

// Close 关闭内存总线。
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if !b.closed {
		close(b.ch)
		b.closed = true
	}
	b.mu.Unlock()
	return nil
}

var _ Bus = (*MemoryBus)(nil)
