package crawlers

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed 队列已关闭,不再接受新元素
var ErrQueueClosed = errors.New("队列已关闭")

// Queue 无界并发安全队列
// 生产者通过Close声明不再有新元素,消费者在队列关闭且取空后退出
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
	closed bool
	pushed int
}

// NewQueue 创建队列
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{})}
}

// wake 唤醒所有等待者,调用方持有锁
func (q *Queue[T]) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// Push 追加元素
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, item)
	q.pushed++
	q.wake()
	return nil
}

// Pop 取出队首元素
// 队列为空时阻塞;队列关闭且为空或ctx取消时返回false
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		if q.closed {
			q.mu.Unlock()
			return zero, false
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, false
		case <-wait:
		}
	}
}

// Close 关闭队列,可重复调用
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		q.wake()
	}
}

// Closed 是否已关闭
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len 当前待处理数量
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pushed 累计入队数量
func (q *Queue[T]) Pushed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushed
}
