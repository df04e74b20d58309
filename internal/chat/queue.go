package chat

import (
	"sync"

	"homechat/internal/config"
	"homechat/internal/metrics"
)

// Outbox 接收发往单个连接的已编码帧。Push 不得阻塞。
type Outbox interface {
	Push(frame []byte) bool
}

// Queue 是有界的连接发送队列。写满时按策略丢弃最旧的帧，或者关闭队列让连接断开，
// 慢消费者不会拖住同房间其他成员的投递。
type Queue struct {
	mu      sync.Mutex
	ch      chan []byte
	policy  config.OverflowPolicy
	closed  bool
	dropped int
}

func NewQueue(size int, policy config.OverflowPolicy) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{ch: make(chan []byte, size), policy: policy}
}

// Push 入队一帧；队列已关闭或因溢出而关闭时返回 false。
func (q *Queue) Push(frame []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	for {
		select {
		case q.ch <- frame:
			return true
		default:
		}
		if q.policy == config.OverflowDisconnect {
			metrics.WsOutboundDropped.WithLabelValues("disconnect").Inc()
			q.closeLocked()
			return false
		}
		select {
		case <-q.ch:
			q.dropped++
			metrics.WsOutboundDropped.WithLabelValues("drop_oldest").Inc()
		default:
		}
	}
}

// C 返回供写协程消费的通道，队列关闭后通道也会关闭。
func (q *Queue) C() <-chan []byte { return q.ch }

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closeLocked()
}

func (q *Queue) closeLocked() {
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Dropped 返回因溢出丢弃的帧数。
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
