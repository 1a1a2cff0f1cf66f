package chat

import (
	"sync"
	"sync/atomic"

	"WSChat/logger"
)

// UndeliveredQueue 按收件人排队等待其下次上线的消息。
// 每个用户的队列有上限，满时丢最老的一条并计数。
type UndeliveredQueue struct {
	mu      sync.Mutex
	queues  map[UserID][]*Payload
	limit   int
	dropped atomic.Uint64
}

const defaultQueueLimit = 1024

func NewUndeliveredQueue(limit int) *UndeliveredQueue {
	if limit <= 0 {
		limit = defaultQueueLimit
	}
	return &UndeliveredQueue{
		queues: make(map[UserID][]*Payload),
		limit:  limit,
	}
}

// Enqueue 入队。调用方已把收件人收窄为 uid。
func (q *UndeliveredQueue) Enqueue(uid UserID, p *Payload) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.queues[uid]
	if len(queue) >= q.limit {
		queue = queue[1:]
		n := q.dropped.Add(1)
		logger.Warnf("[Undelivered] queue full for user %d, dropped oldest (total dropped %d)", uid, n)
	}
	q.queues[uid] = append(queue, p)
}

// PopAll 按入队顺序取走全部，队列清空
func (q *UndeliveredQueue) PopAll(uid UserID) []*Payload {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.queues[uid]
	delete(q.queues, uid)
	return out
}

// Size 当前排队数量
func (q *UndeliveredQueue) Size(uid UserID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[uid])
}

// Dropped 因超限被丢弃的消息总数
func (q *UndeliveredQueue) Dropped() uint64 {
	return q.dropped.Load()
}
