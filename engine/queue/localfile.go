package queue

import (
	"sync"
	"time"
)

// LocalFileQueue is the LocalFile driver: an in-memory,
// channel-backed queue with the same dequeue-count/poison bookkeeping as
// JetStreamQueue, used for local development, tests, and running the
// Distributed orchestrator without a broker.
type LocalFileQueue struct {
	opts   Options
	mu     sync.Mutex
	items  []*localItem
	notify chan struct{}
	poison [][]byte
	closed bool
	done   chan struct{}
}

type localItem struct {
	data         []byte
	dequeueCount int
	visibleAt    time.Time
}

// NewLocalFileQueue creates an unbounded in-memory queue.
func NewLocalFileQueue(opts Options) *LocalFileQueue {
	return &LocalFileQueue{
		opts:   opts,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (q *LocalFileQueue) Enqueue(payload []byte) error {
	q.mu.Lock()
	q.items = append(q.items, &localItem{data: payload, dequeueCount: 0})
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Poison returns a snapshot of messages that exceeded the retry threshold —
// exposed for tests verifying S5.
func (q *LocalFileQueue) Poison() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.poison))
	copy(out, q.poison)
	return out
}

func (q *LocalFileQueue) Subscribe(h Handler) error {
	go q.pollLoop(h)
	return nil
}

func (q *LocalFileQueue) pollLoop(h Handler) {
	delay := time.Duration(q.opts.PollDelayMsecs) * time.Millisecond
	ticker := time.NewTicker(delay)
	defer ticker.Stop()
	for {
		select {
		case <-q.done:
			return
		case <-ticker.C:
		case <-q.notify:
		}
		q.drainOnce(h)
	}
}

func (q *LocalFileQueue) drainOnce(h Handler) {
	for {
		item := q.popReady()
		if item == nil {
			return
		}
		item.dequeueCount++

		if item.dequeueCount > q.opts.MaxRetriesBeforePoison {
			q.mu.Lock()
			q.poison = append(q.poison, item.data)
			q.mu.Unlock()
			continue
		}

		err := h(Message{Data: item.data, DequeueCount: item.dequeueCount})
		if err != nil {
			item.visibleAt = time.Now().Add(time.Duration(item.dequeueCount) * time.Second)
			q.mu.Lock()
			q.items = append(q.items, item)
			q.mu.Unlock()
			continue
		}
		// Acked: dropped.
	}
}

func (q *LocalFileQueue) popReady() *localItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	for i, it := range q.items {
		if it.visibleAt.IsZero() || !it.visibleAt.After(now) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return it
		}
	}
	return nil
}

func (q *LocalFileQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
	return nil
}

var _ Queue = (*LocalFileQueue)(nil)
