package triage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMemoryQueueSize = 128

// MemoryQueue is a single-process Queue on a buffered channel. Delayed sends
// are held by timers until due; Close drops any that have not fired.
type MemoryQueue struct {
	ch   chan queueMessage
	done chan struct{}

	mu        sync.Mutex
	timers    map[*time.Timer]struct{}
	closed    bool
	closeOnce sync.Once
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = defaultMemoryQueueSize
	}
	return &MemoryQueue{
		ch:     make(chan queueMessage, buffer),
		done:   make(chan struct{}),
		timers: make(map[*time.Timer]struct{}),
	}
}

func (q *MemoryQueue) Send(ctx context.Context, body string, delay time.Duration) error {
	msg := queueMessage{ID: uuid.NewString(), Body: body, Receives: 1}
	msg.ReceiptHandle = msg.ID

	if delay > 0 {
		q.schedule(msg, delay)
		return nil
	}
	select {
	case q.ch <- msg:
		return nil
	case <-q.done:
		return errQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) schedule(msg queueMessage, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, t)
		q.mu.Unlock()
		select {
		case q.ch <- msg:
		case <-q.done:
		}
	})
	q.timers[t] = struct{}{}
}

// Receive waits up to waitSeconds for the first message, then drains what is
// already buffered up to maxMessages. A zero wait polls once.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	maxMessages = max(maxMessages, 1)

	var first queueMessage
	if waitSeconds <= 0 {
		select {
		case first = <-q.ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			return nil, nil
		}
	} else {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		select {
		case first = <-q.ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, errQueueClosed
		case <-timer.C:
			return nil, nil
		}
	}

	batch := []queueMessage{first}
	for len(batch) < maxMessages {
		select {
		case msg := <-q.ch:
			batch = append(batch, msg)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

// Delete is a no-op; a received message is already gone from the channel.
func (q *MemoryQueue) Delete(context.Context, string) error { return nil }

// Close stops pending delayed deliveries and unblocks receivers.
func (q *MemoryQueue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		for t := range q.timers {
			t.Stop()
		}
		q.timers = nil
		q.mu.Unlock()
		close(q.done)
	})
}

// Scheduled reports how many delayed messages are waiting on timers.
func (q *MemoryQueue) Scheduled() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}
