// Package notify decouples notification delivery from signal execution.
package notify

import (
	"context"
	"sync"
	"time"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

const sinkTimeout = 10 * time.Second

// Queue is a bounded, non-blocking ports.EventPublisher that fans out to sinks.
type Queue struct {
	events chan domain.Notification
	sinks  []ports.Notifier
	logger ports.Logger

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

var _ ports.EventPublisher = (*Queue)(nil)

// NewQueue creates a queue holding at most size pending events.
func NewQueue(size int, logger ports.Logger, sinks ...ports.Notifier) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{
		events: make(chan domain.Notification, size),
		sinks:  sinks,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Publish enqueues n without blocking. Events are dropped with a warning when
// the queue is full or closed.
func (q *Queue) Publish(n domain.Notification) {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn(context.Background(), "Notification dropped: queue closed", fields(n))
		return
	}
	select {
	case q.events <- n:
	default:
		q.logger.Warn(context.Background(), "Notification dropped: queue full", fields(n))
	}
}

// Run delivers events until the queue is closed and drained. Sink errors are
// logged and never propagated.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	for n := range q.events {
		q.deliver(ctx, n)
	}
}

func (q *Queue) deliver(ctx context.Context, n domain.Notification) {
	for _, sink := range q.sinks {
		sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
		if err := sink.Notify(sinkCtx, n); err != nil {
			q.logger.Error(ctx, err, "Notification delivery failed", fields(n))
		}
		cancel()
	}
}

// Close stops accepting events and waits for Run to drain the queue or for
// ctx to expire.
func (q *Queue) Close(ctx context.Context) error {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.events)
		q.mu.Unlock()
	})
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func fields(n domain.Notification) map[string]interface{} {
	return map[string]interface{}{"userID": n.UserID, "action": n.Action, "symbol": n.Symbol}
}
