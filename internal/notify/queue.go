package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Domenick1991/autoservice/internal/domain"
	"go.uber.org/zap"
)

var ErrQueueClosed = errors.New("notification queue closed")

// Sink receives the events a Queue drains.
type Sink interface {
	Dispatch(ctx context.Context, event domain.NotificationEvent, targets ...Target)
}

type queuedEvent struct {
	event   domain.NotificationEvent
	targets []Target
}

// Queue hands events to a Sink from a single goroutine, in enqueue order.
// Dispatch never waits on delivery: a full buffer drops the event with a log line.
type Queue struct {
	sink    Sink
	jobs    chan queuedEvent
	timeout time.Duration
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewQueue(sink Sink, size int, timeout time.Duration, log *zap.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	q := &Queue{
		sink:    sink,
		jobs:    make(chan queuedEvent, size),
		timeout: timeout,
		log:     log,
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) Dispatch(_ context.Context, event domain.NotificationEvent, targets ...Target) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.log.Warn("notification dropped after shutdown", zap.String("event_id", event.ID))
		return
	}
	select {
	case q.jobs <- queuedEvent{event: event, targets: targets}:
	default:
		q.log.Error("notification queue full, dropping event",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Int64("appointment_id", event.AppointmentID))
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for job := range q.jobs {
		q.deliver(job)
	}
}

func (q *Queue) deliver(job queuedEvent) {
	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	q.sink.Dispatch(ctx, job.event, job.targets...)
}

// Close stops accepting events and waits until the buffered ones are delivered or ctx ends.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
