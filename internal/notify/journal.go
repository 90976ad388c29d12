package notify

import (
	"context"
	"sync"

	"github.com/Domenick1991/autoservice/internal/domain"
)

// MemoryJournal is the in-process Journal used when Redis is not configured.
type MemoryJournal struct {
	mu     sync.Mutex
	size   int
	topics map[string][]domain.NotificationEvent
}

func NewMemoryJournal(size int) *MemoryJournal {
	if size <= 0 {
		size = 100
	}
	return &MemoryJournal{size: size, topics: make(map[string][]domain.NotificationEvent)}
}

func (j *MemoryJournal) Append(_ context.Context, topic string, event domain.NotificationEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	events := append([]domain.NotificationEvent{event}, j.topics[topic]...)
	if len(events) > j.size {
		events = events[:j.size]
	}
	j.topics[topic] = events
	return nil
}

func (j *MemoryJournal) Recent(_ context.Context, topic string, limit int) ([]domain.NotificationEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	events := j.topics[topic]
	if limit < len(events) {
		events = events[:max(limit, 0)]
	}
	return append([]domain.NotificationEvent(nil), events...), nil
}

var _ Journal = (*MemoryJournal)(nil)
