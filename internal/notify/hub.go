package notify

import (
	"context"
	"sync"

	"github.com/Domenick1991/autoservice/internal/domain"
	"go.uber.org/zap"
)

// Hub fans events out to in-process subscribers. Sends never block: a
// subscriber whose buffer is full misses the event and relies on catch-up.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	buffer int
	log    *zap.Logger
}

func NewHub(buffer int, log *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		log:    log,
	}
}

type Subscription struct {
	hub    *Hub
	topics []string
	ch     chan domain.NotificationEvent
	once   sync.Once
}

// Events is closed once the subscription is closed.
func (s *Subscription) Events() <-chan domain.NotificationEvent {
	return s.ch
}

func (s *Subscription) Topics() []string {
	return s.topics
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

func (h *Hub) Subscribe(topics ...string) *Subscription {
	sub := &Subscription{
		hub:    h,
		topics: topics,
		ch:     make(chan domain.NotificationEvent, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		subs, ok := h.topics[topic]
		if !ok {
			subs = make(map[*Subscription]struct{})
			h.topics[topic] = subs
		}
		subs[sub] = struct{}{}
	}
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range sub.topics {
		if subs, ok := h.topics[topic]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	close(sub.ch)
}

func (h *Hub) Publish(_ context.Context, topic string, event domain.NotificationEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.topics[topic] {
		select {
		case sub.ch <- event:
		default:
			h.log.Warn("subscriber buffer full, dropping event", zap.String("topic", topic), zap.String("event_id", event.ID))
		}
	}
	return nil
}

// Subscribers reports how many subscriptions listen on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

var _ Publisher = (*Hub)(nil)
