package notify

import (
	"context"
	"sort"

	"github.com/Domenick1991/autoservice/internal/domain"
	"go.uber.org/zap"
)

// Publisher delivers one event to one topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event domain.NotificationEvent) error
}

// Journal keeps the most recent events per topic for catch-up.
type Journal interface {
	Append(ctx context.Context, topic string, event domain.NotificationEvent) error
	Recent(ctx context.Context, topic string, limit int) ([]domain.NotificationEvent, error)
}

type Dispatcher struct {
	publisher Publisher
	journal   Journal
	routes    RoutingTable
	log       *zap.Logger
}

type Option func(*Dispatcher)

func WithJournal(journal Journal) Option {
	return func(d *Dispatcher) {
		d.journal = journal
	}
}

func WithRoutes(routes RoutingTable) Option {
	return func(d *Dispatcher) {
		d.routes = routes
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.log = log
	}
}

func NewDispatcher(publisher Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		publisher: publisher,
		routes:    DefaultRoutes,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Routes() RoutingTable {
	return d.routes
}

// Dispatch stamps the event with each target's role and publishes it to every
// topic of that role. Failures are logged and never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.NotificationEvent, targets ...Target) {
	for _, target := range targets {
		ev := event
		ev.TargetRole = target.Role
		d.Publish(ctx, ev, d.routes.Topics(target))
	}
}

func (d *Dispatcher) Publish(ctx context.Context, event domain.NotificationEvent, topics []string) {
	for _, topic := range topics {
		if d.journal != nil {
			if err := d.journal.Append(ctx, topic, event); err != nil {
				d.log.Warn("journal append failed", zap.String("topic", topic), zap.String("event_id", event.ID), zap.Error(err))
			}
		}
		if d.publisher == nil {
			continue
		}
		if err := d.publisher.Publish(ctx, topic, event); err != nil {
			d.log.Error("publish notification failed",
				zap.String("topic", topic),
				zap.String("event_id", event.ID),
				zap.String("type", string(event.Type)),
				zap.Error(err))
			continue
		}
		d.log.Debug("notification published", zap.String("topic", topic), zap.String("event_id", event.ID))
	}
}

// Recent collects the journal of every topic the target listens on, collapsing
// aliases by event id, newest first.
func (d *Dispatcher) Recent(ctx context.Context, target Target, limit int) ([]domain.NotificationEvent, error) {
	out := make([]domain.NotificationEvent, 0, limit)
	if d.journal == nil || limit <= 0 {
		return out, nil
	}

	seen := make(map[string]bool)
	for _, topic := range d.routes.Topics(target) {
		events, err := d.journal.Recent(ctx, topic, limit)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			out = append(out, ev)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
