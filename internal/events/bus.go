package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"pfmt/internal/logging"
)

type Subscriber interface {
	Handle(ctx context.Context, evt Event)
}

type SubscriberFunc func(ctx context.Context, evt Event)

func (f SubscriberFunc) Handle(ctx context.Context, evt Event) { f(ctx, evt) }

// Bus delivers committed events synchronously, in subscription order.
// A nil *Bus drops everything.
type Bus struct {
	mu   sync.RWMutex
	subs []Subscriber
}

func NewBus(subs ...Subscriber) *Bus {
	return &Bus{subs: subs}
}

func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

func (b *Bus) Publish(ctx context.Context, evts ...Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs...)
	b.mu.RUnlock()
	for _, evt := range evts {
		for _, s := range subs {
			s.Handle(ctx, evt)
		}
	}
}

// LogSubscriber writes one info line per transition.
func LogSubscriber(log *zap.Logger) Subscriber {
	return SubscriberFunc(func(ctx context.Context, evt Event) {
		logging.For(ctx, log).Info("state transition",
			zap.String("type", evt.Type),
			zap.Int64("event_id", evt.ID),
			zap.String("entity_kind", evt.EntityKind),
			zap.String("entity_id", evt.EntityID),
			zap.String("project_id", evt.ProjectID),
			zap.String("actor_id", evt.ActorID),
		)
	})
}
