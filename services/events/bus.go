package events

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/vexmail/mailsync/config"
	mailsync_errors "github.com/vexmail/mailsync/errors"
	"github.com/vexmail/mailsync/interfaces"
	"github.com/vexmail/mailsync/internal/enum"
	"github.com/vexmail/mailsync/internal/logger"
	"github.com/vexmail/mailsync/internal/tracing"
	"github.com/vexmail/mailsync/internal/utils"
)

// Event is a single notification delivered to bus subscribers.
type Event struct {
	ID        string                 `json:"id"`
	Category  enum.EventCategory     `json:"category"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

type subscriber struct {
	id         string
	queue      chan Event
	categories map[enum.EventCategory]bool
	lastSeen   time.Time
}

// wants reports whether the subscriber asked for the category. A subscriber
// registered without categories receives everything.
func (s *subscriber) wants(category enum.EventCategory) bool {
	if len(s.categories) == 0 {
		return true
	}
	return s.categories[category]
}

// EventBus fans events out to registered subscribers. Each subscriber owns a
// bounded queue; when a queue is full the oldest event is dropped so a slow
// consumer can never stall publishers. Subscribers that stop polling are
// reaped after the idle timeout.
type EventBus struct {
	log         logger.Logger
	mirror      interfaces.EventPublisher
	queueSize   int
	idleTimeout time.Duration

	mu          sync.Mutex
	subscribers map[string]*subscriber

	stopReaper chan struct{}
	closeOnce  sync.Once
}

func NewEventBus(cfg *config.SyncConfig, mirror interfaces.EventPublisher, log logger.Logger) *EventBus {
	bus := &EventBus{
		log:         log,
		mirror:      mirror,
		queueSize:   cfg.EventQueueSize,
		idleTimeout: time.Duration(cfg.SubscriberIdleTimeoutMin) * time.Minute,
		subscribers: make(map[string]*subscriber),
		stopReaper:  make(chan struct{}),
	}
	go bus.reapIdleSubscribers()
	return bus
}

// Subscribe registers a new subscriber and returns its ID. With no categories
// the subscriber receives every event; otherwise delivery is restricted to the
// given categories.
func (b *EventBus) Subscribe(ctx context.Context, categories ...enum.EventCategory) string {
	span, _ := opentracing.StartSpanFromContext(ctx, "EventBus.Subscribe")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	sub := &subscriber{
		id:       utils.GenerateNanoIDWithPrefix("sub", 16),
		queue:    make(chan Event, b.queueSize),
		lastSeen: utils.Now(),
	}
	if len(categories) > 0 {
		sub.categories = make(map[enum.EventCategory]bool, len(categories))
		for _, category := range categories {
			sub.categories[category] = true
		}
	}

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	tracing.TagEntity(span, sub.id)
	b.log.Infof("subscriber %s registered", sub.id)
	return sub.id
}

func (b *EventBus) Unsubscribe(ctx context.Context, subscriberID string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "EventBus.Unsubscribe")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, subscriberID)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[subscriberID]; !ok {
		return mailsync_errors.ErrSubscriberNotFound
	}
	delete(b.subscribers, subscriberID)
	return nil
}

// Publish delivers the event to every subscriber and, when a mirror is
// configured, to the external broker as well.
func (b *EventBus) Publish(ctx context.Context, category enum.EventCategory, payload map[string]interface{}) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EventBus.Publish")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("category", string(category))

	event := Event{
		ID:        utils.GenerateNanoIDWithPrefix("event", 21),
		Category:  category,
		Payload:   payload,
		CreatedAt: utils.Now(),
	}

	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.wants(category) {
			subs = append(subs, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range subs {
		b.deliver(sub, event)
	}

	if b.mirror != nil {
		if err := b.mirror.PublishFanoutEvent(ctx, category, event); err != nil {
			tracing.TraceErr(span, err)
			b.log.Warnf("failed to mirror event %s: %v", event.ID, err)
		}
	}
}

// deliver enqueues the event, evicting the oldest entry when the queue is
// full.
func (b *EventBus) deliver(sub *subscriber, event Event) {
	for {
		select {
		case sub.queue <- event:
			return
		default:
		}
		select {
		case dropped := <-sub.queue:
			b.log.Debugf("subscriber %s queue full, dropped event %s", sub.id, dropped.ID)
		default:
		}
	}
}

// Poll returns the subscriber's buffered events, waiting up to the given
// duration when the queue is empty. On timeout a single heartbeat event is
// returned so clients can distinguish a quiet bus from a dead one.
func (b *EventBus) Poll(ctx context.Context, subscriberID string, wait time.Duration) ([]Event, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EventBus.Poll")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, subscriberID)

	b.mu.Lock()
	sub, ok := b.subscribers[subscriberID]
	if ok {
		sub.lastSeen = utils.Now()
	}
	b.mu.Unlock()
	if !ok {
		return nil, mailsync_errors.ErrSubscriberNotFound
	}

	events := b.drain(sub)
	if len(events) > 0 {
		span.SetTag("events", len(events))
		return events, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case event := <-sub.queue:
		events = append([]Event{event}, b.drain(sub)...)
		span.SetTag("events", len(events))
		return events, nil
	case <-timer.C:
		heartbeat := Event{
			ID:        utils.GenerateNanoIDWithPrefix("event", 21),
			Category:  enum.EventHeartbeat,
			CreatedAt: utils.Now(),
		}
		return []Event{heartbeat}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *EventBus) drain(sub *subscriber) []Event {
	var events []Event
	for {
		select {
		case event := <-sub.queue:
			events = append(events, event)
		default:
			return events
		}
	}
}

func (b *EventBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *EventBus) Close() {
	b.closeOnce.Do(func() {
		close(b.stopReaper)
		b.mu.Lock()
		b.subscribers = make(map[string]*subscriber)
		b.mu.Unlock()
		if b.mirror != nil {
			if err := b.mirror.Close(); err != nil {
				b.log.Warnf("failed to close event mirror: %v", err)
			}
		}
	})
}

func (b *EventBus) reapIdleSubscribers() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopReaper:
			return
		case <-ticker.C:
			cutoff := utils.Now().Add(-b.idleTimeout)
			b.mu.Lock()
			for id, sub := range b.subscribers {
				if sub.lastSeen.Before(cutoff) {
					delete(b.subscribers, id)
					b.log.Infof("reaped idle subscriber %s", id)
				}
			}
			b.mu.Unlock()
		}
	}
}
