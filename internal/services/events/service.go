// Package events implements the Event Bus (C8): decouples component event
// producers from the single UI consumer over typed topics, one-way
// publish, no acknowledgment (spec.md §4.8).
//
// Grounded on the teacher's internal/services/events/event_service.go
// pub/sub shape (map of topic to subscriber list, guarded by a RWMutex),
// adapted with a per-subscriber ordered queue so same-entity event streams
// stay strictly ordered (spec.md §5, "Ordering guarantees") and with a
// bounded, lossy queue specifically for crawl_progress (spec.md §5,
// "Backpressure").
package events

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/interfaces"
)

// loginQueueCapacity is generous: login event volume is bounded by the
// state machine (spec.md §5, "Login events are never dropped").
const loginQueueCapacity = 1024

// crawlProgressQueueCapacity is deliberately small: the Engine already
// caps its own emission at 10 Hz, and a slow consumer should shed load
// rather than stall the crawl (spec.md §5, "Backpressure").
const crawlProgressQueueCapacity = 64

type subscription struct {
	handler interfaces.EventHandler
	queue   chan interfaces.Event
	lossy   bool
}

// Service implements interfaces.EventService.
type Service struct {
	mu     sync.RWMutex
	subs   map[interfaces.EventType][]*subscription
	logger arbor.ILogger
}

// New creates an Event Bus.
func New(logger arbor.ILogger) *Service {
	return &Service{
		subs:   make(map[interfaces.EventType][]*subscription),
		logger: logger,
	}
}

var _ interfaces.EventService = (*Service)(nil)

func queuePolicy(t interfaces.EventType) (capacity int, lossy bool) {
	if t == interfaces.TopicCrawlProgress {
		return crawlProgressQueueCapacity, true
	}
	return loginQueueCapacity, false
}

// Subscribe registers a handler for a topic. Each subscriber gets its own
// ordered delivery queue drained by a dedicated goroutine, so one slow
// subscriber never stalls another.
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("event handler cannot be nil")
	}

	capacity, lossy := queuePolicy(eventType)
	sub := &subscription{
		handler: handler,
		queue:   make(chan interfaces.Event, capacity),
		lossy:   lossy,
	}

	s.mu.Lock()
	s.subs[eventType] = append(s.subs[eventType], sub)
	count := len(s.subs[eventType])
	s.mu.Unlock()

	go s.drain(eventType, sub)

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", count).
		Msg("event handler subscribed")

	return nil
}

// Unsubscribe removes a handler from a topic, matched by function pointer
// identity (reflect.ValueOf(handler).Pointer()) since Go function values
// are not otherwise comparable.
func (s *Service) Unsubscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	target := reflect.ValueOf(handler).Pointer()

	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subs[eventType]
	for i, sub := range subs {
		if reflect.ValueOf(sub.handler).Pointer() == target {
			close(sub.queue)
			s.subs[eventType] = append(subs[:i], subs[i+1:]...)
			s.logger.Debug().Str("event_type", string(eventType)).Msg("event handler unsubscribed")
			return nil
		}
	}

	return fmt.Errorf("handler not found for event type: %s", eventType)
}

// Publish delivers event asynchronously to every subscriber of its topic.
// A full lossy queue (crawl_progress) drops the event; a full non-lossy
// queue blocks the caller only until ctx is done, after which it drops and
// logs (spec.md §7: "Errors from the Event Bus are never allowed to fail
// the producer").
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	subs := append([]*subscription(nil), s.subs[event.Type]...)
	s.mu.RUnlock()

	for _, sub := range subs {
		if sub.lossy {
			select {
			case sub.queue <- event:
			default:
				s.logger.Warn().Str("event_type", string(event.Type)).Msg("event dropped, subscriber queue full")
			}
			continue
		}

		select {
		case sub.queue <- event:
		case <-ctx.Done():
			s.logger.Warn().Str("event_type", string(event.Type)).Msg("event dropped, publish context cancelled")
		}
	}

	return nil
}

// PublishSync delivers event to every subscriber and waits for each
// handler invocation to complete before returning.
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	subs := append([]*subscription(nil), s.subs[event.Type]...)
	s.mu.RUnlock()

	var wg sync.WaitGroup
	errCount := 0
	var mu sync.Mutex

	for _, sub := range subs {
		wg.Add(1)
		go func(h interfaces.EventHandler) {
			defer wg.Done()
			if err := h(ctx, event); err != nil {
				mu.Lock()
				errCount++
				mu.Unlock()
				s.logger.Error().Err(err).Str("event_type", string(event.Type)).Msg("event handler failed")
			}
		}(sub.handler)
	}

	wg.Wait()
	if errCount > 0 {
		return fmt.Errorf("%d event handlers failed", errCount)
	}
	return nil
}

// Close shuts down every subscriber queue.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, subs := range s.subs {
		for _, sub := range subs {
			close(sub.queue)
		}
	}
	s.subs = make(map[interfaces.EventType][]*subscription)
	s.logger.Info().Msg("event bus closed")
	return nil
}

func (s *Service) drain(eventType interfaces.EventType, sub *subscription) {
	for event := range sub.queue {
		if err := sub.handler(context.Background(), event); err != nil {
			s.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("event handler failed")
		}
	}
}
