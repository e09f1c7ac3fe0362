package interfaces

import "context"

// EventType identifies an Event Bus topic (spec.md §4.8).
type EventType string

const (
	TopicLoginStatusUpdate        EventType = "login_status_update"
	TopicLoginError                EventType = "login_error"
	TopicWebsocketConnectionLost    EventType = "websocket_connection_lost"
	TopicWebsocketConnectionRestored EventType = "websocket_connection_restored"
	TopicCrawlProgress              EventType = "crawl_progress"
	TopicCrawlCompleted             EventType = "crawl_completed"
	TopicCrawlError                 EventType = "crawl_error"
)

// Event is a single Event Bus message: a typed topic plus its payload.
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler processes one event. An error is logged but never fails the
// producer (spec.md §7: "Errors from the Event Bus are never allowed to
// fail the producer").
type EventHandler func(ctx context.Context, event Event) error

// EventService is the Event Bus (C8): one-way, best-effort, async publish
// from every back-end component to the single front-end consumer.
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error
	Unsubscribe(eventType EventType, handler EventHandler) error
	Publish(ctx context.Context, event Event) error
	PublishSync(ctx context.Context, event Event) error
	Close() error
}
