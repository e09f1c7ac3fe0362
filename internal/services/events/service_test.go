package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/interfaces"
)

func collector() (*[]interfaces.Event, interfaces.EventHandler) {
	var mu sync.Mutex
	var events []interfaces.Event
	handler := func(ctx context.Context, event interfaces.Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
		return nil
	}
	return &events, handler
}

func waitForCount(t *testing.T, events *[]interfaces.Event, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(*events) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d", n, len(*events))
}

func TestService_Publish_DeliversToSubscriber(t *testing.T) {
	s := New(arbor.NewLogger())
	events, handler := collector()

	require.NoError(t, s.Subscribe(interfaces.TopicLoginStatusUpdate, handler))
	require.NoError(t, s.Publish(context.Background(), interfaces.Event{Type: interfaces.TopicLoginStatusUpdate, Payload: "hello"}))

	waitForCount(t, events, 1)
	require.Equal(t, "hello", (*events)[0].Payload)
}

func TestService_Publish_PreservesPerSubscriberOrder(t *testing.T) {
	s := New(arbor.NewLogger())
	events, handler := collector()
	require.NoError(t, s.Subscribe(interfaces.TopicCrawlCompleted, handler))

	for i := 0; i < 20; i++ {
		require.NoError(t, s.Publish(context.Background(), interfaces.Event{Type: interfaces.TopicCrawlCompleted, Payload: i}))
	}

	waitForCount(t, events, 20)
	for i, e := range *events {
		require.Equal(t, i, e.Payload)
	}
}

func TestService_Publish_DropsCrawlProgressUnderPressure(t *testing.T) {
	s := New(arbor.NewLogger())

	block := make(chan struct{})
	handled := 0
	var mu sync.Mutex
	handler := func(ctx context.Context, event interfaces.Event) error {
		<-block
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	}
	require.NoError(t, s.Subscribe(interfaces.TopicCrawlProgress, handler))

	for i := 0; i < crawlProgressQueueCapacity+50; i++ {
		// Publish must never block even though the handler is stalled.
		require.NoError(t, s.Publish(context.Background(), interfaces.Event{Type: interfaces.TopicCrawlProgress, Payload: i}))
	}

	close(block)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := handled > 0
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	require.LessOrEqual(t, handled, crawlProgressQueueCapacity+1)
}

func TestService_PublishSync_AggregatesHandlerErrors(t *testing.T) {
	s := New(arbor.NewLogger())
	require.NoError(t, s.Subscribe(interfaces.TopicLoginError, func(ctx context.Context, event interfaces.Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, s.Subscribe(interfaces.TopicLoginError, func(ctx context.Context, event interfaces.Event) error {
		return nil
	}))

	err := s.PublishSync(context.Background(), interfaces.Event{Type: interfaces.TopicLoginError})
	require.Error(t, err)
}

func TestService_Unsubscribe_StopsDelivery(t *testing.T) {
	s := New(arbor.NewLogger())
	events, handler := collector()

	require.NoError(t, s.Subscribe(interfaces.TopicLoginStatusUpdate, handler))
	require.NoError(t, s.Publish(context.Background(), interfaces.Event{Type: interfaces.TopicLoginStatusUpdate}))
	waitForCount(t, events, 1)

	require.NoError(t, s.Unsubscribe(interfaces.TopicLoginStatusUpdate, handler))
	require.NoError(t, s.Publish(context.Background(), interfaces.Event{Type: interfaces.TopicLoginStatusUpdate}))

	time.Sleep(20 * time.Millisecond)
	require.Len(t, *events, 1)
}

func TestService_Unsubscribe_UnknownHandler_Errors(t *testing.T) {
	s := New(arbor.NewLogger())
	_, handler := collector()
	err := s.Unsubscribe(interfaces.TopicLoginStatusUpdate, handler)
	require.Error(t, err)
}
