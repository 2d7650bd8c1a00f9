package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPublishReachesTopicSubscriber(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var got []Event
	unsubscribe := bus.Subscribe("actions.status", func(_ context.Context, e Event) {
		got = append(got, e)
	})
	defer unsubscribe()

	_ = bus.Publish(context.Background(), Event{Topic: "actions.status", Source: "test"})
	_ = bus.Publish(context.Background(), Event{Topic: "other", Source: "test"})

	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if got[0].Topic != "actions.status" {
		t.Errorf("topic = %q", got[0].Topic)
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus(zap.NewNop())

	count := 0
	unsubscribe := bus.SubscribeAll(func(context.Context, Event) { count++ })
	_ = bus.Publish(context.Background(), Event{Topic: "a"})
	_ = bus.Publish(context.Background(), Event{Topic: "b"})
	unsubscribe()
	_ = bus.Publish(context.Background(), Event{Topic: "c"})

	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(zap.NewNop())
	count := 0
	unsubscribe := bus.Subscribe("t", func(context.Context, Event) { count++ })
	unsubscribe()
	_ = bus.Publish(context.Background(), Event{Topic: "t"})
	if count != 0 {
		t.Errorf("count = %d after unsubscribe", count)
	}
}

func TestPublishAsyncDelivers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var mu sync.Mutex
	done := make(chan struct{})
	bus.Subscribe("t", func(_ context.Context, e Event) {
		mu.Lock()
		defer mu.Unlock()
		close(done)
	})

	bus.PublishAsync(context.Background(), Event{Topic: "t", Timestamp: time.Now()})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async event not delivered")
	}
}

func TestPanickingHandlerIsContained(t *testing.T) {
	bus := NewBus(zap.NewNop())
	bus.Subscribe("t", func(context.Context, Event) { panic("boom") })

	reached := false
	bus.Subscribe("t", func(context.Context, Event) { reached = true })

	_ = bus.Publish(context.Background(), Event{Topic: "t"})
	if !reached {
		t.Error("panic in one handler must not stop delivery to others")
	}
}
