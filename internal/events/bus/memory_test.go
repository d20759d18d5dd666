package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rizrmd/clay-studio-sub001/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func TestNewMemoryEventBus(t *testing.T) {
	log := newTestLogger(t)
	b := NewMemoryEventBus(log)

	if b == nil {
		t.Fatal("Expected non-nil bus")
	}
	if !b.IsConnected() {
		t.Error("Expected bus to be connected")
	}
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	log := newTestLogger(t)
	b := NewMemoryEventBus(log)
	defer b.Close()

	ctx := context.Background()
	received := make(chan *Event, 1)

	sub, err := b.Subscribe("test.subject", func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	event := NewEvent("test.type", "test-source", map[string]interface{}{"key": "value"})
	if err := b.Publish(ctx, "test.subject", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case e := <-received:
		if e.ID != event.ID {
			t.Errorf("Expected event ID %s, got %s", event.ID, e.ID)
		}
		if e.Type != event.Type {
			t.Errorf("Expected event type %s, got %s", event.Type, e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
	}
}

func TestMemoryEventBus_MultipleSubscribers(t *testing.T) {
	log := newTestLogger(t)
	b := NewMemoryEventBus(log)
	defer b.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(3)

	for i := 0; i < 3; i++ {
		sub, err := b.Subscribe("test.multi", func(ctx context.Context, event *Event) error {
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe %d failed: %v", i, err)
		}
		defer func() { _ = sub.Unsubscribe() }()
	}

	event := NewEvent("test.type", "test-source", nil)
	if err := b.Publish(ctx, "test.multi", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for all subscribers to receive the event")
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	log := newTestLogger(t)
	b := NewMemoryEventBus(log)
	defer b.Close()

	ctx := context.Background()
	received := make(chan struct{}, 2)

	sub, err := b.Subscribe("test.unsub", func(ctx context.Context, event *Event) error {
		received <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	event := NewEvent("test.type", "test-source", nil)
	if err := b.Publish(ctx, "test.unsub", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the first event")
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if sub.IsValid() {
		t.Error("Expected subscription to be invalid after unsubscribe")
	}

	if err := b.Publish(ctx, "test.unsub", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case <-received:
		t.Error("expected no further delivery after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryEventBus_SingleTokenWildcard(t *testing.T) {
	log := newTestLogger(t)
	b := NewMemoryEventBus(log)
	defer b.Close()

	ctx := context.Background()
	received := make(chan string, 2)

	sub, err := b.Subscribe("events.*.created", func(ctx context.Context, event *Event) error {
		received <- event.Type
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	if err := b.Publish(ctx, "events.user.created", NewEvent("user.created", "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := b.Publish(ctx, "events.order.created", NewEvent("order.created", "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case eventType := <-received:
			seen[eventType] = true
		case <-time.After(time.Second):
			seen["timeout"] = true
		}
	}
	if !seen["user.created"] || !seen["order.created"] {
		t.Errorf("expected both wildcard-matched events to be delivered, got %v", seen)
	}
}

func TestMemoryEventBus_WildcardNoMatch(t *testing.T) {
	log := newTestLogger(t)
	b := NewMemoryEventBus(log)
	defer b.Close()

	ctx := context.Background()
	var count int32

	sub, err := b.Subscribe("events.*.created", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	// missing the middle token - should not match
	if err := b.Publish(ctx, "events.created", NewEvent("test", "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&count) != 0 {
		t.Errorf("Expected 0 events (no match), got %d", count)
	}
}

func TestMemoryEventBus_ExactMatch(t *testing.T) {
	log := newTestLogger(t)
	b := NewMemoryEventBus(log)
	defer b.Close()

	ctx := context.Background()
	received := make(chan struct{}, 2)

	sub, err := b.Subscribe("events.user.created", func(ctx context.Context, event *Event) error {
		received <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	event := NewEvent("test", "test", nil)
	if err := b.Publish(ctx, "events.user.created", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := b.Publish(ctx, "events.user.updated", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected the exact-match subject to be delivered")
	}
	select {
	case <-received:
		t.Error("expected the non-matching subject not to be delivered")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryEventBus_QueueSubscribe(t *testing.T) {
	log := newTestLogger(t)
	b := NewMemoryEventBus(log)
	defer b.Close()

	ctx := context.Background()
	var count int32
	const numSubs = 3
	const numEvents = 6
	done := make(chan struct{}, numEvents)

	for i := 0; i < numSubs; i++ {
		sub, err := b.QueueSubscribe("test.queue", "workers", func(ctx context.Context, event *Event) error {
			atomic.AddInt32(&count, 1)
			done <- struct{}{}
			return nil
		})
		if err != nil {
			t.Fatalf("QueueSubscribe %d failed: %v", i, err)
		}
		defer func() { _ = sub.Unsubscribe() }()
	}

	for i := 0; i < numEvents; i++ {
		if err := b.Publish(ctx, "test.queue", NewEvent("test.type", "test-source", nil)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	for i := 0; i < numEvents; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for queue delivery %d/%d", i+1, numEvents)
		}
	}
	if atomic.LoadInt32(&count) != numEvents {
		t.Errorf("Expected %d handler calls, got %d", numEvents, count)
	}
}

func TestMemoryEventBus_ConcurrentAccess(t *testing.T) {
	log := newTestLogger(t)
	b := NewMemoryEventBus(log)
	defer b.Close()

	ctx := context.Background()
	var receivedCount int32
	var publishErrorCount int32
	var wg sync.WaitGroup

	var handlerWG sync.WaitGroup
	const numGoroutines = 10
	const eventsPerGoroutine = 100
	handlerWG.Add(numGoroutines * eventsPerGoroutine)

	sub, err := b.Subscribe("test.concurrent", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&receivedCount, 1)
		handlerWG.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				if err := b.Publish(ctx, "test.concurrent", NewEvent("test.type", "test-source", nil)); err != nil {
					atomic.AddInt32(&publishErrorCount, 1)
				}
			}
		}()
	}
	wg.Wait()
	if publishErrorCount > 0 {
		t.Errorf("publish errors: %d", publishErrorCount)
	}

	done := make(chan struct{})
	go func() { handlerWG.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for all concurrent handlers to complete")
	}

	expected := int32(numGoroutines * eventsPerGoroutine)
	if atomic.LoadInt32(&receivedCount) != expected {
		t.Errorf("Expected %d events, got %d", expected, receivedCount)
	}
}

func TestMemoryEventBus_Close(t *testing.T) {
	log := newTestLogger(t)
	b := NewMemoryEventBus(log)

	if !b.IsConnected() {
		t.Error("Expected bus to be connected initially")
	}

	b.Close()

	if b.IsConnected() {
		t.Error("Expected bus to be disconnected after Close")
	}

	ctx := context.Background()
	event := NewEvent("test.type", "test-source", nil)
	if err := b.Publish(ctx, "test.subject", event); err == nil {
		t.Error("Expected error when publishing to closed bus")
	}
	if _, err := b.Subscribe("test.subject", func(ctx context.Context, event *Event) error { return nil }); err == nil {
		t.Error("Expected error when subscribing to closed bus")
	}
}

func TestMemoryEventBus_Request(t *testing.T) {
	log := newTestLogger(t)
	b := NewMemoryEventBus(log)
	defer b.Close()

	ctx := context.Background()

	sub, err := b.Subscribe("service.echo", func(ctx context.Context, event *Event) error {
		replySubject, ok := event.Data["_reply"].(string)
		if !ok {
			return nil
		}
		response := NewEvent("echo.response", "responder", map[string]interface{}{
			"echo": event.Data["message"],
		})
		return b.Publish(ctx, replySubject, response)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	request := NewEvent("echo.request", "requester", map[string]interface{}{"message": "hello"})
	response, err := b.Request(ctx, "service.echo", request, 2*time.Second)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if response.Data["echo"] != "hello" {
		t.Errorf("Expected echo 'hello', got %v", response.Data["echo"])
	}
}

func TestMemoryEventBus_RequestTimeout(t *testing.T) {
	log := newTestLogger(t)
	b := NewMemoryEventBus(log)
	defer b.Close()

	ctx := context.Background()
	request := NewEvent("service.nonexistent", "requester", map[string]interface{}{})
	if _, err := b.Request(ctx, "service.nonexistent", request, 100*time.Millisecond); err == nil {
		t.Error("Expected timeout error")
	}
}

func TestNewEvent(t *testing.T) {
	eventType := "user.created"
	source := "user-service"
	data := map[string]interface{}{"user_id": 123}

	before := time.Now().UTC()
	event := NewEvent(eventType, source, data)
	after := time.Now().UTC()

	if event.ID == "" {
		t.Error("Expected event ID to be set")
	}
	if event.Type != eventType {
		t.Errorf("Expected type %s, got %s", eventType, event.Type)
	}
	if event.Source != source {
		t.Errorf("Expected source %s, got %s", source, event.Source)
	}
	if event.Data["user_id"] != 123 {
		t.Error("Expected data to contain user_id=123")
	}
	if event.Timestamp.Before(before) || event.Timestamp.After(after) {
		t.Error("Expected timestamp to be set correctly")
	}
}
