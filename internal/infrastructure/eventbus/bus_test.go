package eventbus

import (
	"testing"
	"time"

	"github.com/saorsa-labs/fae/internal/domain/valueobject"
	"go.uber.org/zap"
)

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewInMemoryBus(zap.NewNop(), 4)
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Publish(valueobject.Event{V: 1, EventID: "e1", Event: "orb.state_changed"})

	select {
	case evt := <-ch:
		if evt.Event != "orb.state_changed" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestInMemoryBus_DropsWhenFull(t *testing.T) {
	bus := NewInMemoryBus(zap.NewNop(), 1)
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	bus.Publish(valueobject.Event{EventID: "e1", Event: "a"})
	bus.Publish(valueobject.Event{EventID: "e2", Event: "b"})

	first := <-ch
	if first.EventID != "e1" {
		t.Fatalf("expected e1, got %s", first.EventID)
	}

	select {
	case <-ch:
		t.Fatal("expected no second event, buffer should have dropped it")
	default:
	}
}

func TestInMemoryBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewInMemoryBus(zap.NewNop(), 2)
	ch, unsubscribe := bus.Subscribe()
	unsubscribe()

	_, ok := <-ch
	if ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestInMemoryBus_CloseClosesAllSubscribers(t *testing.T) {
	bus := NewInMemoryBus(zap.NewNop(), 2)
	ch1, _ := bus.Subscribe()
	ch2, _ := bus.Subscribe()
	bus.Close()

	if _, ok := <-ch1; ok {
		t.Fatal("expected ch1 closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatal("expected ch2 closed")
	}
}
