package eventbus

import (
	"testing"
	"time"

	"github.com/jxucoder/researcher/pkg/model"
)

func TestSubscribePublishUnsubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("r1")

	bus.Publish("r1", &model.Event{RunID: "r1", Type: model.EventStatus, Data: "running"})

	select {
	case got := <-ch:
		if got.Data != "running" {
			t.Fatalf("unexpected event data: %s", got.Data)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("did not receive event")
	}

	bus.Unsubscribe("r1", ch)
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}
}

func TestDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("r2")

	// Fill channel to capacity (64) without reading.
	for i := 0; i < 64; i++ {
		bus.Publish("r2", &model.Event{RunID: "r2", Type: model.EventActivity, Data: "x"})
	}

	done := make(chan struct{})
	go func() {
		bus.Publish("r2", &model.Event{RunID: "r2", Type: model.EventActivity, Data: "overflow"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("publish blocked on full channel")
	}

	bus.Unsubscribe("r2", ch)
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewInMemoryBus()
	ch1 := bus.Subscribe("r3")
	ch2 := bus.Subscribe("r3")

	bus.Publish("r3", &model.Event{RunID: "r3", Type: model.EventStatus, Data: "hello"})

	for _, ch := range []chan *model.Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Data != "hello" {
				t.Fatalf("unexpected data: %s", got.Data)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatal("subscriber did not receive event")
		}
	}

	bus.Unsubscribe("r3", ch1)
	bus.Unsubscribe("r3", ch2)
}

func TestPublishToOtherRun(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe("r4")
	bus.Publish("other", &model.Event{RunID: "other", Type: model.EventStatus})

	select {
	case ev := <-ch:
		t.Fatalf("received event for another run: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	bus.Unsubscribe("r4", ch)
}
