// Package eventbus provides the Bus interface and an in-memory implementation
// for streaming run events.
package eventbus

import (
	"sync"

	"github.com/jxucoder/researcher/pkg/model"
)

// Bus provides pub/sub for run events.
type Bus interface {
	Subscribe(runID string) chan *model.Event
	Unsubscribe(runID string, ch chan *model.Event)
	Publish(runID string, event *model.Event)
}

// InMemoryBus is the default in-memory Bus implementation.
type InMemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan *model.Event
}

// NewInMemoryBus creates a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subs: make(map[string][]chan *model.Event),
	}
}

// Subscribe creates a channel that receives events for a run.
func (b *InMemoryBus) Subscribe(runID string) chan *model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *model.Event, 64)
	b.subs[runID] = append(b.subs[runID], ch)
	return ch
}

// Unsubscribe removes a channel from the run's subscribers.
func (b *InMemoryBus) Unsubscribe(runID string, ch chan *model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[runID]
	for i, s := range subs {
		if s == ch {
			b.subs[runID] = append(subs[:i], subs[i+1:]...)
			if len(b.subs[runID]) == 0 {
				delete(b.subs, runID)
			}
			close(ch)
			return
		}
	}
}

// Publish sends an event to all subscribers for a run.
func (b *InMemoryBus) Publish(runID string, event *model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[runID] {
		select {
		case ch <- event:
		default:
			// Drop event if subscriber is too slow.
		}
	}
}
