package services

import (
	"context"
	"sync"
	"time"

	"github.com/tbourn/go-merchant-backend/internal/domain"
)

// EventType names a merchant event.
type EventType string

const (
	// EventRotationChanged is published after a rotation is installed.
	EventRotationChanged EventType = "rotation.changed"
	// EventPurchaseCompleted is published after a purchase commits.
	EventPurchaseCompleted EventType = "purchase.completed"
)

// Event is delivered to subscribers. Exactly one of Rotation or Purchase is set.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Rotation  *domain.RotationRecord
	Purchase  *domain.PurchaseRecord
}

// EventHandler consumes an event. Handlers run on their own goroutine.
type EventHandler func(ctx context.Context, ev Event)

// Bus fans out merchant events to observers such as the audit display or
// metrics. Publishing never blocks the publisher.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]EventHandler
	wg       sync.WaitGroup
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[EventType][]EventHandler)}
}

// Subscribe registers h for events of type t.
func (b *Bus) Subscribe(t EventType, h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish delivers ev asynchronously. The handlers get a context detached
// from the caller's cancellation. A nil bus is a no-op.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	hs := b.handlers[ev.Type]
	b.mu.RUnlock()
	if len(hs) == 0 {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	detached := context.WithoutCancel(ctx)
	for _, h := range hs {
		b.wg.Add(1)
		go func(h EventHandler) {
			defer b.wg.Done()
			h(detached, ev)
		}(h)
	}
}

// Wait blocks until every handler started so far has returned.
func (b *Bus) Wait() {
	if b == nil {
		return
	}
	b.wg.Wait()
}
