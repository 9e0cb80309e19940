package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the scheduler core.
const (
	TypeJobScheduled    = "job.scheduled"
	TypeJobCanceled     = "job.canceled"
	TypeJobFired        = "job.fired"
	TypeJobDropped      = "job.dropped" // fired but rejected by the task engine
	TypeDelivered       = "delivery.ok"
	TypeDeliveryFailed  = "delivery.failed"
	TypeItemConsumed    = "item.consumed"
	TypeRSVPUpdated     = "rsvp.updated"
	TypeReconcileFinish = "reconcile.finished"
	TypeTaskFinished    = "task.finished"
)

// Event is a lightweight in-memory signal.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; a slow subscriber drops events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// JobData is the payload of job.*, delivery.* and item.consumed events.
type JobData struct {
	JobID  string
	Kind   string
	ItemID int64
	Lead   int
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop returns a bus that discards everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock excludes in-flight Publish sends.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
