package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/akave-ai/devlog/internal/model"
)

// DefaultQueueSize is the per-subscriber delivery queue length.
const DefaultQueueSize = 100

// Subscription is one live receiver of newly appended entries.
type Subscription struct {
	ch      chan model.LogEntry
	fanout  *Fanout
	dropped atomic.Uint64
	once    sync.Once
}

// C returns the receive side of the subscription. It is closed by Close.
func (s *Subscription) C() <-chan model.LogEntry { return s.ch }

// Dropped returns how many entries were discarded because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unregisters the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.fanout.remove(s)
		close(s.ch)
	})
}

// offer enqueues e without blocking. When the queue is full the oldest
// undelivered entry is discarded to make room.
func (s *Subscription) offer(e model.LogEntry) {
	for {
		select {
		case s.ch <- e:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
			if s.fanout.onDrop != nil {
				s.fanout.onDrop()
			}
		default:
		}
	}
}

// Fanout delivers each published entry to every registered subscription.
type Fanout struct {
	mu        sync.RWMutex
	subs      map[*Subscription]struct{}
	queueSize int
	onDrop    func()
}

// NewFanout creates a Fanout whose subscriptions buffer up to queueSize entries.
func NewFanout(queueSize int) *Fanout {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Fanout{
		subs:      make(map[*Subscription]struct{}),
		queueSize: queueSize,
	}
}

// Subscribe registers a new subscription. Entries published earlier are not replayed.
func (f *Fanout) Subscribe() *Subscription {
	s := &Subscription{
		ch:     make(chan model.LogEntry, f.queueSize),
		fanout: f,
	}
	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()
	return s
}

func (f *Fanout) remove(s *Subscription) {
	f.mu.Lock()
	delete(f.subs, s)
	f.mu.Unlock()
}

// Publish hands e to every subscription. It never blocks on a slow receiver.
// Close takes the write lock, so no offer can race with a channel close.
func (f *Fanout) Publish(e model.LogEntry) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for s := range f.subs {
		s.offer(e)
	}
}

// Count returns the number of live subscriptions.
func (f *Fanout) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
