// Package buffer keeps the most recent log entries in a fixed-size ring and
// broadcasts each new entry to live subscribers.
package buffer

import (
	"slices"
	"sync"

	"github.com/akave-ai/devlog/internal/model"
)

// Filter is the read-side filter applied by Filtered. Ingestion ignores it.
type Filter struct {
	MinLevel model.Level `json:"min_level"`
	Sources  []string    `json:"sources,omitempty"` // nil means all sources
}

// Config configures a Buffer.
type Config struct {
	Capacity  int
	QueueSize int    // per-subscriber queue; DefaultQueueSize when zero
	OnDrop    func() // called for every entry dropped from a slow subscriber
}

// Buffer is a ring of the last Capacity entries plus a live fan-out.
type Buffer struct {
	mu       sync.RWMutex
	entries  []model.LogEntry
	capacity int
	start    int // index of the oldest entry once the ring is full
	filter   Filter

	fanout *Fanout
}

// New returns an empty buffer. A non-positive capacity is treated as 1.
func New(cfg Config) *Buffer {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 1
	}
	f := NewFanout(cfg.QueueSize)
	f.onDrop = cfg.OnDrop
	return &Buffer{
		entries:  make([]model.LogEntry, 0, capacity),
		capacity: capacity,
		filter:   Filter{MinLevel: model.LevelTrace},
		fanout:   f,
	}
}

// Append stores e, evicting the oldest entry when full, then broadcasts it.
// The broadcast happens after the lock is released so a subscriber that reads
// the buffer synchronously cannot deadlock the writer.
func (b *Buffer) Append(e model.LogEntry) {
	b.mu.Lock()
	if len(b.entries) < b.capacity {
		b.entries = append(b.entries, e)
	} else {
		b.entries[b.start] = e
		b.start = (b.start + 1) % b.capacity
	}
	b.mu.Unlock()

	b.fanout.Publish(e)
}

// All returns a copy of the stored entries, oldest first.
func (b *Buffer) All() []model.LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *Buffer) snapshotLocked() []model.LogEntry {
	out := make([]model.LogEntry, 0, len(b.entries))
	out = append(out, b.entries[b.start:]...)
	out = append(out, b.entries[:b.start]...)
	return out
}

// Filtered returns a copy of the stored entries that pass the current filter.
func (b *Buffer) Filtered() []model.LogEntry {
	b.mu.RLock()
	all := b.snapshotLocked()
	f := b.filter
	b.mu.RUnlock()

	out := all[:0]
	for _, e := range all {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Match reports whether e passes the filter.
func (f Filter) Match(e model.LogEntry) bool {
	if e.Rank() < f.MinLevel {
		return false
	}
	if f.Sources != nil && !slices.Contains(f.Sources, e.Source) {
		return false
	}
	return true
}

// SetMinLevel changes the minimum level used by Filtered.
func (b *Buffer) SetMinLevel(l model.Level) {
	b.mu.Lock()
	b.filter.MinLevel = l
	b.mu.Unlock()
}

// SetSourceFilter restricts Filtered to the given sources. nil clears the restriction.
func (b *Buffer) SetSourceFilter(sources []string) {
	b.mu.Lock()
	b.filter.Sources = slices.Clone(sources)
	b.mu.Unlock()
}

// Filter returns the current read-side filter.
func (b *Buffer) Filter() Filter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Filter{MinLevel: b.filter.MinLevel, Sources: slices.Clone(b.filter.Sources)}
}

// Clear drops all stored entries. Subscriptions are unaffected.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.entries = b.entries[:0]
	b.start = 0
	b.mu.Unlock()
}

// Len returns the number of stored entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func (b *Buffer) Capacity() int { return b.capacity }

// Subscribe returns a subscription to entries appended from now on.
// The caller must Close it when done.
func (b *Buffer) Subscribe() *Subscription {
	return b.fanout.Subscribe()
}

// Subscribers returns the number of live subscriptions.
func (b *Buffer) Subscribers() int {
	return b.fanout.Count()
}
