// Package recent keeps a bounded in-memory log of monitor events.
package recent

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/livetag/internal/orchestrator"
)

// DefaultMaxEntries bounds the log when New is given a non-positive size.
const DefaultMaxEntries = 200

// Log records events and forwards them to the next sink.
type Log struct {
	mu      sync.RWMutex
	entries []orchestrator.Event
	maxSize int
	next    orchestrator.Sink
}

// New creates a log holding at most maxEntries events. next may be nil.
func New(maxEntries int, next orchestrator.Sink) *Log {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Log{
		entries: make([]orchestrator.Event, 0, maxEntries),
		maxSize: maxEntries,
		next:    next,
	}
}

// Publish stores ev and hands it on. It reports what the next sink dropped.
func (l *Log) Publish(ev orchestrator.Event) int {
	l.mu.Lock()
	l.entries = append(l.entries, ev)
	if len(l.entries) > l.maxSize {
		l.entries = l.entries[len(l.entries)-l.maxSize:]
	}
	l.mu.Unlock()

	if l.next == nil {
		return 0
	}
	return l.next.Publish(ev)
}

// Last returns up to n of the newest events, oldest first. n <= 0 means all.
func (l *Log) Last(n int) []orchestrator.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	src := l.entries
	if n > 0 && n < len(src) {
		src = src[len(src)-n:]
	}
	out := make([]orchestrator.Event, len(src))
	copy(out, src)
	return out
}

// Since returns the events at or after cutoff, oldest first.
func (l *Log) Since(cutoff time.Time) []orchestrator.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []orchestrator.Event
	for _, ev := range l.entries {
		if !ev.At.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

// Counts tallies the stored events by type.
func (l *Log) Counts() map[orchestrator.EventType]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[orchestrator.EventType]int)
	for _, ev := range l.entries {
		out[ev.Type]++
	}
	return out
}
