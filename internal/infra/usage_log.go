package infra

import (
	"sync"
	"time"

	"github.com/jawad360/phone-detox/internal/domain"
)

// DefaultUsageLogCapacity bounds the in-memory usage log.
const DefaultUsageLogCapacity = 512

// UsageEventLog is a bounded, thread-safe usage-event log.
// Samplers and external agents record into it; the detector queries it.
type UsageEventLog struct {
	mu     sync.RWMutex
	events []domain.UsageEvent
	next   int
	full   bool
}

// NewUsageEventLog creates a log holding at most capacity events.
func NewUsageEventLog(capacity int) *UsageEventLog {
	if capacity <= 0 {
		capacity = DefaultUsageLogCapacity
	}
	return &UsageEventLog{events: make([]domain.UsageEvent, capacity)}
}

// Record appends an event, overwriting the oldest when full.
func (l *UsageEventLog) Record(ev domain.UsageEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[l.next] = ev
	l.next = (l.next + 1) % len(l.events)
	if l.next == 0 {
		l.full = true
	}
}

// QueryEvents returns events with start <= time <= end in insertion order.
func (l *UsageEventLog) QueryEvents(start, end time.Time) ([]domain.UsageEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.UsageEvent
	visit := func(ev domain.UsageEvent) {
		if ev.Time.Before(start) || ev.Time.After(end) {
			return
		}
		out = append(out, ev)
	}

	if l.full {
		for _, ev := range l.events[l.next:] {
			visit(ev)
		}
	}
	for _, ev := range l.events[:l.next] {
		visit(ev)
	}
	return out, nil
}

// Ensure UsageEventLog implements domain.UsageEventSource.
var _ domain.UsageEventSource = (*UsageEventLog)(nil)
