package audit

import (
	"context"
	"sync"
)

// defaultMemoryCapacity bounds the in-memory trail.
const defaultMemoryCapacity = 1000

// MemoryRecorder keeps a bounded in-memory event trail. It backs the
// single-node / test deployment; the oldest events are dropped once the
// capacity is reached.
type MemoryRecorder struct {
	mu       sync.Mutex
	events   []Event
	capacity int
}

// NewMemoryRecorder creates a recorder holding at most capacity events.
// capacity <= 0 selects the default.
func NewMemoryRecorder(capacity int) *MemoryRecorder {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryRecorder{capacity: capacity}
}

// Record stores one event.
func (m *MemoryRecorder) Record(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	if len(m.events) > m.capacity {
		m.events = m.events[len(m.events)-m.capacity:]
	}
	return nil
}

// Query returns matching events, newest first.
func (m *MemoryRecorder) Query(_ context.Context, filter Filter) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []Event
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if filter.UID != "" && e.UID != filter.UID {
			continue
		}
		if filter.StartTime != nil && e.Timestamp.Before(*filter.StartTime) {
			continue
		}
		if filter.EndTime != nil && e.Timestamp.After(*filter.EndTime) {
			continue
		}
		matched = append(matched, e)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Close is a no-op.
func (m *MemoryRecorder) Close() error {
	return nil
}

// Verify interface compliance.
var _ Recorder = (*MemoryRecorder)(nil)
