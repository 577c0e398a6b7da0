package history

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/fieldwatch/internal/alert"
	"github.com/tphakala/fieldwatch/internal/sensor"
)

// MemoryStore keeps history in process memory. It backs the memory driver
// and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	alerts   map[string]alert.Alert
	events   map[string]alert.Event
	order    []string // event ids in append order
	readings []sensor.Reading
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts: make(map[string]alert.Alert),
		events: make(map[string]alert.Event),
	}
}

// AppendEvent stores the snapshot and the event once
func (s *MemoryStore) AppendEvent(_ context.Context, ev alert.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts[ev.Alert.ID] = *ev.Alert.Clone()
	if _, seen := s.events[ev.ID]; !seen {
		s.events[ev.ID] = ev
		s.order = append(s.order, ev.ID)
	}
	return nil
}

// UpsertAlert stores a snapshot
func (s *MemoryStore) UpsertAlert(_ context.Context, a alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[a.ID] = *a.Clone()
	return nil
}

// AppendReading stores a reading
func (s *MemoryStore) AppendReading(_ context.Context, r sensor.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
	return nil
}

// MarkAllRead flags every alert as read
func (s *MemoryStore) MarkAllRead(_ context.Context, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, a := range s.alerts {
		if !a.IsRead {
			a.IsRead = true
			s.alerts[id] = a
			n++
		}
	}
	return n, nil
}

// QueryAlerts returns one page of alerts, newest first
func (s *MemoryStore) QueryAlerts(_ context.Context, f alert.Filter) (alert.Page, error) {
	return alert.Paginate(s.snapshot(), f), nil
}

// GetAlert returns one stored alert
func (s *MemoryStore) GetAlert(_ context.Context, id string) (alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[id]
	if !ok {
		return alert.Alert{}, notFound(id)
	}
	return *a.Clone(), nil
}

// UnreadCount counts alerts not yet read
func (s *MemoryStore) UnreadCount(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, a := range s.alerts {
		if !a.IsRead {
			n++
		}
	}
	return n, nil
}

// LoadOpen returns open and acknowledged alerts
func (s *MemoryStore) LoadOpen(_ context.Context) ([]alert.Alert, error) {
	var open []alert.Alert
	for _, a := range s.snapshot() {
		if a.Status.IsOpen() {
			open = append(open, a)
		}
	}
	return open, nil
}

// PurgeClosed deletes terminal alerts and their events
func (s *MemoryStore) PurgeClosed(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, a := range s.alerts {
		if a.Status.IsTerminal() && a.StatusChangedAt.Before(before) {
			delete(s.alerts, id)
			n++
		}
	}
	kept := s.order[:0]
	for _, evID := range s.order {
		if _, ok := s.alerts[s.events[evID].Alert.ID]; ok {
			kept = append(kept, evID)
		} else {
			delete(s.events, evID)
		}
	}
	s.order = kept
	return n, nil
}

// Events returns stored events in append order
func (s *MemoryStore) Events() []alert.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]alert.Event, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.events[id])
	}
	return out
}

// Readings returns stored readings
func (s *MemoryStore) Readings() []sensor.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]sensor.Reading(nil), s.readings...)
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) snapshot() []alert.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]alert.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, *a.Clone())
	}
	return out
}
