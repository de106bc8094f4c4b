// recorders.go - Recording fakes for journal and broadcast hooks
package testutil

import (
	"sync"
	"sync/atomic"

	"github.com/servo-bridge/backend/internal/models"
)

// EventRecorder is an in-memory journal sink.
type EventRecorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *EventRecorder) Record(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded.
func (r *EventRecorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded events of one kind.
func (r *EventRecorder) OfKind(kind models.EventKind) []models.Event {
	var out []models.Event
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// CountingNotifier counts Trigger calls.
type CountingNotifier struct {
	n atomic.Int64
}

func (c *CountingNotifier) Trigger() { c.n.Add(1) }

// Count returns the number of triggers so far.
func (c *CountingNotifier) Count() int { return int(c.n.Load()) }
