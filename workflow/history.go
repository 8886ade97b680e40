package workflow

import (
	"sync"
	"time"
)

// history is the append-only Execution Event log of spec.md §3. It is
// written from multiple goroutines during wave dispatch, so all access is
// mutex-guarded.
type history struct {
	mu     sync.Mutex
	events []Event
}

func (h *history) append(category EventCategory, stepID string, attempt int, elapsed time.Duration, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, Event{
		Timestamp: time.Now(),
		Category:  category,
		StepID:    stepID,
		Attempt:   attempt,
		Elapsed:   elapsed,
		Payload:   payload,
	})
}

func (h *history) snapshot() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}
