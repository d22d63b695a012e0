package rate

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implementa Store en memoria (dev/tests, single-node).
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memWindow
}

type memWindow struct {
	events    []time.Time
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*memWindow)}
}

func (s *MemoryStore) Slide(_ context.Context, key string, now time.Time, window time.Duration, max int64) (SlideResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[key]
	if w == nil || now.After(w.expiresAt) {
		w = &memWindow{}
		s.windows[key] = w
	}

	// Podar: conservar sólo eventos estrictamente más nuevos que now-window.
	winStart := now.Add(-window)
	kept := w.events[:0]
	for _, t := range w.events {
		if t.After(winStart) {
			kept = append(kept, t)
		}
	}
	w.events = kept

	out := SlideResult{Hits: int64(len(w.events))}
	if out.Hits < max {
		w.events = append(w.events, now)
		w.expiresAt = now.Add(window)
		out.Recorded = true
	}
	if len(w.events) > 0 {
		out.Oldest = w.events[0]
	}
	return out, nil
}
