package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// timings associates the start of each message's processing with a
// generated correlation id. Entries live only until finish is called.
type timings struct {
	mu      sync.Mutex
	started map[string]time.Time
}

func newTimings() *timings {
	return &timings{started: make(map[string]time.Time)}
}

func (t *timings) start() string {
	id := uuid.NewString()

	t.mu.Lock()
	t.started[id] = time.Now()
	t.mu.Unlock()

	return id
}

func (t *timings) finish(id string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	started, ok := t.started[id]
	if !ok {
		return 0
	}
	delete(t.started, id)
	return time.Since(started)
}

func (t *timings) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.started)
}
