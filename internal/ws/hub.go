package ws

import (
	"sync"

	"github.com/webdoc/webdoc/internal/job"
)

// Hub fans job snapshots out to watchers of that job. Slow watchers only ever
// see the latest snapshot; intermediate ones are dropped.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan *job.Job]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan *job.Job]struct{})}
}

// Subscribe returns a channel of snapshots for jobID and a function that
// ends the subscription.
func (h *Hub) Subscribe(jobID string) (<-chan *job.Job, func()) {
	ch := make(chan *job.Job, 1)
	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan *job.Job]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[jobID], ch)
			if len(h.subs[jobID]) == 0 {
				delete(h.subs, jobID)
			}
		})
	}
}

// Publish is a job.Observer.
func (h *Hub) Publish(j *job.Job) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[j.ID] {
		select {
		case ch <- j:
		default:
			// Replace the stale snapshot.
			select {
			case <-ch:
			default:
			}
			ch <- j
		}
	}
}

// Watchers is the number of open subscriptions for jobID.
func (h *Hub) Watchers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}
