package bgtask

import "sync"

// Registry holds one task queue per volume
type Registry struct {
	mu     sync.Mutex
	queues map[string]*Queue
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{queues: make(map[string]*Queue)}
}

// Queue returns the queue of a volume, creating it on first use
func (r *Registry) Queue(volume string) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues[volume]
	if !ok {
		q = NewQueue(volume)
		r.queues[volume] = q
	}
	return q
}

// Get returns the queue of a volume if one exists
func (r *Registry) Get(volume string) (*Queue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[volume]
	return q, ok
}

// Pinned returns the snapshots of a volume read by unfinished tasks
func (r *Registry) Pinned(volume string) map[string]bool {
	q, ok := r.Get(volume)
	if !ok {
		return map[string]bool{}
	}
	return q.Pinned()
}

// Remove closes and forgets the queue of a volume
func (r *Registry) Remove(volume string) {
	r.mu.Lock()
	q, ok := r.queues[volume]
	delete(r.queues, volume)
	r.mu.Unlock()

	if ok {
		q.Close()
	}
}

// Close closes every queue
func (r *Registry) Close() {
	r.mu.Lock()
	queues := r.queues
	r.queues = make(map[string]*Queue)
	r.mu.Unlock()

	for _, q := range queues {
		q.Close()
	}
}
