package builds

import (
	"sync"
)

// queuedBuild represents a build waiting in queue
type queuedBuild struct {
	key     string
	startFn func() // Callback to start the build
}

// BuildQueue runs at most maxConcurrent builds at a time and starts queued
// builds in FIFO order as running ones complete.
type BuildQueue struct {
	maxConcurrent int
	active        map[string]bool // key -> is building
	pending       []queuedBuild
	mu            sync.Mutex
}

// NewBuildQueue creates a new build queue with max concurrent limit
func NewBuildQueue(maxConcurrent int) *BuildQueue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &BuildQueue{
		maxConcurrent: maxConcurrent,
		active:        make(map[string]bool),
		pending:       make([]queuedBuild, 0),
	}
}

// Enqueue adds a build to the queue and returns queue position.
// Returns 0 if the build starts immediately, >0 if queued.
// startFn must call MarkComplete(key) when the build ends.
func (q *BuildQueue) Enqueue(key string, startFn func()) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.active) < q.maxConcurrent {
		q.active[key] = true
		go startFn()
		return 0
	}

	q.pending = append(q.pending, queuedBuild{key: key, startFn: startFn})
	return len(q.pending)
}

// MarkComplete marks a build as complete and starts the next queued build
func (q *BuildQueue) MarkComplete(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.active, key)

	if len(q.pending) > 0 && len(q.active) < q.maxConcurrent {
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.active[next.key] = true
		go next.startFn()
	}
}

// GetPosition returns the 1-based queue position for key.
// Returns nil if not in queue (either building or complete)
func (q *BuildQueue) GetPosition(key string) *int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active[key] {
		return nil
	}

	for i, build := range q.pending {
		if build.key == key {
			pos := i + 1
			return &pos
		}
	}

	return nil
}

// ActiveCount returns number of running builds
func (q *BuildQueue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// PendingCount returns number of queued builds
func (q *BuildQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
