package assignment

import (
	"slices"
	"sync"

	"github.com/signalsfoundry/engagement-simulator/internal/hierarchy"
)

// DefaultQueueBatch is the number of requests a Queue handles per cycle when
// no limit is configured.
const DefaultQueueBatch = 32

// Queue holds pursuers waiting for a target and hands them out at a bounded
// rate. It is safe for concurrent use; termination callbacks may Push while
// the tick drains.
type Queue struct {
	mu      sync.Mutex
	pending []hierarchy.NodeID
	batch   int
	metrics Recorder
}

// NewQueue builds a queue processing at most batch requests per Drain.
func NewQueue(batch int, metrics Recorder) *Queue {
	if batch <= 0 {
		batch = DefaultQueueBatch
	}
	return &Queue{batch: batch, metrics: orNoop(metrics)}
}

// Push enqueues ids that are not already waiting.
func (q *Queue) Push(ids ...hierarchy.NodeID) {
	q.mu.Lock()
	for _, id := range ids {
		if !id.IsNil() && !slices.Contains(q.pending, id) {
			q.pending = append(q.pending, id)
		}
	}
	depth := len(q.pending)
	q.mu.Unlock()
	q.metrics.SetQueueDepth(depth)
}

// Len returns the number of waiting requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain hands up to one batch of requests to handle, oldest first. Requests
// handle rejects go to the back of the queue along with everything beyond the
// batch. It returns the number handled successfully.
func (q *Queue) Drain(handle func(hierarchy.NodeID) bool) int {
	q.mu.Lock()
	n := min(q.batch, len(q.pending))
	batch := slices.Clone(q.pending[:n])
	q.pending = slices.Delete(q.pending, 0, n)
	q.mu.Unlock()

	var retry []hierarchy.NodeID
	handled := 0
	for _, id := range batch {
		if handle(id) {
			handled++
		} else {
			retry = append(retry, id)
		}
	}
	q.Push(retry...)
	return handled
}
