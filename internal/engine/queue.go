package engine

import (
	"context"

	"github.com/roach88/sqlidb/internal/store"
)

// opFunc runs one queued operation against the transaction's SQL
// transaction. The returned value becomes the request's result.
type opFunc func(ctx context.Context, tx *store.Tx) (any, error)

// step is one entry in a transaction's queue. Steps with a nil req are
// internal work (schema changes, the upgrade callback) that nobody
// observes directly; their failure aborts the transaction.
type step struct {
	name string
	req  *Request
	op   opFunc
}

// requestQueue is the FIFO of a single transaction.
//
// The queue is unbounded: success handlers may enqueue further requests
// while the queue is being drained, and those run after everything
// already queued. A transaction is driven by one goroutine, so there is
// no locking.
type requestQueue struct {
	steps []step
}

func newRequestQueue() *requestQueue {
	return &requestQueue{steps: make([]step, 0, 16)}
}

// Enqueue adds a step to the back of the queue.
func (q *requestQueue) Enqueue(s step) {
	q.steps = append(q.steps, s)
}

// TryDequeue removes and returns the front step.
// Returns (step{}, false) if the queue is empty.
func (q *requestQueue) TryDequeue() (step, bool) {
	if len(q.steps) == 0 {
		return step{}, false
	}

	s := q.steps[0]

	// Nil out the slot so the request and its closure can be collected.
	q.steps[0] = step{}

	if len(q.steps) == 1 {
		q.steps = q.steps[:0]
	} else {
		q.steps = q.steps[1:]
	}
	return s, true
}

// Drain empties the queue and returns what was left, in FIFO order.
func (q *requestQueue) Drain() []step {
	rest := make([]step, len(q.steps))
	copy(rest, q.steps)
	clear(q.steps)
	q.steps = q.steps[:0]
	return rest
}

// Len returns the current queue length.
func (q *requestQueue) Len() int {
	return len(q.steps)
}
