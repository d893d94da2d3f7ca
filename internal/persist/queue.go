package persist

import "sync"

// Queue is a single-consumer ordered job queue. Every durable write of a
// device goes through its queue, so appends and compaction never interleave
// and a later job always observes the effects of earlier ones.
type Queue struct {
	mu     sync.Mutex
	jobs   chan func()
	done   chan struct{}
	closed bool
}

// NewQueue starts the consumer goroutine.
func NewQueue(buf int) *Queue {
	q := &Queue{
		jobs: make(chan func(), buf),
		done: make(chan struct{}),
	}
	go func() {
		defer close(q.done)
		for job := range q.jobs {
			job()
		}
	}()
	return q
}

// Enqueue adds a job to the tail of the queue. Jobs run to completion in
// order; there is no cancellation for in-flight jobs. Returns false if the
// queue is already closed.
func (q *Queue) Enqueue(job func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.jobs <- job
	return true
}

// Drain blocks until every job enqueued before the call has completed.
func (q *Queue) Drain() {
	barrier := make(chan struct{})
	if !q.Enqueue(func() { close(barrier) }) {
		return
	}
	<-barrier
}

// Close drains the queue and stops the consumer. Further Enqueue calls are
// rejected.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	<-q.done
}
