package archive

import "sync"

// growThreshold is the fill ratio, in percent, at which a Queue doubles.
const growThreshold = 70

// Queue is an unbounded FIFO used between Record and the batch writer.
// Push never blocks: the ring doubles once it is 70% full.
type Queue[T any] struct {
	mu     sync.Mutex
	ready  *sync.Cond
	ring   []T
	head   int
	size   int
	closed bool

	pushed  int64
	popped  int64
	resizes int
}

// QueueStats contains queue counters.
type QueueStats struct {
	Len     int
	Cap     int
	Pushed  int64
	Popped  int64
	Resizes int
}

// NewQueue creates a queue with room for capacity items before growing.
func NewQueue[T any](capacity int) *Queue[T] {
	q := &Queue[T]{ring: make([]T, max(capacity, 1))}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// Push appends item. It returns false once the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if (q.size+1)*100 >= len(q.ring)*growThreshold {
		q.resize(len(q.ring) * 2)
	}

	q.ring[(q.head+q.size)%len(q.ring)] = item
	q.size++
	q.pushed++
	q.ready.Signal()
	return true
}

// Pop blocks until an item is available. It returns false when the queue is
// closed and empty; items queued before Close are still delivered.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed {
		q.ready.Wait()
	}
	return q.take()
}

// TryPop is Pop without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.take()
}

// Drain removes up to limit queued items without waiting. A limit of 0 or
// less takes everything.
func (q *Queue[T]) Drain(limit int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.size
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil
	}

	out := make([]T, 0, n)
	for range n {
		item, _ := q.take()
		out = append(out, item)
	}
	return out
}

// Close stops further pushes and wakes blocked Pop calls.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.ready.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Stats returns queue counters.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Len:     q.size,
		Cap:     len(q.ring),
		Pushed:  q.pushed,
		Popped:  q.popped,
		Resizes: q.resizes,
	}
}

// take pops the head. Caller holds mu.
func (q *Queue[T]) take() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	item := q.ring[q.head]
	q.ring[q.head] = zero
	q.head = (q.head + 1) % len(q.ring)
	q.size--
	q.popped++
	return item, true
}

// resize moves the queued items to a ring of n slots. Caller holds mu.
func (q *Queue[T]) resize(n int) {
	ring := make([]T, n)
	for i := range q.size {
		ring[i] = q.ring[(q.head+i)%len(q.ring)]
	}
	q.ring = ring
	q.head = 0
	q.resizes++
}
