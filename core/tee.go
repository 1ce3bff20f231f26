package core

import (
	"context"
	"sync"
	"sync/atomic"
)

// Unbounded marks a Tee subscriber as having no buffer capacity limit.
const Unbounded = -1

// TeeMetrics exposes live backpressure observability for one Tee subscriber:
// how many items are currently buffered, and the high-water mark.
type TeeMetrics struct {
	buffered atomic.Int64
	peak     atomic.Int64
}

func (m *TeeMetrics) Buffered() int64 { return m.buffered.Load() }
func (m *TeeMetrics) Peak() int64     { return m.peak.Load() }

func (m *TeeMetrics) inc() {
	n := m.buffered.Add(1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (m *TeeMetrics) dec() { m.buffered.Add(-1) }

// Tee replicates a single upstream Pipe[T] into one independent subscriber
// Pipe[T] per downstream edge. Each subscriber has its own buffer and
// consumes at its own rate; a subscriber whose buffer is full (bounded
// capacity) paces the shared producer loop until it drains, which is how
// backpressure from the slowest subscriber becomes backpressure on the
// source. A subscriber that fails or is cancelled is dropped from future
// rounds without affecting its siblings.
type Tee[T any] struct {
	subs []*teeSub[T]
}

// NewTee starts replicating source into n subscriber pipes, each buffered to
// capacity (Unbounded for no limit). Replication begins immediately on a
// background goroutine.
func NewTee[T any](ctx context.Context, source Pipe[T], n int, capacity int) *Tee[T] {
	t := &Tee[T]{subs: make([]*teeSub[T], n)}
	for i := range t.subs {
		t.subs[i] = newTeeSub[T](capacity)
	}
	go t.run(ctx, source)
	return t
}

// Subscribers returns the n subscriber pipes, in the order passed to NewTee.
func (t *Tee[T]) Subscribers() []Pipe[T] {
	out := make([]Pipe[T], len(t.subs))
	for i, s := range t.subs {
		out[i] = s
	}
	return out
}

// Metrics returns the TeeMetrics for subscriber i.
func (t *Tee[T]) Metrics(i int) *TeeMetrics { return &t.subs[i].metrics }

func (t *Tee[T]) run(ctx context.Context, source Pipe[T]) {
	defer func() {
		for _, s := range t.subs {
			s.closeQueue()
		}
	}()
	live := make([]bool, len(t.subs))
	for i := range live {
		live[i] = true
	}
	anyLive := func() bool {
		for _, l := range live {
			if l {
				return true
			}
		}
		return false
	}
	for anyLive() {
		item, ok, err := source.Next(ctx)
		if err != nil || !ok {
			if err != nil {
				for i, s := range t.subs {
					if live[i] {
						s.fail(err)
					}
				}
			}
			return
		}
		var wg sync.WaitGroup
		for i, s := range t.subs {
			if !live[i] {
				continue
			}
			wg.Add(1)
			go func(i int, s *teeSub[T]) {
				defer wg.Done()
				if !s.send(ctx, item) {
					live[i] = false
				}
			}(i, s)
		}
		wg.Wait()
	}
}

// teeSub is one Tee subscriber: a bounded channel for finite capacity, or an
// unbounded growable queue for Unbounded capacity.
type teeSub[T any] struct {
	label   string
	metrics TeeMetrics

	bounded chan T // non-nil when capacity > 0

	unbounded *unboundedQueue[T] // non-nil when capacity <= 0

	errOnce sync.Once
	errCh   chan error
	done    chan struct{}
}

func newTeeSub[T any](capacity int) *teeSub[T] {
	s := &teeSub[T]{
		errCh: make(chan error, 1),
		done:  make(chan struct{}),
	}
	if capacity > 0 {
		s.bounded = make(chan T, capacity)
	} else {
		s.unbounded = newUnboundedQueue[T]()
	}
	return s
}

// send delivers item to the subscriber, blocking if bounded and full. It
// returns false if the subscriber has been cancelled/closed and should be
// dropped from future rounds.
func (s *teeSub[T]) send(ctx context.Context, item T) bool {
	if s.unbounded != nil {
		s.unbounded.push(item)
		s.metrics.inc()
		return true
	}
	select {
	case s.bounded <- item:
		s.metrics.inc()
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}

func (s *teeSub[T]) fail(err error) {
	s.errOnce.Do(func() { s.errCh <- err })
	s.closeQueue()
}

func (s *teeSub[T]) closeQueue() {
	if s.unbounded != nil {
		s.unbounded.closeQueue()
		return
	}
	select {
	case <-s.done:
	default:
		close(s.done)
		close(s.bounded)
	}
}

func (s *teeSub[T]) Label() string { return s.label }

func (s *teeSub[T]) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *teeSub[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if s.unbounded != nil {
		item, ok := s.unbounded.pop(ctx)
		if ok {
			s.metrics.dec()
			return item, true, nil
		}
		select {
		case err := <-s.errCh:
			return zero, false, &UpstreamFailureError{Err: err}
		default:
		}
		if ctx.Err() != nil {
			return zero, false, ErrCancelled
		}
		return zero, false, nil
	}
	select {
	case <-ctx.Done():
		return zero, false, ErrCancelled
	case item, ok := <-s.bounded:
		if !ok {
			select {
			case err := <-s.errCh:
				return zero, false, &UpstreamFailureError{Err: err}
			default:
				return zero, false, nil
			}
		}
		s.metrics.dec()
		return item, true, nil
	}
}

// unboundedQueue is a growable SPSC queue used by Unbounded-capacity tee
// subscribers: pushes never block, regardless of how far the consumer lags.
type unboundedQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	wake   chan struct{}
}

func newUnboundedQueue[T any]() *unboundedQueue[T] {
	return &unboundedQueue[T]{wake: make(chan struct{}, 1)}
}

func (q *unboundedQueue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *unboundedQueue[T]) push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signal()
}

func (q *unboundedQueue[T]) closeQueue() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// pop blocks until an item is available, the queue is closed and empty, or
// ctx is done.
func (q *unboundedQueue[T]) pop(ctx context.Context) (T, bool) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, false
		}
		select {
		case <-q.wake:
		case <-ctx.Done():
			return zero, false
		}
	}
}
