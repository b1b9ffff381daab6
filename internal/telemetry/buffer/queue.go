// Package buffer holds telemetry records of one kind until a batch is
// drained for export.
package buffer

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrOverflow is returned by Enqueue when the queue is at capacity.
	ErrOverflow = errors.New("buffer: queue is full")

	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("buffer: queue is closed")
)

// OverflowPolicy decides what Enqueue does when the queue is full.
// Neither policy evicts buffered records; the oldest record is always the
// next one exported.
type OverflowPolicy int

const (
	// DropNew rejects the incoming record with ErrOverflow.
	DropNew OverflowPolicy = iota
	// Block waits up to Config.BlockTimeout for a drain, then rejects.
	Block
)

// ParseOverflowPolicy maps "drop_new" and "block" to a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "drop_new":
		return DropNew, nil
	case "block":
		return Block, nil
	default:
		return DropNew, fmt.Errorf("unknown overflow policy %q (want drop_new or block)", s)
	}
}

func (p OverflowPolicy) String() string {
	switch p {
	case DropNew:
		return "drop_new"
	case Block:
		return "block"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

// Config sizes a Queue.
type Config struct {
	Capacity     int
	BatchSize    int
	Policy       OverflowPolicy
	BlockTimeout time.Duration
}

// Queue is a bounded FIFO of pending records.
//
// Enqueue is safe for concurrent producers. Drain swaps the backing slice
// under the same lock, so a record is returned by exactly one Drain.
type Queue[T any] struct {
	cfg Config

	mu     sync.Mutex
	items  []T
	closed bool
	// space is closed and replaced whenever a drain frees capacity.
	space chan struct{}

	ready chan struct{}
}

// New returns an empty queue. Capacity and BatchSize default to 2048 and
// 512; BatchSize is clamped to Capacity.
func New[T any](cfg Config) *Queue[T] {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 2048
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 512
	}
	if cfg.BatchSize > cfg.Capacity {
		cfg.BatchSize = cfg.Capacity
	}
	return &Queue[T]{
		cfg:   cfg,
		items: make([]T, 0, cfg.BatchSize),
		space: make(chan struct{}),
		ready: make(chan struct{}, 1),
	}
}

// Enqueue appends rec.
func (q *Queue[T]) Enqueue(rec T) error {
	var deadline <-chan time.Time

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if len(q.items) < q.cfg.Capacity {
			q.items = append(q.items, rec)
			full := len(q.items) >= q.cfg.BatchSize
			q.mu.Unlock()
			if full {
				q.signalReady()
			}
			return nil
		}
		space := q.space
		q.mu.Unlock()

		if q.cfg.Policy != Block || q.cfg.BlockTimeout <= 0 {
			return ErrOverflow
		}

		if deadline == nil {
			timer := time.NewTimer(q.cfg.BlockTimeout)
			defer timer.Stop()
			deadline = timer.C
		}
		// Make sure the worker knows there is something to drain.
		q.signalReady()
		select {
		case <-space:
		case <-deadline:
			return ErrOverflow
		}
	}
}

// Drain removes and returns every buffered record in enqueue order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = make([]T, 0, q.cfg.BatchSize)

	close(q.space)
	q.space = make(chan struct{})
	return out
}

// Ready is signalled when the queue length reaches the batch size.
// Signals coalesce: one pending signal may stand for many enqueues.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of buffered records.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// BatchSize returns the effective batch size.
func (q *Queue[T]) BatchSize() int {
	return q.cfg.BatchSize
}

// Close rejects further enqueues and releases blocked producers.
// Buffered records stay available to Drain.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.space)
	q.space = make(chan struct{})
}

func (q *Queue[T]) signalReady() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
