// Package workqueue distributes request tasks to workers.
//
// The queue is unbounded so a fixed-count run can be fully pre-populated
// before workers start. Pop never blocks longer than its timeout, which lets
// workers re-check the run context between waits.
package workqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/studiowebux/surge/internal/types"
)

var (
	// ErrEmpty is returned by Pop when no task arrived before the timeout
	ErrEmpty = errors.New("workqueue: empty")

	// ErrTerminated is returned by Pop when it dequeues a termination signal
	ErrTerminated = errors.New("workqueue: terminated")
)

type item struct {
	task types.Task
	stop bool
}

// Queue is a FIFO of tasks safe for any number of concurrent pushers and poppers
type Queue struct {
	mu    sync.Mutex
	items []item
	head  int

	// ready holds at most one wake-up token. Every push deposits one, and a
	// pop that leaves items behind passes it on, so waiters are never stranded.
	ready chan struct{}
}

// New creates an empty queue
func New() *Queue {
	return &Queue{
		ready: make(chan struct{}, 1),
	}
}

// Push appends a task. It never blocks.
func (q *Queue) Push(task types.Task) {
	q.mu.Lock()
	q.items = append(q.items, item{task: task})
	q.mu.Unlock()
	q.signal()
}

// PushTerminationSignal enqueues count termination markers behind the
// currently queued tasks. Each marker stops exactly one worker.
func (q *Queue) PushTerminationSignal(count int) {
	if count <= 0 {
		return
	}
	q.mu.Lock()
	for i := 0; i < count; i++ {
		q.items = append(q.items, item{stop: true})
	}
	q.mu.Unlock()
	q.signal()
}

// Pop removes the oldest entry. It returns ErrEmpty once timeout elapses with
// nothing to take, ErrTerminated for a termination marker, or the context
// error if ctx ends first.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (types.Task, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if it, ok := q.take(); ok {
			if it.stop {
				return types.Task{}, ErrTerminated
			}
			return it.task, nil
		}

		if timer == nil {
			timer = time.NewTimer(timeout)
		}

		select {
		case <-ctx.Done():
			return types.Task{}, ctx.Err()
		case <-timer.C:
			// One last look so a push racing the timer is not missed
			if it, ok := q.take(); ok {
				if it.stop {
					return types.Task{}, ErrTerminated
				}
				return it.task, nil
			}
			return types.Task{}, ErrEmpty
		case <-q.ready:
		}
	}
}

// Len returns the number of queued entries, termination markers included
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Clear drops every queued entry and returns how many were removed
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items) - q.head
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
	return n
}

func (q *Queue) take() (item, bool) {
	q.mu.Lock()
	if q.head == len(q.items) {
		q.mu.Unlock()
		return item{}, false
	}

	it := q.items[q.head]
	q.items[q.head] = item{}
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	remaining := len(q.items) - q.head
	q.mu.Unlock()

	if remaining > 0 {
		q.signal()
	}
	return it, true
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
