// internal/dispatch/queue.go
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/roomsync/internal/types"
)

// Task is one store mutation, applied atomically with respect to every
// other task on the same lane.
type Task func()

// Queue serializes store mutations per room. Each room gets its own
// FIFO channel (lane) drained by a single goroutine, so mutations within
// a room apply strictly in arrival order and never interleave mid-merge,
// while the semaphore limits how many rooms mutate concurrently.
type Queue struct {
	lanes     map[types.RoomID]chan Task
	semaphore *semaphore.Weighted
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewQueue creates a Queue allowing up to maxConcurrent rooms to apply
// mutations simultaneously.
func NewQueue(maxConcurrent int64) *Queue {
	return &Queue{
		lanes:     make(map[types.RoomID]chan Task),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Submit.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for
// in-flight tasks to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for _, lane := range q.lanes {
		close(lane)
	}
	q.lanes = make(map[types.RoomID]chan Task)
	q.mu.Unlock()
	q.wg.Wait()
}

// Submit adds a task to the room's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is
// full.
func (q *Queue) Submit(roomID types.RoomID, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	lane, exists := q.lanes[roomID]
	if !exists {
		lane = make(chan Task, 256)
		q.lanes[roomID] = lane
		q.wg.Add(1)
		go q.processLane(lane)
	}

	select {
	case lane <- task:
		return nil
	default:
		return fmt.Errorf("queue full for room %s", roomID)
	}
}

func (q *Queue) processLane(lane chan Task) {
	defer q.wg.Done()
	for {
		select {
		case task, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				return
			}
			q.active.Add(1)
			task()
			q.active.Add(-1)
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			return
		}
	}
}

// WaitIdle blocks until no tasks are actively applying, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 && q.pendingCount() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *Queue) pendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, lane := range q.lanes {
		n += len(lane)
	}
	return n
}
