// Package scheduler implements a virtual-time task scheduler.
//
// Nothing here runs on its own. Tasks are queued with a due time relative to
// a virtual clock and only execute when the owner drives the scheduler:
//
//	s := scheduler.New()
//	s.PostDelayed(func() { fmt.Println("b") }, 50*time.Millisecond)
//	s.PostDelayed(func() { fmt.Println("a") }, 10*time.Millisecond)
//	s.AdvanceBy(50 * time.Millisecond) // prints a, then b
//
// Queue order is (due time, post order), except that tasks posted with
// PostAtFrontOfQueue jump ahead of everything already queued.
//
// Tasks run synchronously on the goroutine that called the advance method,
// with the scheduler lock released, so a task may post more tasks or drive
// the scheduler itself. All methods are safe for concurrent use, but only one
// goroutine is expected to drive a given scheduler; other goroutines post.
package scheduler

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/snehjoshi/vloop/internal/clock"
	"github.com/snehjoshi/vloop/internal/metrics"
)

// ErrNegativeDelay is the panic value (wrapped) when a negative delay or
// interval is passed to PostDelayed or AdvanceBy.
var ErrNegativeDelay = errors.New("scheduler: negative delay")

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics counts executed and discarded tasks under key in reg.
func WithMetrics(reg *metrics.Registry, key string) Option {
	return func(s *Scheduler) {
		s.metrics = reg
		s.metricsKey = key
	}
}

// Scheduler owns one virtual clock and one task queue.
type Scheduler struct {
	mu    sync.Mutex
	clock clock.Clock
	h     taskHeap
	seq   uint64

	paused         bool
	idleConstantly bool

	metrics    *metrics.Registry
	metricsKey string
}

// New creates an empty scheduler with its clock at the virtual epoch.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{h: make(taskHeap, 0, 16)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Post queues action to run at the current virtual time.
func (s *Scheduler) Post(action func()) {
	s.PostDelayed(action, 0)
}

// PostDelayed queues action to run delay after the current virtual time.
// Tasks with equal due times run in the order they were posted.
//
// If the scheduler is idling constantly and not paused, every due task
// (including this one, when delay is zero) runs before PostDelayed returns.
func (s *Scheduler) PostDelayed(action func(), delay time.Duration) {
	if delay < 0 {
		panic(fmt.Errorf("%w: PostDelayed(%v)", ErrNegativeDelay, delay))
	}
	s.mu.Lock()
	s.pushLocked(action, s.clock.Now()+delay, false)
	eager := s.idleConstantly && !s.paused
	s.mu.Unlock()

	if eager {
		s.drain()
	}
}

// PostAtFrontOfQueue queues action ahead of every task already queued,
// whatever their due times. Its due time is recorded as the current time.
func (s *Scheduler) PostAtFrontOfQueue(action func()) {
	s.mu.Lock()
	s.pushLocked(action, s.clock.Now(), true)
	eager := s.idleConstantly && !s.paused
	s.mu.Unlock()

	if eager {
		s.drain()
	}
}

// AdvanceBy moves the clock forward by interval, then runs every task whose
// due time is at or before the new time, in queue order. Tasks posted by
// running tasks also run if they become due within the same window.
// It reports whether any task ran.
func (s *Scheduler) AdvanceBy(interval time.Duration) bool {
	if interval < 0 {
		panic(fmt.Errorf("%w: AdvanceBy(%v)", ErrNegativeDelay, interval))
	}
	s.mu.Lock()
	s.clock.Advance(interval)
	s.mu.Unlock()
	return s.drain()
}

// AdvanceTo moves the clock to t and runs everything now due. A t earlier
// than the current time leaves the clock where it is.
func (s *Scheduler) AdvanceTo(t time.Duration) bool {
	s.mu.Lock()
	s.clock.AdvanceTo(t)
	s.mu.Unlock()
	return s.drain()
}

// AdvanceToNextPostedRunnable moves the clock to the due time of the task at
// the head of the queue and runs every task due by then. It is a no-op on an
// empty queue.
func (s *Scheduler) AdvanceToNextPostedRunnable() bool {
	s.mu.Lock()
	if len(s.h) == 0 {
		s.mu.Unlock()
		return false
	}
	s.clock.AdvanceTo(s.h[0].due)
	s.mu.Unlock()
	return s.drain()
}

// AdvanceToLastPostedRunnable moves the clock to the latest due time in the
// queue and runs everything due by then. Unlike RunOneTask this may run many
// tasks across several due times.
func (s *Scheduler) AdvanceToLastPostedRunnable() bool {
	s.mu.Lock()
	if len(s.h) == 0 {
		s.mu.Unlock()
		return false
	}
	s.clock.AdvanceTo(s.h.maxDue())
	s.mu.Unlock()
	return s.drain()
}

// RunOneTask runs exactly the task at the head of the queue, even if others
// share its due time. The clock moves to the task's due time if that is in
// the future. It reports false when the queue is empty.
//
// A paused scheduler also reports false: Pause blocks RunOneTask like every
// other execution path, and neither the queue nor the clock changes. Call
// UnPause first to step a paused queue.
func (s *Scheduler) RunOneTask() bool {
	s.mu.Lock()
	if s.paused || len(s.h) == 0 {
		s.mu.Unlock()
		return false
	}
	t := heap.Pop(&s.h).(*task)
	s.clock.AdvanceTo(t.due)
	s.mu.Unlock()

	s.run(t)
	return true
}

// Pause stops tasks from running. Advance calls still move the clock.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// UnPause resumes execution and immediately runs everything already due.
func (s *Scheduler) UnPause() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.drain()
}

// IdleConstantly toggles running due work as soon as it is posted.
func (s *Scheduler) IdleConstantly(enabled bool) {
	s.mu.Lock()
	s.idleConstantly = enabled
	s.mu.Unlock()
}

// Reset discards every queued task and returns the scheduler to its initial
// state: clock at the epoch, not paused, not idling constantly.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	discarded := len(s.h)
	for i := range s.h {
		s.h[i] = nil
	}
	s.h = s.h[:0]
	s.seq = 0
	s.clock.Reset()
	s.paused = false
	s.idleConstantly = false
	s.mu.Unlock()

	if s.metrics != nil && discarded > 0 {
		s.metrics.Discarded.Add(s.metricsKey, int64(discarded))
	}
}

// CurrentTime returns the virtual clock value.
func (s *Scheduler) CurrentTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Now()
}

// Size returns the number of queued tasks.
func (s *Scheduler) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.h)
}

// AreAnyRunnable reports whether the task at the head of the queue is due.
func (s *Scheduler) AreAnyRunnable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.h) > 0 && s.h[0].due <= s.clock.Now()
}

// NextDueTime returns the due time of the task at the head of the queue.
func (s *Scheduler) NextDueTime() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.h) == 0 {
		return 0, false
	}
	return s.h[0].due, true
}

// IsPaused reports whether the scheduler is paused.
func (s *Scheduler) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// IsIdlingConstantly reports whether posts drain due work eagerly.
func (s *Scheduler) IsIdlingConstantly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleConstantly
}

// ─── internals ────────────────────────────────────────────────────────────────

// pushLocked enqueues a task. MUST be called with s.mu held.
func (s *Scheduler) pushLocked(action func(), due time.Duration, front bool) {
	s.seq++
	heap.Push(&s.h, &task{action: action, due: due, seq: s.seq, front: front})
}

// drain runs due tasks one at a time until none is due or the scheduler is
// paused. The lock is re-acquired between tasks so that tasks can post.
// Termination: the clock does not move inside drain and each popped task is
// gone for good, so only tasks posted with zero delay can extend the loop.
func (s *Scheduler) drain() bool {
	ran := false
	for {
		s.mu.Lock()
		if s.paused || len(s.h) == 0 || s.h[0].due > s.clock.Now() {
			s.mu.Unlock()
			return ran
		}
		t := heap.Pop(&s.h).(*task)
		s.mu.Unlock()

		s.run(t)
		ran = true
	}
}

func (s *Scheduler) run(t *task) {
	if s.metrics != nil {
		s.metrics.Executed.Inc(s.metricsKey)
	}
	t.action()
}
