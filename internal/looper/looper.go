// Package looper binds virtual-time schedulers to simulated execution
// contexts.
//
// A Looper is the message loop of one Thread. Work posted to it is queued on
// its scheduler.Scheduler and runs only when the owner drives the loop with
// Idle, IdleFor, RunOneTask and friends. Non-main loopers can also be parked
// in Loop, which blocks until another goroutine calls Quit.
//
// A Registry maps Threads to Loopers. It is an explicit value, created once
// per test process (or per test) and passed to whoever needs it:
//
//	main := looper.NewThread("main")
//	reg := looper.NewRegistry(main)
//
//	worker := looper.NewThread("worker")
//	w := reg.LooperFor(worker)
//	go w.Loop(ctx)
//	w.Post(func() { ... }, 0)
//	w.Idle()
//	_ = w.Quit()
//
//	_ = reg.ResetAll(main) // between tests
package looper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"weak"

	"github.com/snehjoshi/vloop/internal/metrics"
	"github.com/snehjoshi/vloop/internal/scheduler"
)

var (
	// ErrMainLooperQuit is returned by Quit on the main looper.
	ErrMainLooperQuit = errors.New("looper: main looper is not allowed to quit")

	// ErrNotMainThread is returned by Registry.ResetAll when the caller is
	// not the registry's main thread.
	ErrNotMainThread = errors.New("looper: only the main thread may reset loopers")
)

// Looper is the control loop of one simulated execution context.
// All methods are safe for concurrent use.
type Looper struct {
	thread weak.Pointer[Thread]
	name   string
	main   bool

	log     *slog.Logger
	metrics *metrics.Registry

	mu     sync.Mutex
	sched  *scheduler.Scheduler
	quit   bool
	quitCh chan struct{} // closed by Quit; replaced by Reset after a quit
}

func newLooper(t *Thread, main bool, log *slog.Logger, reg *metrics.Registry) *Looper {
	l := &Looper{
		thread:  weak.Make(t),
		name:    t.Name(),
		main:    main,
		log:     log.With("thread", t.Name(), "thread_id", t.ID().String()),
		metrics: reg,
		quitCh:  make(chan struct{}),
	}
	l.sched = l.newScheduler()
	return l
}

func (l *Looper) newScheduler() *scheduler.Scheduler {
	if l.metrics == nil {
		return scheduler.New()
	}
	return scheduler.New(scheduler.WithMetrics(l.metrics, l.name))
}

// current returns the bound scheduler. Reset swaps it, so callers must not
// cache it across calls.
func (l *Looper) current() *scheduler.Scheduler {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sched
}

// ─── posting ─────────────────────────────────────────────────────────────────

// Post queues action to run delay from now on this looper's virtual clock.
// It returns false, and queues nothing, once the looper has quit.
func (l *Looper) Post(action func(), delay time.Duration) bool {
	return l.enqueue(func(s *scheduler.Scheduler) { s.PostDelayed(action, delay) })
}

// PostAtFrontOfQueue queues action ahead of everything already queued.
// It returns false, and queues nothing, once the looper has quit.
func (l *Looper) PostAtFrontOfQueue(action func()) bool {
	return l.enqueue(func(s *scheduler.Scheduler) { s.PostAtFrontOfQueue(action) })
}

func (l *Looper) enqueue(post func(*scheduler.Scheduler)) bool {
	l.mu.Lock()
	if l.quit {
		l.mu.Unlock()
		if l.metrics != nil {
			l.metrics.Rejected.Inc(l.name)
		}
		return false
	}
	s := l.sched
	l.mu.Unlock()

	post(s)

	// A concurrent Quit may have reset s before our task landed in it.
	l.mu.Lock()
	lost := l.quit && l.sched == s
	l.mu.Unlock()
	if lost {
		s.Reset()
	}

	if l.metrics != nil {
		l.metrics.Posted.Inc(l.name)
	}
	return true
}

// ─── blocking loop / quit ────────────────────────────────────────────────────

// Loop parks the calling goroutine until the looper quits, returning nil, or
// until ctx is done, returning ctx.Err(). It returns immediately for the main
// looper, whose loop is driven by the Idle and Run methods instead.
//
// Loop consumes no virtual time and does not run tasks.
func (l *Looper) Loop(ctx context.Context) error {
	if l.main {
		return nil
	}

	l.mu.Lock()
	if l.quit {
		l.mu.Unlock()
		return nil
	}
	done := l.quitCh
	l.mu.Unlock()

	l.log.Debug("looper parked")
	select {
	case <-done:
		l.log.Debug("looper released")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Quit stops the looper: pending tasks are discarded, later posts are
// rejected and every goroutine parked in Loop returns. Quitting an already
// quit looper is a no-op. The main looper refuses with ErrMainLooperQuit and
// is left untouched.
func (l *Looper) Quit() error {
	if l.main {
		l.log.Warn("quit called on main looper")
		return ErrMainLooperQuit
	}

	l.mu.Lock()
	if l.quit {
		l.mu.Unlock()
		return nil
	}
	l.quit = true
	s := l.sched
	close(l.quitCh)
	l.mu.Unlock()

	pending := s.Size()
	s.Reset()

	if l.metrics != nil {
		l.metrics.Quits.Inc(l.name)
	}
	l.log.Debug("looper quit", "discarded", pending)
	return nil
}

// HasQuit reports whether Quit has been called since the last Reset.
func (l *Looper) HasQuit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.quit
}

// Reset binds a fresh scheduler, discarding all pending work, and clears the
// quit flag so the looper accepts posts again.
func (l *Looper) Reset() {
	fresh := l.newScheduler()

	l.mu.Lock()
	old := l.sched
	l.sched = fresh
	if l.quit {
		// Waiters on the old channel were already released by Quit.
		l.quitCh = make(chan struct{})
	}
	l.quit = false
	l.mu.Unlock()

	old.Reset()

	if l.metrics != nil {
		l.metrics.Resets.Inc(l.name)
	}
	l.log.Debug("looper reset")
}

// ─── driving ─────────────────────────────────────────────────────────────────

// Idle runs every task that is due now without moving the clock.
func (l *Looper) Idle() bool { return l.current().AdvanceBy(0) }

// IdleFor advances the clock by interval and runs everything that becomes due.
func (l *Looper) IdleFor(interval time.Duration) bool { return l.current().AdvanceBy(interval) }

// IdleConstantly makes every post run due work immediately.
func (l *Looper) IdleConstantly(enabled bool) { l.current().IdleConstantly(enabled) }

// Pause stops tasks from running until UnPause.
func (l *Looper) Pause() { l.current().Pause() }

// UnPause resumes execution and runs everything already due.
func (l *Looper) UnPause() { l.current().UnPause() }

// RunToEndOfTasks advances the clock to the last queued task's due time and
// runs everything due by then.
func (l *Looper) RunToEndOfTasks() bool { return l.current().AdvanceToLastPostedRunnable() }

// RunToNextTask advances the clock to the next task's due time and runs every
// task due at that time.
func (l *Looper) RunToNextTask() bool { return l.current().AdvanceToNextPostedRunnable() }

// RunOneTask runs only the task at the head of the queue. It runs nothing
// and reports false while the looper is paused.
func (l *Looper) RunOneTask() bool { return l.current().RunOneTask() }

// ─── inspection ──────────────────────────────────────────────────────────────

// Scheduler returns the scheduler currently bound to the looper.
func (l *Looper) Scheduler() *scheduler.Scheduler { return l.current() }

// Thread returns the looper's execution context, or nil once that Thread has
// been garbage collected.
func (l *Looper) Thread() *Thread { return l.thread.Value() }

// Name returns the name of the looper's thread.
func (l *Looper) Name() string { return l.name }

// IsMain reports whether this is the registry's main looper.
func (l *Looper) IsMain() bool { return l.main }
