package scheduler_test

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/snehjoshi/vloop/internal/metrics"
	"github.com/snehjoshi/vloop/internal/scheduler"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

// recorder collects task labels in execution order.
type recorder struct {
	mu  sync.Mutex
	ran []string
}

func (r *recorder) task(label string) func() {
	return func() {
		r.mu.Lock()
		r.ran = append(r.ran, label)
		r.mu.Unlock()
	}
}

func (r *recorder) labels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ran))
	copy(out, r.ran)
	return out
}

func expectRan(t *testing.T, r *recorder, want ...string) {
	t.Helper()
	got := r.labels()
	if len(want) == 0 && len(got) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ran %v, want %v", got, want)
	}
}

func expectPanicNegative(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		v := recover()
		err, ok := v.(error)
		if !ok || !errors.Is(err, scheduler.ErrNegativeDelay) {
			t.Fatalf("expected panic wrapping ErrNegativeDelay, got %v", v)
		}
	}()
	fn()
}

const ms = time.Millisecond

// ─── ordering ────────────────────────────────────────────────────────────────

func TestScheduler_EarlierDelayRunsFirst(t *testing.T) {
	s := scheduler.New()
	r := &recorder{}

	s.PostDelayed(r.task("b"), 20*ms)
	s.PostDelayed(r.task("a"), 10*ms)

	s.AdvanceBy(20 * ms)
	expectRan(t, r, "a", "b")
}

func TestScheduler_EqualDelaysAreFIFO(t *testing.T) {
	s := scheduler.New()
	r := &recorder{}

	for _, l := range []string{"a", "b", "c", "d"} {
		s.PostDelayed(r.task(l), 5*ms)
	}

	s.AdvanceBy(5 * ms)
	expectRan(t, r, "a", "b", "c", "d")
}

func TestScheduler_NotYetDueStaysQueued(t *testing.T) {
	s := scheduler.New()
	r := &recorder{}

	s.PostDelayed(r.task("late"), 100*ms)
	if s.AdvanceBy(99 * ms) {
		t.Fatal("AdvanceBy(99ms) reported running a task")
	}
	expectRan(t, r)
	if s.Size() != 1 {
		t.Fatalf("Size: want 1, got %d", s.Size())
	}

	s.AdvanceBy(1 * ms)
	expectRan(t, r, "late")
	if s.CurrentTime() != 100*ms {
		t.Errorf("CurrentTime: want 100ms, got %v", s.CurrentTime())
	}
}

func TestScheduler_FrontOfQueuePreemptsEverything(t *testing.T) {
	s := scheduler.New()
	r := &recorder{}

	s.Post(r.task("a"))
	s.PostDelayed(r.task("b"), 10*ms)
	s.PostAtFrontOfQueue(r.task("x"))

	if !s.RunOneTask() {
		t.Fatal("RunOneTask reported empty queue")
	}
	expectRan(t, r, "x")

	s.AdvanceBy(10 * ms)
	expectRan(t, r, "x", "a", "b")
}

func TestScheduler_FrontOfQueueAheadOfEarlierDueTimes(t *testing.T) {
	s := scheduler.New()
	r := &recorder{}

	// Clock moves while paused so the front task's recorded due time (50ms)
	// is later than the queued task's (0ms).
	s.Pause()
	s.Post(r.task("early"))
	s.AdvanceBy(50 * ms)
	s.PostAtFrontOfQueue(r.task("front"))
	s.UnPause()

	expectRan(t, r, "front", "early")
}

func TestScheduler_LatestFrontPostRunsFirst(t *testing.T) {
	s := scheduler.New()
	r := &recorder{}

	s.Post(r.task("queued"))
	s.PostAtFrontOfQueue(r.task("f1"))
	s.PostAtFrontOfQueue(r.task("f2"))

	s.AdvanceBy(0)
	expectRan(t, r, "f2", "f1", "queued")
}

// ─── advancing ───────────────────────────────────────────────────────────────

func TestScheduler_IdleTwiceIsIdempotent(t *testing.T) {
	s := scheduler.New()
	r := &recorder{}

	s.Post(r.task("a"))
	if !s.AdvanceBy(0) {
		t.Fatal("first AdvanceBy(0) should run the task")
	}
	if s.AdvanceBy(0) {
		t.Fatal("second AdvanceBy(0) should run nothing")
	}
	expectRan(t, r, "a")
}

func TestScheduler_AdvanceOnEmptyQueueMovesClock(t *testing.T) {
	s := scheduler.New()
	if s.AdvanceBy(30 * ms) {
		t.Fatal("nothing should run on an empty queue")
	}
	if s.CurrentTime() != 30*ms {
		t.Fatalf("CurrentTime: want 30ms, got %v", s.CurrentTime())
	}
}

func TestScheduler_ReentrantPostsRunInSameAdvanceWhenDue(t *testing.T) {
	s := scheduler.New()
	r := &recorder{}

	s.PostDelayed(func() {
		r.task("outer")()
		s.Post(r.task("inner-now"))
		s.PostDelayed(r.task("inner-later"), 1*ms)
	}, 10*ms)

	s.AdvanceBy(10 * ms)
	expectRan(t, r, "outer", "inner-now")

	s.AdvanceBy(1 * ms)
	expectRan(t, r, "outer", "inner-now", "inner-later")
}

func TestScheduler_AdvanceToNeverMovesBackwards(t *testing.T) {
	s := scheduler.New()
	s.AdvanceBy(40 * ms)
	s.AdvanceTo(10 * ms)
	if s.CurrentTime() != 40*ms {
		t.Fatalf("CurrentTime: want 40ms, got %v", s.CurrentTime())
	}
}

func TestScheduler_AdvanceToNextRunsOnlyThatDueTime(t *testing.T) {
	s := scheduler.New()
	r := &recorder{}

	s.PostDelayed(r.task("a1"), 10*ms)
	s.PostDelayed(r.task("b"), 20*ms)
	s.PostDelayed(r.task("a2"), 10*ms)

	s.AdvanceToNextPostedRunnable()
	expectRan(t, r, "a1", "a2")
	if s.CurrentTime() != 10*ms {
		t.Errorf("CurrentTime: want 10ms, got %v", s.CurrentTime())
	}

	s.AdvanceToNextPostedRunnable()
	expectRan(t, r, "a1", "a2", "b")
}

func TestScheduler_AdvanceToNextOnEmptyQueueIsNoop(t *testing.T) {
	s := scheduler.New()
	if s.AdvanceToNextPostedRunnable() {
		t.Fatal("empty queue reported a run")
	}
	if s.CurrentTime() != 0 {
		t.Fatalf("CurrentTime: want 0, got %v", s.CurrentTime())
	}
}

func TestScheduler_AdvanceToLastRunsEverything(t *testing.T) {
	for _, order := range [][]time.Duration{{10 * ms, 50 * ms}, {50 * ms, 10 * ms}} {
		s := scheduler.New()
		r := &recorder{}
		for _, d := range order {
			s.PostDelayed(r.task(d.String()), d)
		}

		s.AdvanceToLastPostedRunnable()
		expectRan(t, r, "10ms", "50ms")
		if s.CurrentTime() != 50*ms {
			t.Errorf("CurrentTime: want 50ms, got %v", s.CurrentTime())
		}
	}
}

// RunOneTask deliberately runs a single task even when others share its due
// time, while AdvanceToLastPostedRunnable drains several due times at once.
func TestScheduler_RunOneTaskVersusRunToEndAsymmetry(t *testing.T) {
	s := scheduler.New()
	r := &recorder{}

	s.PostDelayed(r.task("a"), 5*ms)
	s.PostDelayed(r.task("b"), 5*ms)

	if !s.RunOneTask() {
		t.Fatal("RunOneTask reported empty queue")
	}
	expectRan(t, r, "a")
	if s.Size() != 1 {
		t.Fatalf("Size after RunOneTask: want 1, got %d", s.Size())
	}
	if s.CurrentTime() != 5*ms {
		t.Errorf("CurrentTime: want 5ms, got %v", s.CurrentTime())
	}

	s.PostDelayed(r.task("c"), 10*ms)
	s.AdvanceToLastPostedRunnable()
	expectRan(t, r, "a", "b", "c")
}

func TestScheduler_RunOneTaskNeverRewindsClock(t *testing.T) {
	s := scheduler.New()
	r := &recorder{}

	// The 5ms task runs after the clock has already reached 20ms and pulls
	// the 10ms task forward with RunOneTask.
	s.PostDelayed(func() {
		r.task("5ms")()
		s.RunOneTask()
		if s.CurrentTime() != 20*ms {
			t.Errorf("CurrentTime inside task: want 20ms, got %v", s.CurrentTime())
		}
	}, 5*ms)
	s.PostDelayed(r.task("10ms"), 10*ms)

	s.AdvanceBy(20 * ms)
	expectRan(t, r, "5ms", "10ms")
	if s.CurrentTime() != 20*ms {
		t.Fatalf("CurrentTime: want 20ms, got %v", s.CurrentTime())
	}
}

func TestScheduler_RunOneTaskEmpty(t *testing.T) {
	s := scheduler.New()
	if s.RunOneTask() {
		t.Fatal("RunOneTask on empty queue reported true")
	}
}

// ─── pause / idle constantly ─────────────────────────────────────────────────

func TestScheduler_PausedAdvanceRunsNothingUntilUnPause(t *testing.T) {
	s := scheduler.New()
	r := &recorder{}

	s.Pause()
	s.Post(r.task("1"))
	s.Post(r.task("2"))
	s.Post(r.task("3"))

	s.AdvanceBy(0)
	s.AdvanceBy(10 * ms)
	s.AdvanceToLastPostedRunnable()
	if s.RunOneTask() {
		t.Fatal("RunOneTask ran while paused")
	}
	expectRan(t, r)
	if s.CurrentTime() != 10*ms {
		t.Errorf("paused advance should still move the clock, got %v", s.CurrentTime())
	}

	s.UnPause()
	expectRan(t, r, "1", "2", "3")

	s.AdvanceBy(0)
	expectRan(t, r, "1", "2", "3")
}

func TestScheduler_PausedRunOneTaskLeavesQueueAndClock(t *testing.T) {
	s := scheduler.New()
	r := &recorder{}
	s.PostDelayed(r.task("later"), 20*ms)
	s.Post(r.task("now"))

	s.Pause()
	if s.RunOneTask() {
		t.Fatal("RunOneTask reported true while paused")
	}
	if s.Size() != 2 {
		t.Fatalf("paused RunOneTask consumed tasks: size %d", s.Size())
	}
	if s.CurrentTime() != 0 {
		t.Fatalf("paused RunOneTask moved the clock to %v", s.CurrentTime())
	}
	expectRan(t, r)

	s.UnPause()
	expectRan(t, r, "now")
	if !s.RunOneTask() {
		t.Fatal("RunOneTask after UnPause reported false")
	}
	expectRan(t, r, "now", "later")
	if s.CurrentTime() != 20*ms {
		t.Errorf("want clock at 20ms, got %v", s.CurrentTime())
	}
}

func TestScheduler_IdleConstantlyRunsOnPost(t *testing.T) {
	s := scheduler.New()
	r := &recorder{}

	s.IdleConstantly(true)
	s.Post(r.task("now"))
	expectRan(t, r, "now")

	s.PostDelayed(r.task("later"), 5*ms)
	expectRan(t, r, "now")

	s.PostAtFrontOfQueue(r.task("front"))
	expectRan(t, r, "now", "front")

	s.AdvanceBy(5 * ms)
	expectRan(t, r, "now", "front", "later")
}

func TestScheduler_PauseSuppressesIdleConstantly(t *testing.T) {
	s := scheduler.New()
	r := &recorder{}

	s.IdleConstantly(true)
	s.Pause()
	s.Post(r.task("held"))
	expectRan(t, r)

	s.UnPause()
	expectRan(t, r, "held")
}

func TestScheduler_PauseInsideTaskStopsDrain(t *testing.T) {
	s := scheduler.New()
	r := &recorder{}

	s.Post(func() {
		r.task("first")()
		s.Pause()
	})
	s.Post(r.task("second"))

	s.AdvanceBy(0)
	expectRan(t, r, "first")

	s.UnPause()
	expectRan(t, r, "first", "second")
}

// ─── reset ───────────────────────────────────────────────────────────────────

func TestScheduler_ResetDiscardsEverything(t *testing.T) {
	var reg metrics.Registry
	s := scheduler.New(scheduler.WithMetrics(&reg, "main"))
	r := &recorder{}

	s.PostDelayed(r.task("a"), 5*ms)
	s.PostDelayed(r.task("b"), 10*ms)
	s.AdvanceBy(3 * ms)
	s.Pause()
	s.IdleConstantly(true)

	s.Reset()

	if s.Size() != 0 {
		t.Fatalf("Size after Reset: want 0, got %d", s.Size())
	}
	if s.CurrentTime() != 0 {
		t.Errorf("CurrentTime after Reset: want 0, got %v", s.CurrentTime())
	}
	if s.IsPaused() || s.IsIdlingConstantly() {
		t.Errorf("Reset should clear paused and idle-constantly flags")
	}

	s.AdvanceBy(time.Second)
	expectRan(t, r)

	if got := reg.Discarded.Get("main"); got != 2 {
		t.Errorf("Discarded: want 2, got %d", got)
	}
}

// ─── inspection / misc ───────────────────────────────────────────────────────

func TestScheduler_Inspection(t *testing.T) {
	s := scheduler.New()

	if _, ok := s.NextDueTime(); ok {
		t.Fatal("NextDueTime on empty queue reported ok")
	}
	s.PostDelayed(func() {}, 7*ms)
	if due, ok := s.NextDueTime(); !ok || due != 7*ms {
		t.Fatalf("NextDueTime: want 7ms, got %v (ok=%v)", due, ok)
	}
	if s.AreAnyRunnable() {
		t.Error("AreAnyRunnable should be false before the task is due")
	}
	s.Pause()
	s.AdvanceBy(7 * ms)
	if !s.AreAnyRunnable() {
		t.Error("AreAnyRunnable should be true once the task is due")
	}
}

func TestScheduler_ExecutedMetric(t *testing.T) {
	var reg metrics.Registry
	s := scheduler.New(scheduler.WithMetrics(&reg, "worker"))

	s.Post(func() {})
	s.Post(func() {})
	s.AdvanceBy(0)

	if got := reg.Executed.Get("worker"); got != 2 {
		t.Fatalf("Executed: want 2, got %d", got)
	}
}

func TestScheduler_NegativeDelayPanics(t *testing.T) {
	s := scheduler.New()
	expectPanicNegative(t, func() { s.PostDelayed(func() {}, -1) })
	expectPanicNegative(t, func() { s.AdvanceBy(-1) })
	if s.Size() != 0 {
		t.Fatalf("rejected post must not enqueue, Size=%d", s.Size())
	}
}

func TestScheduler_PanickingTaskIsConsumed(t *testing.T) {
	s := scheduler.New()
	r := &recorder{}

	s.Post(func() { panic("boom") })
	s.Post(r.task("after"))

	func() {
		defer func() { _ = recover() }()
		s.AdvanceBy(0)
	}()

	if s.Size() != 1 {
		t.Fatalf("Size after panic: want 1, got %d", s.Size())
	}
	s.AdvanceBy(0)
	expectRan(t, r, "after")
}

func TestScheduler_ConcurrentPostsAreAllRun(t *testing.T) {
	s := scheduler.New()
	var wg sync.WaitGroup
	var mu sync.Mutex
	n := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Post(func() {
				mu.Lock()
				n++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()
	s.AdvanceBy(0)

	if n != 50 {
		t.Fatalf("ran %d tasks, want 50", n)
	}
}
