package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/snehjoshi/vloop/internal/looper"
	"github.com/snehjoshi/vloop/internal/metrics"
	"github.com/snehjoshi/vloop/internal/types"
)

var (
	// ErrExpectation is wrapped when a step's expectation does not hold.
	ErrExpectation = errors.New("scenario: expectation failed")

	// ErrNoLoop is returned by a wait step for a thread that was never looped.
	ErrNoLoop = errors.New("scenario: no loop to wait for")

	// ErrWaitTimeout is returned when a parked loop is still running after the
	// runner's wait timeout.
	ErrWaitTimeout = errors.New("scenario: timed out waiting for loop")
)

const defaultWaitTimeout = 5 * time.Second

// Option configures a Runner.
type Option func(*Runner)

// WithMainThread names the main execution context. Steps without a thread
// target it. Defaults to "main".
func WithMainThread(name string) Option {
	return func(r *Runner) { r.mainName = name }
}

// WithMainIdleConstantly makes the main looper run posted work immediately.
func WithMainIdleConstantly(enabled bool) Option {
	return func(r *Runner) { r.mainIdleConstantly = enabled }
}

// WithLogger sets the logger handed to the registry.
func WithLogger(log *slog.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithMetrics makes every looper created by a run count into reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(r *Runner) { r.metrics = reg }
}

// WithWaitTimeout bounds how long a wait step blocks. Defaults to 5s.
func WithWaitTimeout(d time.Duration) Option {
	return func(r *Runner) { r.waitTimeout = d }
}

// Runner executes scenarios. Each Run gets a fresh looper.Registry, so a
// Runner may be reused and runs never share state.
type Runner struct {
	mainName           string
	mainIdleConstantly bool
	log                *slog.Logger
	metrics            *metrics.Registry
	waitTimeout        time.Duration
}

// NewRunner returns a Runner configured by opts.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		mainName:    "main",
		waitTimeout: defaultWaitTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Result is the outcome of one run.
type Result struct {
	Scenario string
	Events   []types.Event
	// Rejected counts posts refused by quit loopers, nested posts included.
	Rejected int
	// Steps is the number of top-level steps that completed.
	Steps int
	// Loopers is the number of loopers registered when the run ended,
	// the main looper included.
	Loopers int
}

// Run executes sc. The returned Result is never nil: when a step fails it
// holds everything recorded up to the failure, alongside the error.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	main := looper.NewThread(r.mainName)
	opts := []looper.Option{
		looper.WithLogger(r.log),
		looper.WithMainIdleConstantly(r.mainIdleConstantly),
	}
	if r.metrics != nil {
		opts = append(opts, looper.WithMetrics(r.metrics))
	}

	loopCtx, cancel := context.WithCancel(ctx)
	rn := &run{
		runner:  r,
		reg:     looper.NewRegistry(main, opts...),
		threads: map[string]*looper.Thread{r.mainName: main},
		loops:   make(map[string][]chan error),
		loopCtx: loopCtx,
		res:     &Result{Scenario: sc.Name},
	}
	defer rn.teardown(cancel)

	log := r.log.With("scenario", sc.Name)
	log.Debug("scenario started", "steps", len(sc.Steps))

	for i, s := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return rn.res, err
		}
		if err := rn.step(s); err != nil {
			log.Debug("scenario failed", "step", i+1, "error", err)
			return rn.res, fmt.Errorf("scenario %q: step %d (%s): %w", sc.Name, i+1, s.Op, err)
		}
		rn.res.Steps++
	}

	log.Debug("scenario finished", "events", len(rn.res.Events), "rejected", rn.res.Rejected)
	return rn.res, nil
}

// run is the state of a single scenario execution.
type run struct {
	runner  *Runner
	reg     *looper.Registry
	threads map[string]*looper.Thread
	loops   map[string][]chan error
	loopCtx context.Context
	res     *Result
	mark    int
}

func (rn *run) threadName(name string) string {
	if name == "" {
		return rn.runner.mainName
	}
	return name
}

// thread resolves a thread name, creating the Thread on first use. The
// empty name is the main thread. Threads stay referenced for the whole run,
// so their loopers are never evicted mid-scenario.
func (rn *run) thread(name string) *looper.Thread {
	name = rn.threadName(name)
	t, ok := rn.threads[name]
	if !ok {
		t = looper.NewThread(name)
		rn.threads[name] = t
	}
	return t
}

func (rn *run) step(s Step) error {
	var (
		err    error
		got    bool
		hasGot bool
	)
	switch s.Op {
	case OpResetAll:
		err = rn.reg.ResetAll(rn.thread(s.Thread))
	case OpWait:
		err = rn.wait(rn.threadName(s.Thread))
	default:
		got, hasGot, err = rn.apply(s)
	}

	if err := checkError(s.ExpectError, err); err != nil {
		return err
	}
	if s.Want != nil && hasGot && got != *s.Want {
		return fmt.Errorf("%w: %s reported %t, want %t", ErrExpectation, s.Op, got, *s.Want)
	}
	if s.Expect != nil {
		return rn.checkpoint(*s.Expect)
	}
	return nil
}

// apply runs an op against the looper of the step's thread, creating that
// looper if needed.
func (rn *run) apply(s Step) (got, hasGot bool, err error) {
	t := rn.thread(s.Thread)
	l := rn.reg.LooperFor(t)

	switch s.Op {
	case OpPost, OpPostFront:
		accepted := rn.post(t.Name(), l, s)
		if s.ExpectRejected && accepted {
			return false, false, fmt.Errorf("%w: post %q was accepted, want rejected", ErrExpectation, s.Label)
		}
	case OpIdle:
		return l.IdleFor(s.Duration), true, nil
	case OpIdleConstantly:
		l.IdleConstantly(s.Enabled)
	case OpPause:
		l.Pause()
	case OpUnpause:
		l.UnPause()
	case OpRunToEnd:
		return l.RunToEndOfTasks(), true, nil
	case OpRunToNext:
		return l.RunToNextTask(), true, nil
	case OpRunOne:
		return l.RunOneTask(), true, nil
	case OpQuit:
		return false, false, l.Quit()
	case OpReset:
		l.Reset()
	case OpLoop:
		rn.startLoop(t.Name(), l)
	default:
		return false, false, fmt.Errorf("%w: unknown op %q", ErrInvalid, s.Op)
	}
	return false, false, nil
}

// post queues s on l and reports whether the looper accepted it.
func (rn *run) post(thread string, l *looper.Looper, s Step) bool {
	task := func() {
		rn.res.Events = append(rn.res.Events, types.Event{
			Seq:    uint64(len(rn.res.Events) + 1),
			Thread: thread,
			Label:  s.Label,
			At:     l.Scheduler().CurrentTime(),
		})
		for _, child := range s.Posts {
			rn.post(thread, l, child)
		}
	}

	var ok bool
	if s.Op == OpPostFront {
		ok = l.PostAtFrontOfQueue(task)
	} else {
		ok = l.Post(task, s.Delay)
	}
	if !ok {
		rn.res.Rejected++
	}
	return ok
}

// checkpoint compares the labels recorded since the previous checkpoint with
// want and moves the checkpoint forward.
func (rn *run) checkpoint(want []string) error {
	since := rn.res.Events[rn.mark:]
	rn.mark = len(rn.res.Events)

	got := make([]string, len(since))
	for i, ev := range since {
		got[i] = ev.Label
	}
	if !slices.Equal(got, want) {
		return fmt.Errorf("%w: ran %v, want %v", ErrExpectation, got, want)
	}
	return nil
}

func (rn *run) startLoop(thread string, l *looper.Looper) {
	done := make(chan error, 1)
	go func() { done <- l.Loop(rn.loopCtx) }()
	rn.loops[thread] = append(rn.loops[thread], done)
}

// wait joins every loop started on thread.
func (rn *run) wait(thread string) error {
	pending := rn.loops[thread]
	if len(pending) == 0 {
		return fmt.Errorf("%w: %s", ErrNoLoop, thread)
	}
	timer := time.NewTimer(rn.runner.waitTimeout)
	defer timer.Stop()

	for len(pending) > 0 {
		select {
		case err := <-pending[0]:
			if err != nil {
				return err
			}
			pending = pending[1:]
			rn.loops[thread] = pending
		case <-timer.C:
			return fmt.Errorf("%w: %s after %s", ErrWaitTimeout, thread, rn.runner.waitTimeout)
		}
	}
	delete(rn.loops, thread)
	return nil
}

// teardown releases loops the scenario left parked. Cancelling their context
// leaves looper state and metrics untouched.
func (rn *run) teardown(cancel context.CancelFunc) {
	cancel()
	for _, pending := range rn.loops {
		for _, done := range pending {
			<-done
		}
	}
	rn.res.Loopers = rn.reg.Len()
}

func checkError(want string, err error) error {
	var wantErr error
	switch want {
	case ErrNameMainLooperQuit:
		wantErr = looper.ErrMainLooperQuit
	case ErrNameNotMainThread:
		wantErr = looper.ErrNotMainThread
	}

	switch {
	case wantErr == nil:
		return err
	case err == nil:
		return fmt.Errorf("%w: succeeded, want %s", ErrExpectation, want)
	case !errors.Is(err, wantErr):
		return fmt.Errorf("%w: got %v, want %s", ErrExpectation, err, want)
	}
	return nil
}
