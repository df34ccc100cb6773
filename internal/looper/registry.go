package looper

import (
	"log/slog"
	"runtime"
	"sync"
	"time"
	"weak"

	"github.com/snehjoshi/vloop/internal/metrics"
)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used by the registry and its loopers.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// WithMetrics attaches a metrics.Registry so that every looper counts posts,
// rejections, executions, discards, quits and resets.
func WithMetrics(reg *metrics.Registry) Option {
	return func(r *Registry) { r.metrics = reg }
}

// WithMainIdleConstantly makes the main looper run posted work immediately.
// The setting is re-applied after every ResetAll.
func WithMainIdleConstantly(enabled bool) Option {
	return func(r *Registry) { r.mainIdleConstantly = enabled }
}

// Registry maps execution contexts to their Loopers.
//
// Threads are held weakly: once a non-main Thread is unreachable its entry is
// evicted by a runtime cleanup, and Forget evicts one explicitly. Either way
// the next LooperFor for an evicted identity creates a new Looper. The main
// Thread and its Looper are held strongly and survive ResetAll.
//
// All methods are safe for concurrent use; mutations are serialised.
type Registry struct {
	mainThread *Thread
	mainLooper *Looper

	log                *slog.Logger
	metrics            *metrics.Registry
	mainIdleConstantly bool

	mu      sync.Mutex
	loopers map[weak.Pointer[Thread]]*Looper

	// tracked records threads that already carry an eviction cleanup. It is
	// not cleared by ResetAll, so re-registering a thread never stacks a
	// second cleanup.
	tracked map[weak.Pointer[Thread]]struct{}
}

// NewRegistry creates a registry whose main context is main.
func NewRegistry(main *Thread, opts ...Option) *Registry {
	r := &Registry{
		mainThread: main,
		loopers:    make(map[weak.Pointer[Thread]]*Looper),
		tracked:    make(map[weak.Pointer[Thread]]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	r.mainLooper = newLooper(main, true, r.log, r.metrics)
	r.mainLooper.IdleConstantly(r.mainIdleConstantly)
	return r
}

// LooperFor returns the Looper bound to t, creating it on first use.
func (r *Registry) LooperFor(t *Thread) *Looper {
	if t == nil {
		panic("looper: LooperFor called with a nil Thread")
	}
	if t == r.mainThread {
		return r.mainLooper
	}

	wp := weak.Make(t)

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.loopers[wp]; ok {
		return l
	}
	l := newLooper(t, false, r.log, r.metrics)
	r.loopers[wp] = l
	if _, ok := r.tracked[wp]; !ok {
		r.tracked[wp] = struct{}{}
		runtime.AddCleanup(t, r.evict, wp)
	}
	r.log.Debug("looper created", "thread", t.Name(), "thread_id", t.ID().String())
	return l
}

// MainLooper returns the main context's Looper. The same *Looper is returned
// for the registry's whole lifetime.
func (r *Registry) MainLooper() *Looper { return r.mainLooper }

// MainThread returns the main execution context.
func (r *Registry) MainThread() *Thread { return r.mainThread }

// ResetAll drops every non-main Looper and resets the main one. Dropped
// loopers are quit, so their pending work is discarded and any goroutine
// parked in their Loop is released. Handles to the main looper stay valid.
//
// Only the main thread may call ResetAll; any other caller gets
// ErrNotMainThread and nothing changes.
func (r *Registry) ResetAll(caller *Thread) error {
	if caller != r.mainThread {
		r.log.Warn("reset of all loopers refused", "caller", callerName(caller))
		return ErrNotMainThread
	}

	r.mu.Lock()
	dropped := r.loopers
	r.loopers = make(map[weak.Pointer[Thread]]*Looper)
	r.mu.Unlock()

	for _, l := range dropped {
		_ = l.Quit()
	}
	r.mainLooper.Reset()
	r.mainLooper.IdleConstantly(r.mainIdleConstantly)

	r.log.Debug("loopers reset", "dropped", len(dropped))
	return nil
}

// Forget evicts t's Looper so that the next LooperFor creates a new one. The
// evicted Looper is not quit. It reports whether an entry existed; the main
// thread is never forgotten.
func (r *Registry) Forget(t *Thread) bool {
	if t == r.mainThread {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	wp := weak.Make(t)
	if _, ok := r.loopers[wp]; !ok {
		return false
	}
	delete(r.loopers, wp)
	return true
}

// Len returns the number of loopers currently registered, including the main
// looper.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.loopers) + 1
}

// evict runs as a runtime cleanup once a registered Thread is unreachable.
func (r *Registry) evict(wp weak.Pointer[Thread]) {
	r.mu.Lock()
	_, ok := r.loopers[wp]
	delete(r.loopers, wp)
	delete(r.tracked, wp)
	r.mu.Unlock()

	if ok {
		r.log.Debug("looper evicted")
	}
}

// ─── main looper shortcuts ───────────────────────────────────────────────────

// PauseMain pauses the main looper.
func (r *Registry) PauseMain() { r.mainLooper.Pause() }

// UnPauseMain resumes the main looper and runs everything already due.
func (r *Registry) UnPauseMain() { r.mainLooper.UnPause() }

// IdleMain advances the main looper's clock by interval.
func (r *Registry) IdleMain(interval time.Duration) bool { return r.mainLooper.IdleFor(interval) }

// IdleMainConstantly toggles eager execution on the main looper.
func (r *Registry) IdleMainConstantly(enabled bool) { r.mainLooper.IdleConstantly(enabled) }

func callerName(t *Thread) string {
	if t == nil {
		return "<nil>"
	}
	return t.Name()
}
