// Package metrics provides a lightweight Prometheus-compatible metrics
// registry for vloop, written without prometheus/client_golang.
//
// # Counter naming convention
//
// Every counter is keyed by the looper name, so a single sync.Map holds all
// label combinations:
//
//	Posted / Rejected / Executed / Discarded / Quits / Resets  →  key = looper name
//
// # Prometheus text output
//
// Registry.WriteTo renders all counters in the Prometheus exposition format
// (text/plain; version=0.0.4); Registry.Handler serves the same text.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// ─── labelCounter ─────────────────────────────────────────────────────────────

// labelCounter is a lock-free, label-keyed counter map backed by sync.Map and
// atomic.Int64 values.
type labelCounter struct {
	vals sync.Map // key string → *atomic.Int64
}

func (lc *labelCounter) get(key string) *atomic.Int64 {
	v, _ := lc.vals.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Inc increments the counter for key by 1.
func (lc *labelCounter) Inc(key string) { lc.get(key).Add(1) }

// Add increments the counter for key by n.
func (lc *labelCounter) Add(key string, n int64) { lc.get(key).Add(n) }

// Get returns the current value for key (zero if never incremented).
func (lc *labelCounter) Get(key string) int64 {
	v, ok := lc.vals.Load(key)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Each calls fn for every key/value pair. The order is non-deterministic.
func (lc *labelCounter) Each(fn func(key string, val int64)) {
	lc.vals.Range(func(k, v any) bool {
		fn(k.(string), v.(*atomic.Int64).Load())
		return true
	})
}

// ─── Registry ─────────────────────────────────────────────────────────────────

// Registry holds all vloop counters. The zero value is ready to use.
type Registry struct {
	Posted    labelCounter // accepted posts
	Rejected  labelCounter // posts refused because the looper had quit
	Executed  labelCounter // tasks that ran
	Discarded labelCounter // tasks dropped by quit or reset
	Quits     labelCounter
	Resets    labelCounter
}

// ─── Prometheus text serialisation ────────────────────────────────────────────

// WriteTo renders every non-empty counter family to w.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder

	families := []struct {
		name, help string
		c          *labelCounter
	}{
		{"vloop_tasks_posted_total", "Total tasks accepted by a looper", &r.Posted},
		{"vloop_tasks_rejected_total", "Total posts rejected because the looper had quit", &r.Rejected},
		{"vloop_tasks_executed_total", "Total tasks executed", &r.Executed},
		{"vloop_tasks_discarded_total", "Total queued tasks discarded by quit or reset", &r.Discarded},
		{"vloop_looper_quits_total", "Total looper quits", &r.Quits},
		{"vloop_looper_resets_total", "Total looper resets", &r.Resets},
	}
	for _, f := range families {
		c := f.c
		writeFamily(&b, f.name, f.help, "counter",
			func(fn func(labels, val string)) {
				c.Each(func(key string, val int64) {
					fn(fmt.Sprintf(`looper=%q`, key), fmt.Sprintf("%d", val))
				})
			})
	}

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// Handler returns an http.Handler that renders all metrics in the Prometheus
// plain-text exposition format (text/plain; version=0.0.4).
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = r.WriteTo(w)
	})
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// writeFamily writes a single Prometheus metric family to b.
// fill is called with a writer function that appends individual label+value lines.
// Lines are sorted so that output is stable between runs.
func writeFamily(
	b *strings.Builder,
	name, help, typ string,
	fill func(fn func(labels, val string)),
) {
	// Buffer individual metric lines so we can skip the header when empty.
	var lines []string
	fill(func(labels, val string) {
		lines = append(lines, fmt.Sprintf("%s{%s} %s\n", name, labels, val))
	})
	if len(lines) == 0 {
		return
	}
	sort.Strings(lines)
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
	for _, l := range lines {
		b.WriteString(l)
	}
}
