package journal

import (
	"fmt"

	"github.com/snehjoshi/vloop/internal/types"
)

// Divergence describes the first position at which two traces differ.
// Want or Got is nil when the corresponding trace ended early.
type Divergence struct {
	// Index is the 0-based position in the traces.
	Index int
	Want  *types.Event
	Got   *types.Event
}

// String renders the divergence for humans.
func (d Divergence) String() string {
	return fmt.Sprintf("event %d: want %s, got %s", d.Index+1, describe(d.Want), describe(d.Got))
}

// Diff compares two traces by thread, label and virtual time and returns the
// first divergence. ok is false when the traces are identical.
func Diff(want, got []types.Event) (d Divergence, ok bool) {
	n := min(len(want), len(got))
	for i := 0; i < n; i++ {
		if !sameEvent(want[i], got[i]) {
			return Divergence{Index: i, Want: &want[i], Got: &got[i]}, true
		}
	}
	switch {
	case len(want) > n:
		return Divergence{Index: n, Want: &want[n]}, true
	case len(got) > n:
		return Divergence{Index: n, Got: &got[n]}, true
	}
	return Divergence{}, false
}

func sameEvent(a, b types.Event) bool {
	return a.Thread == b.Thread && a.Label == b.Label && a.At == b.At
}

func describe(ev *types.Event) string {
	if ev == nil {
		return "<end of trace>"
	}
	return fmt.Sprintf("%s/%s@%s", ev.Thread, ev.Label, ev.At)
}
