package looper

import "github.com/snehjoshi/vloop/internal/ident"

// Thread identifies one simulated execution context. Identity is pointer
// identity: two Threads with the same name are different contexts.
//
// A Registry holds Threads only weakly, so dropping every reference to a
// Thread lets its Looper be evicted.
type Thread struct {
	id   ident.ID
	name string
}

// NewThread creates a new execution-context identity.
func NewThread(name string) *Thread {
	return &Thread{id: ident.MustNew(), name: name}
}

// ID returns the thread's unique ID.
func (t *Thread) ID() ident.ID { return t.id }

// Name returns the name given to NewThread.
func (t *Thread) Name() string { return t.name }

func (t *Thread) String() string { return t.name + "/" + t.id.String() }
