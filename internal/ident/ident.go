// Package ident generates the identifiers vloop hands out: thread identities
// and journal run IDs. Every ID is a ULID, so IDs created later sort later,
// which keeps journal listings in creation order without a secondary index.
package ident

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is a ULID string.
type ID string

func (id ID) String() string { return string(id) }

// IsZero reports whether the ID is the zero value.
func (id ID) IsZero() bool { return id == "" }

// Time returns the millisecond timestamp embedded in the ID.
func (id ID) Time() (time.Time, error) {
	u, err := ulid.ParseStrict(string(id))
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}

// monoEntropy is a package-level monotone entropy source shared across all
// New calls. Using a single shared source keeps IDs lexicographically
// ordered even when generated within the same millisecond.
var (
	monoMu      sync.Mutex
	monoEntropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// New creates a new time-ordered ID.
func New() (ID, error) {
	monoMu.Lock()
	defer monoMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), monoEntropy)
	if err != nil {
		return "", err
	}
	return ID(id.String()), nil
}

// MustNew is like New but panics on error.
func MustNew() ID {
	id, err := New()
	if err != nil {
		panic(fmt.Sprintf("ident.MustNew: %v", err))
	}
	return id
}

// Parse validates s and returns it as an ID.
func Parse(s string) (ID, error) {
	if _, err := ulid.ParseStrict(s); err != nil {
		return "", fmt.Errorf("ident: invalid id %q: %w", s, err)
	}
	return ID(s), nil
}
