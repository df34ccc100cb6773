package ident_test

import (
	"sort"
	"testing"
	"time"

	"github.com/snehjoshi/vloop/internal/ident"
)

func TestNew_IsULID(t *testing.T) {
	id, err := ident.New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if id.IsZero() {
		t.Fatal("expected non-zero ID")
	}
	if len(id.String()) != 26 {
		t.Errorf("ULID should be 26 chars, got %d: %s", len(id.String()), id)
	}
	if _, err := ident.Parse(id.String()); err != nil {
		t.Errorf("Parse(New()) error: %v", err)
	}
}

func TestNew_Monotonic(t *testing.T) {
	ids := make([]string, 200)
	for i := range ids {
		ids[i] = ident.MustNew().String()
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatal("IDs generated in sequence are not sorted")
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate ID %s", id)
		}
		seen[id] = true
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := ident.Parse("not-a-valid-ulid"); err == nil {
		t.Fatal("expected error for invalid ULID")
	}
}

func TestID_Time(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, err := ident.MustNew().Time()
	if err != nil {
		t.Fatalf("Time() error: %v", err)
	}
	if ts.Before(before) {
		t.Errorf("embedded time %v is earlier than %v", ts, before)
	}
}
