// Package journal persists scenario runs in a bbolt database so that traces
// from different invocations can be listed, inspected and compared.
//
// Layout:
//
//	runs/                 run id -> JSON-encoded types.Run header
//	events/<run id>/      big-endian seq -> binary-encoded types.Event
//
// Run ids are ULIDs, so iterating the runs bucket yields runs in creation order.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/snehjoshi/vloop/internal/ident"
	"github.com/snehjoshi/vloop/internal/types"
)

var (
	// ErrNotFound is returned when a run id is not in the journal.
	ErrNotFound = errors.New("journal: run not found")

	// ErrFieldTooLong is returned by Record when an event's thread name or
	// label exceeds types.MaxFieldLen bytes.
	ErrFieldTooLong = errors.New("journal: event field too long")

	// ErrBadSeq is returned by Record when event seqs are zero or not
	// strictly increasing.
	ErrBadSeq = errors.New("journal: event seqs must be positive and strictly increasing")
)

var (
	bucketRuns   = []byte("runs")
	bucketEvents = []byte("events")
)

// Journal is a bbolt-backed store of recorded runs. It is safe for concurrent
// use; bbolt serialises writers.
type Journal struct {
	db *bbolt.DB
}

// Open opens (or creates) the journal at path, creating parent directories as
// needed.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("journal: create dir %s: %w", dir, err)
		}
	}

	opts := &bbolt.Options{Timeout: time.Second}
	db, err := bbolt.Open(path, 0o640, opts)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRuns); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: init buckets: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record stores run and its events in a single transaction. A fresh ULID is
// assigned when run.ID is empty, and run.Events is set to len(events). The
// stored header is returned.
//
// Events are keyed by Seq, so seqs must be positive and strictly increasing;
// otherwise Record fails with ErrBadSeq and nothing is written.
func (j *Journal) Record(run types.Run, events []types.Event) (types.Run, error) {
	if run.ID == "" {
		id, err := ident.New()
		if err != nil {
			return types.Run{}, fmt.Errorf("journal: new run id: %w", err)
		}
		run.ID = id.String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = time.Now().UTC().UnixMilli()
	}
	run.Events = len(events)

	rows := make([][]byte, len(events))
	var prev uint64
	for i, ev := range events {
		if ev.Seq <= prev {
			return types.Run{}, fmt.Errorf("%w: event %d has seq %d after %d", ErrBadSeq, i, ev.Seq, prev)
		}
		prev = ev.Seq
		row, err := marshalEvent(ev)
		if err != nil {
			return types.Run{}, fmt.Errorf("journal: event %d: %w", ev.Seq, err)
		}
		rows[i] = row
	}

	header, err := json.Marshal(run)
	if err != nil {
		return types.Run{}, fmt.Errorf("journal: marshal run %s: %w", run.ID, err)
	}

	err = j.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketRuns).Put([]byte(run.ID), header); err != nil {
			return err
		}
		parent := tx.Bucket(bucketEvents)
		if parent.Bucket([]byte(run.ID)) != nil {
			if err := parent.DeleteBucket([]byte(run.ID)); err != nil {
				return err
			}
		}
		b, err := parent.CreateBucket([]byte(run.ID))
		if err != nil {
			return err
		}
		for i, ev := range events {
			if err := b.Put(seqKey(ev.Seq), rows[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return types.Run{}, fmt.Errorf("journal: record run %s: %w", run.ID, err)
	}
	return run, nil
}

// Run returns the header and events of the run with the given id.
// Returns ErrNotFound if no such run exists.
func (j *Journal) Run(id string) (types.Run, []types.Event, error) {
	var (
		run    types.Run
		events []types.Event
	)
	err := j.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketRuns).Get([]byte(id))
		if val == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(val, &run); err != nil {
			return fmt.Errorf("journal: unmarshal run %s: %w", id, err)
		}
		b := tx.Bucket(bucketEvents).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		events = make([]types.Event, 0, run.Events)
		return b.ForEach(func(k, v []byte) error {
			ev, err := unmarshalEvent(v)
			if err != nil {
				return err
			}
			ev.Seq = binary.BigEndian.Uint64(k)
			events = append(events, ev)
			return nil
		})
	})
	if err != nil {
		return types.Run{}, nil, err
	}
	return run, events, nil
}

// Runs returns every run header, oldest first.
func (j *Journal) Runs() ([]types.Run, error) {
	var runs []types.Run
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var r types.Run
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("journal: unmarshal run %s: %w", k, err)
			}
			runs = append(runs, r)
			return nil
		})
	})
	return runs, err
}

// Delete removes a run and its events. Returns ErrNotFound if no such run
// exists.
func (j *Journal) Delete(id string) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		if runs.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		if err := runs.Delete([]byte(id)); err != nil {
			return err
		}
		if tx.Bucket(bucketEvents).Bucket([]byte(id)) == nil {
			return nil
		}
		return tx.Bucket(bucketEvents).DeleteBucket([]byte(id))
	})
}

// Close closes the underlying bbolt database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// ---- serialisation helpers -------------------------------------------------
// Events are stored as a compact binary structure; the seq lives in the key:
//
//	[at       : 8 bytes, int64 nanoseconds]
//	[threadLen: 2 bytes, uint16           ]
//	[thread   : threadLen bytes           ]
//	[labelLen : 2 bytes, uint16           ]
//	[label    : labelLen bytes            ]

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func marshalEvent(ev types.Event) ([]byte, error) {
	thread := []byte(ev.Thread)
	label := []byte(ev.Label)
	if len(thread) > types.MaxFieldLen {
		return nil, fmt.Errorf("%w: thread name is %d bytes", ErrFieldTooLong, len(thread))
	}
	if len(label) > types.MaxFieldLen {
		return nil, fmt.Errorf("%w: label is %d bytes", ErrFieldTooLong, len(label))
	}
	buf := make([]byte, 8+2+len(thread)+2+len(label))
	binary.BigEndian.PutUint64(buf[0:], uint64(ev.At))
	binary.BigEndian.PutUint16(buf[8:], uint16(len(thread)))
	copy(buf[10:], thread)
	off := 10 + len(thread)
	binary.BigEndian.PutUint16(buf[off:], uint16(len(label)))
	copy(buf[off+2:], label)
	return buf, nil
}

func unmarshalEvent(buf []byte) (types.Event, error) {
	if len(buf) < 12 {
		return types.Event{}, fmt.Errorf("journal: event too short (%d bytes)", len(buf))
	}
	at := time.Duration(binary.BigEndian.Uint64(buf[0:]))
	threadLen := int(binary.BigEndian.Uint16(buf[8:]))
	if 10+threadLen+2 > len(buf) {
		return types.Event{}, fmt.Errorf("journal: thread length %d exceeds buffer", threadLen)
	}
	thread := string(buf[10 : 10+threadLen])
	off := 10 + threadLen
	labelLen := int(binary.BigEndian.Uint16(buf[off:]))
	if off+2+labelLen > len(buf) {
		return types.Event{}, fmt.Errorf("journal: label length %d exceeds buffer", labelLen)
	}
	return types.Event{
		Thread: thread,
		Label:  string(buf[off+2 : off+2+labelLen]),
		At:     at,
	}, nil
}
