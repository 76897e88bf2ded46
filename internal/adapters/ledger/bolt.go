// Package ledger provides the durable build ledger for cadence.
// This package implements the domain.Ledger interface on an embedded bbolt database.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"

	"github.com/MyCarrier-DevOps/cadence/internal/domain"
)

// BucketBuilds holds one JSON-encoded build record per commit hash.
const BucketBuilds = "builds"

// DefaultOpenTimeout bounds how long an operation waits for another process
// holding the file lock.
const DefaultOpenTimeout = 5 * time.Second

// ErrClosed is returned by operations on a ledger after Close.
var ErrClosed = errors.New("ledger is closed")

// Options configures how the ledger database is opened.
type Options struct {
	// Timeout is the file-lock wait per operation. Zero uses DefaultOpenTimeout.
	Timeout time.Duration

	// ReadOnly restricts the ledger to shared-lock reads for reporting.
	ReadOnly bool
}

// BoltLedger implements domain.Ledger using go.etcd.io/bbolt.
// The database file is opened for every operation and closed again, so the
// file lock is held per transaction rather than for a whole run. Overlapping
// invocations and reporting commands interleave at transaction boundaries.
type BoltLedger struct {
	path   string
	opts   Options
	closed atomic.Bool
}

// Open checks the ledger database at path, creating it unless opts.ReadOnly.
func Open(path string, opts Options) (*BoltLedger, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOpenTimeout
	}
	l := &BoltLedger{path: path, opts: opts}

	if opts.ReadOnly {
		// A read-only open must not create the file.
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrLedger, err)
		}
		if err := l.view(func(*bolt.Tx) error { return nil }); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrLedger, err)
		}
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrLedger, err)
	}
	err := l.update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketBuilds))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create bucket: %w", domain.ErrLedger, err)
	}
	return l, nil
}

// withDB opens the database, runs fn and closes it again. Reads take the
// shared lock, writes the exclusive one.
func (l *BoltLedger) withDB(readOnly bool, fn func(db *bolt.DB) error) error {
	if l.closed.Load() {
		return ErrClosed
	}

	db, err := bolt.Open(l.path, 0o600, &bolt.Options{
		Timeout:  l.opts.Timeout,
		ReadOnly: readOnly || l.opts.ReadOnly,
	})
	if errors.Is(err, berrors.ErrTimeout) {
		return fmt.Errorf("%s is locked by another cadence process: %w", l.path, err)
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", l.path, err)
	}

	err = fn(db)
	if cerr := db.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("failed to close %s: %w", l.path, cerr))
	}
	return err
}

func (l *BoltLedger) view(fn func(tx *bolt.Tx) error) error {
	return l.withDB(true, func(db *bolt.DB) error { return db.View(fn) })
}

func (l *BoltLedger) update(fn func(tx *bolt.Tx) error) error {
	return l.withDB(false, func(db *bolt.DB) error { return db.Update(fn) })
}

// Path returns the database file path.
func (l *BoltLedger) Path() string {
	return l.path
}

// WasBuilt reports whether the latest record for hash is a success.
// Missing, created, running and error records are all eligible for another attempt.
func (l *BoltLedger) WasBuilt(ctx context.Context, hash string) (bool, error) {
	rec, err := l.Lookup(ctx, hash)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.State == domain.StateSuccess, nil
}

// SaveBuild overwrites the entry for record.Commit in one transaction.
func (l *BoltLedger) SaveBuild(_ context.Context, record *domain.BuildRecord) error {
	if record == nil || record.Commit == "" {
		return fmt.Errorf("%w: record has no commit hash", domain.ErrLedger)
	}

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: failed to encode record %s: %w", domain.ErrLedger, record.Commit, err)
	}

	err = l.update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(BucketBuilds))
		if err != nil {
			return err
		}
		return b.Put([]byte(record.Commit), value)
	})
	if err != nil {
		return fmt.Errorf("%w: failed to save record %s: %w", domain.ErrLedger, record.Commit, err)
	}
	return nil
}

// Lookup returns the record stored for hash.
func (l *BoltLedger) Lookup(_ context.Context, hash string) (*domain.BuildRecord, error) {
	var value []byte
	err := l.view(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(BucketBuilds))
		if b == nil {
			return nil
		}
		// Values are only valid for the life of the transaction.
		if v := b.Get([]byte(hash)); v != nil {
			value = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read record %s: %w", domain.ErrLedger, hash, err)
	}
	if value == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, hash)
	}

	rec, err := decode(value)
	if err != nil {
		return nil, fmt.Errorf("%w: record %s: %w", domain.ErrLedger, hash, err)
	}
	return rec, nil
}

// AllBuilds enumerates every entry in bbolt key order. The database and read
// transaction are opened when iteration starts and closed when it stops, so
// each range over the returned sequence sees a fresh cursor.
func (l *BoltLedger) AllBuilds(ctx context.Context) iter.Seq2[domain.LedgerEntry, error] {
	return func(yield func(domain.LedgerEntry, error) bool) {
		stopped := false
		err := l.view(func(tx *bolt.Tx) error {
			b := tx.Bucket([]byte(BucketBuilds))
			if b == nil {
				return nil
			}
			c := b.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				rec, err := decode(v)
				if err != nil {
					return fmt.Errorf("record %s: %w", k, err)
				}
				if !yield(domain.LedgerEntry{Key: string(k), Record: *rec}, nil) {
					stopped = true
					return nil
				}
			}
			return nil
		})
		if err != nil && !stopped {
			yield(domain.LedgerEntry{}, fmt.Errorf("%w: %w", domain.ErrLedger, err))
		}
	}
}

// Close marks the ledger closed. Later operations fail with ErrClosed.
func (l *BoltLedger) Close() error {
	l.closed.Store(true)
	return nil
}

// decode parses a stored record. The returned record owns its memory.
func decode(value []byte) (*domain.BuildRecord, error) {
	var rec domain.BuildRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	if _, known := domain.StateFromString(string(rec.State)); !known {
		return nil, fmt.Errorf("unknown state %q", rec.State)
	}
	if rec.Data == nil {
		rec.Data = map[string]string{}
	}
	return &rec, nil
}
