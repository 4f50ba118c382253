package pebblestore

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned by Get for an absent key.
var ErrNotFound = pebble.ErrNotFound

// FsyncMode says how hard a commit waits for the WAL to reach disk. The zero
// value behaves like FsyncModeAlways.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	FsyncModeAlways
	// FsyncModeInterval lets Pebble batch WAL syncs inside FsyncInterval.
	FsyncModeInterval
	FsyncModeNever
)

const defaultFsyncInterval = 5 * time.Millisecond

// ParseFsyncMode reads the storage.fsync config value.
func ParseFsyncMode(s string) (FsyncMode, error) {
	switch s {
	case "", "always":
		return FsyncModeAlways, nil
	case "interval":
		return FsyncModeInterval, nil
	case "never":
		return FsyncModeNever, nil
	}
	return FsyncModeUnspecified, errors.Newf("invalid fsync mode %q; use always|interval|never", s)
}

func (m FsyncMode) String() string {
	switch m {
	case FsyncModeInterval:
		return "interval"
	case FsyncModeNever:
		return "never"
	}
	return "always"
}

type Options struct {
	DataDir       string
	Fsync         FsyncMode
	FsyncInterval time.Duration
	Metrics       MetricsHook
}

// MetricsHook receives the latency and size of every Get and batch commit.
type MetricsHook interface {
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveBatchCommit(elapsed time.Duration, bytes int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRead(time.Duration, int)        {}
func (noopMetrics) ObserveBatchCommit(time.Duration, int) {}

// DB is the Pebble instance holding the upstream change log and, with the
// pebble checkpoint backend, the bridge checkpoints.
type DB struct {
	inner   *pebble.DB
	commit  *pebble.WriteOptions
	metrics MetricsHook
}

func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebblestore: data dir is required")
	}
	po := &pebble.Options{}
	commit := pebble.Sync
	switch opts.Fsync {
	case FsyncModeInterval:
		interval := opts.FsyncInterval
		if interval <= 0 {
			interval = defaultFsyncInterval
		}
		po.WALMinSyncInterval = func() time.Duration { return interval }
	case FsyncModeNever:
		commit = pebble.NoSync
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %s", opts.DataDir)
	}
	db := &DB{inner: inner, commit: commit, metrics: opts.Metrics}
	if db.metrics == nil {
		db.metrics = noopMetrics{}
	}
	return db, nil
}

func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

func (db *DB) NewBatch() *pebble.Batch { return db.inner.NewBatch() }

// CommitBatch applies b atomically under the store's fsync mode. The caller
// still owns b and must Close it.
func (db *DB) CommitBatch(ctx context.Context, b *pebble.Batch) error {
	if b == nil {
		return errors.New("pebblestore: nil batch")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	start, n := time.Now(), b.Len()
	err := b.Commit(db.commit)
	db.metrics.ObserveBatchCommit(time.Since(start), n)
	return err
}

func (db *DB) Set(key, value []byte) error {
	return db.write(func(b *pebble.Batch) error { return b.Set(key, value, nil) })
}

func (db *DB) Delete(key []byte) error {
	return db.write(func(b *pebble.Batch) error { return b.Delete(key, nil) })
}

func (db *DB) write(fn func(*pebble.Batch) error) error {
	b := db.inner.NewBatch()
	defer b.Close()
	if err := fn(b); err != nil {
		return err
	}
	return db.CommitBatch(context.Background(), b)
}

// Get returns a copy of the value, which stays valid after the next write.
func (db *DB) Get(key []byte) ([]byte, error) {
	start := time.Now()
	v, closer, err := db.inner.Get(key)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	db.metrics.ObserveRead(time.Since(start), len(out))
	return out, nil
}

func (db *DB) NewIter(opts *pebble.IterOptions) (*pebble.Iterator, error) {
	return db.inner.NewIter(opts)
}
