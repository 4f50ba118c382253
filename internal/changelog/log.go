package changelog

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/errors"
	pebblestore "github.com/rzbill/kvbridge/internal/storage/pebble"
)

// AppendRecord represents a single appendable mutation.
type AppendRecord struct {
	Header  []byte
	Payload []byte
}

// Log provides append-only operations for one upstream stream.
type Log struct {
	db     *pebblestore.DB
	stream string

	mu       sync.Mutex
	lastSeq  uint64
	lowSeq   uint64 // highest trimmed sequence; entries <= lowSeq are gone
	notifyCh chan struct{}
}

// Open initializes a Log and restores lastSeq and the trim watermark from metadata.
func Open(db *pebblestore.DB, stream string) (*Log, error) {
	if stream == "" {
		return nil, errors.New("changelog: stream name is required")
	}
	l := &Log{db: db, stream: stream, notifyCh: make(chan struct{})}
	var err error
	if l.lastSeq, err = readSeq(db, KeyMeta(stream)); err != nil {
		return nil, errors.Wrap(err, "load changelog meta")
	}
	if l.lowSeq, err = readSeq(db, KeyLow(stream)); err != nil {
		return nil, errors.Wrap(err, "load changelog watermark")
	}
	return l, nil
}

func readSeq(db *pebblestore.DB, key []byte) (uint64, error) {
	b, err := db.Get(key)
	if errors.Is(err, pebblestore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(b) < 8 {
		return 0, errors.Newf("short sequence value at %q", key)
	}
	return binary.BigEndian.Uint64(b[:8]), nil
}

// Stream returns the stream name.
func (l *Log) Stream() string { return l.stream }

// Append appends the provided records as a single atomic batch. Returns assigned seq numbers.
func (l *Log) Append(ctx context.Context, recs []AppendRecord) ([]uint64, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	seqs := make([]uint64, len(recs))
	next := l.lastSeq
	for i, r := range recs {
		next++
		if err := b.Set(KeyEntry(l.stream, next), EncodeRecord(r.Header, r.Payload), nil); err != nil {
			return nil, err
		}
		seqs[i] = next
	}
	if err := b.Set(KeyMeta(l.stream), appendBE8(nil, next), nil); err != nil {
		return nil, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return nil, errors.Wrap(err, "commit changelog append")
	}
	l.lastSeq = next

	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	return seqs, nil
}

// LastSeq returns the highest assigned sequence, 0 when nothing was ever appended.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// FirstSeq returns the lowest sequence that may still be retained.
func (l *Log) FirstSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lowSeq + 1
}
