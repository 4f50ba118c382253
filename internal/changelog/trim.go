package changelog

import (
	"context"

	"github.com/cockroachdb/pebble"
)

// TrimBefore deletes every entry with seq < before and advances the trim
// watermark, as upstream log rotation would. Deletes are committed in batches
// of up to batchLimit keys. before is clamped to LastSeq+1. Returns the
// number of deleted entries.
func (l *Log) TrimBefore(ctx context.Context, before uint64, batchLimit int) (int, error) {
	if last := l.LastSeq(); before > last+1 {
		before = last + 1
	}
	if before <= 1 {
		return 0, nil
	}
	if batchLimit <= 0 {
		batchLimit = 1024
	}
	upper := KeyEntry(l.stream, before)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: KeyEntry(l.stream, 0), UpperBound: upper})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	deleted := 0
	for ok := iter.First(); ok; {
		b := l.db.NewBatch()
		n := 0
		for ; ok && n < batchLimit; ok = iter.Next() {
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, err
			}
			n++
		}
		if err := l.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			return deleted, err
		}
		b.Close()
		deleted += n
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if before-1 > l.lowSeq {
		if err := l.db.Set(KeyLow(l.stream), appendBE8(nil, before-1)); err != nil {
			return deleted, err
		}
		l.lowSeq = before - 1
	}
	return deleted, nil
}
