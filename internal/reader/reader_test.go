package reader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/kvbridge/internal/changelog"
	"github.com/rzbill/kvbridge/internal/mutation"
	pebblestore "github.com/rzbill/kvbridge/internal/storage/pebble"
)

func newLog(t *testing.T) *changelog.Log {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	l, err := changelog.Open(db, "upstream")
	require.NoError(t, err)
	return l
}

func appendRecs(t *testing.T, l *changelog.Log, recs ...mutation.Record) {
	t.Helper()
	batch := make([]changelog.AppendRecord, 0, len(recs))
	for _, r := range recs {
		h, p, err := mutation.Encode(r)
		require.NoError(t, err)
		batch = append(batch, changelog.AppendRecord{Header: h, Payload: p})
	}
	_, err := l.Append(context.Background(), batch)
	require.NoError(t, err)
}

func TestNextReturnsRecordsInOrderThenEndOfLog(t *testing.T) {
	l := newLog(t)
	appendRecs(t, l, mutation.Set("", "foo", "2"), mutation.Set("", "foo2", "2"), mutation.LPush("", "lfoo", "b"))

	s, err := Open(l, 0, Options{ReadLimit: 2, WaitTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	ctx := context.Background()
	for want := mutation.Position(1); want <= 3; want++ {
		raw, err := s.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, raw.Position)
		rec, err := mutation.Decode(raw)
		require.NoError(t, err)
		require.Equal(t, want, rec.Position)
	}
	_, err = s.Next(ctx)
	require.ErrorIs(t, err, ErrEndOfLog)
	require.Equal(t, mutation.Position(3), s.Position())
	require.Zero(t, s.Lag())
}

func TestNextResumesAfterStart(t *testing.T) {
	l := newLog(t)
	appendRecs(t, l, mutation.Set("", "a", "1"), mutation.Set("", "b", "1"), mutation.Set("", "c", "1"))
	s, err := Open(l, 2, Options{})
	require.NoError(t, err)
	require.Equal(t, uint64(1), s.Lag())
	raw, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, mutation.Position(3), raw.Position)
}

func TestNextWakesOnAppend(t *testing.T) {
	l := newLog(t)
	s, err := Open(l, 0, Options{WaitTimeout: 10 * time.Second})
	require.NoError(t, err)
	h, p, err := mutation.Encode(mutation.SAdd("", "sfoo", "f"))
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = l.Append(context.Background(), []changelog.AppendRecord{{Header: h, Payload: p}})
	}()
	start := time.Now()
	raw, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, mutation.Position(1), raw.Position)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestNextHonorsCancellation(t *testing.T) {
	l := newLog(t)
	s, err := Open(l, 0, Options{WaitTimeout: 5 * time.Second})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = s.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestTrimmedLogIsAGap(t *testing.T) {
	l := newLog(t)
	for i := 0; i < 5; i++ {
		appendRecs(t, l, mutation.RPush("", "lfoo", "x"))
	}
	_, err := l.TrimBefore(context.Background(), 4, 0)
	require.NoError(t, err)

	s, err := Open(l, 1, Options{})
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	var gap *LogGapError
	require.True(t, errors.As(err, &gap), "got %v", err)
	require.Equal(t, mutation.Position(2), gap.Expected)
	require.Equal(t, mutation.Position(4), gap.Found)

	// A cursor already past the trimmed range is unaffected.
	s, err = Open(l, 3, Options{})
	require.NoError(t, err)
	raw, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, mutation.Position(4), raw.Position)
}

func TestStartAheadOfLogIsAGap(t *testing.T) {
	l := newLog(t)
	s, err := Open(l, 5, Options{WaitTimeout: 10 * time.Millisecond})
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	var gap *LogGapError
	require.True(t, errors.As(err, &gap), "got %v", err)
	require.Equal(t, mutation.Position(6), gap.Expected)
	require.Equal(t, mutation.Position(1), gap.Found)

	appendRecs(t, l, mutation.Set("", "a", "1"), mutation.Set("", "b", "1"))
	_, err = s.Next(context.Background())
	require.True(t, errors.As(err, &gap), "got %v", err)
	require.Equal(t, mutation.Position(3), gap.Found)
	require.Equal(t, mutation.Position(5), s.Position())

	// A cursor exactly at the head just waits.
	s, err = Open(l, 2, Options{WaitTimeout: 10 * time.Millisecond})
	require.NoError(t, err)
	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, ErrEndOfLog)
}

// holeSource serves entries with a missing sequence in the middle.
type holeSource struct{ items []changelog.Item }

func (h holeSource) Read(opts changelog.ReadOptions) ([]changelog.Item, changelog.Token, error) {
	var out []changelog.Item
	for _, it := range h.items {
		if it.Seq >= opts.Start.Seq() {
			out = append(out, it)
		}
	}
	return out, changelog.Token{}, nil
}
func (holeSource) WaitForAppend(context.Context, time.Duration) bool { return false }
func (holeSource) FirstSeq() uint64                                  { return 1 }
func (h holeSource) LastSeq() uint64                                 { return h.items[len(h.items)-1].Seq }

func TestPositionSkipIsAGap(t *testing.T) {
	src := holeSource{items: []changelog.Item{{Seq: 1}, {Seq: 2}, {Seq: 4}}}
	s, err := Open(src, 0, Options{})
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := s.Next(ctx)
		require.NoError(t, err)
	}
	_, err = s.Next(ctx)
	var gap *LogGapError
	require.True(t, errors.As(err, &gap))
	require.Equal(t, mutation.Position(3), gap.Expected)
	require.Equal(t, mutation.Position(4), gap.Found)
}

func TestCorruptEntriesAreSurfaced(t *testing.T) {
	src := holeSource{items: []changelog.Item{{Seq: 1, Payload: []byte{0xde, 0xad}, Corrupt: true}}}
	s, err := Open(src, 0, Options{})
	require.NoError(t, err)
	raw, err := s.Next(context.Background())
	require.NoError(t, err)
	require.True(t, raw.Corrupt)
	_, err = mutation.Decode(raw)
	var mre *mutation.MalformedRecordError
	require.True(t, errors.As(err, &mre))
}
