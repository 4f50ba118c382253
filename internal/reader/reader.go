// Package reader tails the upstream change log as a single sequential cursor.
package reader

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rzbill/kvbridge/internal/changelog"
	"github.com/rzbill/kvbridge/internal/mutation"
)

// ErrEndOfLog is returned by Next when no new record arrived within the wait
// timeout. The stream stays usable.
var ErrEndOfLog = errors.New("end of log")

// LogGapError reports a discontinuity: the record the cursor needs next is no
// longer retained, typically after rotation or truncation.
type LogGapError struct {
	Expected mutation.Position
	Found    mutation.Position
}

func (e *LogGapError) Error() string {
	return fmt.Sprintf("log gap: expected position %d, next retained is %d", e.Expected, e.Found)
}

// Source is the upstream change log as seen by the reader.
type Source interface {
	Read(opts changelog.ReadOptions) ([]changelog.Item, changelog.Token, error)
	WaitForAppend(ctx context.Context, timeout time.Duration) bool
	FirstSeq() uint64
	LastSeq() uint64
}

type Options struct {
	// ReadLimit caps the entries fetched per storage scan.
	ReadLimit int
	// WaitTimeout bounds how long Next blocks for new activity.
	WaitTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 256
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 200 * time.Millisecond
	}
}

// Stream is a cursor over committed records strictly after a start position.
// It is not safe for concurrent use.
type Stream struct {
	src  Source
	opts Options
	// last is the position of the most recently returned record.
	last mutation.Position
	buf  []changelog.Item
}

// Open positions a stream so the first Next returns the record after start.
func Open(src Source, start mutation.Position, opts Options) (*Stream, error) {
	if src == nil {
		return nil, errors.New("reader: nil source")
	}
	opts.setDefaults()
	return &Stream{src: src, opts: opts, last: start}, nil
}

// Position returns the position of the last record handed out.
func (s *Stream) Position() mutation.Position { return s.last }

// Next returns the next committed record. It blocks for at most WaitTimeout
// when the log is drained and then returns ErrEndOfLog.
func (s *Stream) Next(ctx context.Context) (mutation.Raw, error) {
	for {
		if err := ctx.Err(); err != nil {
			return mutation.Raw{}, err
		}
		if len(s.buf) > 0 {
			return s.pop()
		}
		if err := s.fill(); err != nil {
			return mutation.Raw{}, err
		}
		if len(s.buf) > 0 {
			continue
		}
		if !s.src.WaitForAppend(ctx, s.opts.WaitTimeout) {
			if err := ctx.Err(); err != nil {
				return mutation.Raw{}, err
			}
			// An append may have landed between the scan and the wait.
			if mutation.Position(s.src.LastSeq()) > s.last {
				continue
			}
			return mutation.Raw{}, ErrEndOfLog
		}
	}
}

func (s *Stream) expected() mutation.Position { return s.last + 1 }

func (s *Stream) fill() error {
	want := s.expected()
	if first := mutation.Position(s.src.FirstSeq()); first > want {
		return &LogGapError{Expected: want, Found: first}
	}
	// A start beyond the head means the log was reset or replaced.
	if next := mutation.Position(s.src.LastSeq()) + 1; want > next {
		return &LogGapError{Expected: want, Found: next}
	}
	items, _, err := s.src.Read(changelog.ReadOptions{
		Start: changelog.TokenFromSeq(uint64(want)),
		Limit: s.opts.ReadLimit,
	})
	if err != nil {
		return errors.Wrapf(err, "read upstream log from %d", want)
	}
	s.buf = items
	return nil
}

func (s *Stream) pop() (mutation.Raw, error) {
	it := s.buf[0]
	want := s.expected()
	if mutation.Position(it.Seq) != want {
		s.buf = nil
		return mutation.Raw{}, &LogGapError{Expected: want, Found: mutation.Position(it.Seq)}
	}
	s.buf = s.buf[1:]
	s.last = want
	return mutation.Raw{Position: want, Header: it.Header, Payload: it.Payload, Corrupt: it.Corrupt}, nil
}

// Lag returns how many committed records the stream has not handed out yet.
func (s *Stream) Lag() uint64 {
	last := mutation.Position(s.src.LastSeq())
	if last <= s.last {
		return 0
	}
	return uint64(last - s.last)
}
