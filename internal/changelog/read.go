package changelog

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

// Token encodes a position as seq (8 bytes big-endian).
type Token [8]byte

func TokenFromSeq(seq uint64) Token { var t Token; binary.BigEndian.PutUint64(t[:], seq); return t }
func (t Token) Seq() uint64         { return binary.BigEndian.Uint64(t[:]) }

type ReadOptions struct {
	Start Token // inclusive; zero begins at the first retained entry
	Limit int
}

// Item is one stored entry. Corrupt is set when framing or checksum fail;
// Payload then holds the raw stored bytes.
type Item struct {
	Seq     uint64
	Header  []byte
	Payload []byte
	Corrupt bool
}

// Read returns up to Limit items starting at Start (inclusive) and the token
// of the next stored entry, zero when the scan reached the end.
func (l *Log) Read(opts ReadOptions) ([]Item, Token, error) {
	low := KeyEntry(l.stream, 0)
	hi := KeyEntry(l.stream, ^uint64(0))

	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return nil, Token{}, errors.Wrap(err, "open changelog iterator")
	}
	defer iter.Close()

	items := make([]Item, 0, max(1, opts.Limit))
	var next Token

	ok := iter.First()
	if start := opts.Start.Seq(); start != 0 {
		ok = iter.SeekGE(KeyEntry(l.stream, start))
	}
	for ; ok && (opts.Limit == 0 || len(items) < opts.Limit); ok = iter.Next() {
		seq := seqFromEntryKey(iter.Key())
		if dec, valid := DecodeRecord(iter.Value()); valid {
			items = append(items, Item{Seq: seq, Header: dec.Header, Payload: dec.Payload})
		} else {
			items = append(items, Item{Seq: seq, Payload: append([]byte(nil), iter.Value()...), Corrupt: true})
		}
	}
	if ok && iter.Valid() {
		next = TokenFromSeq(seqFromEntryKey(iter.Key()))
	}
	return items, next, errors.Wrap(iter.Error(), "changelog scan")
}
