package changelog

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - cl/{stream}/m             last assigned seq
// - cl/{stream}/low           trimmed-through watermark
// - cl/{stream}/e/{seq_be8}   entries

var (
	streamPrefix = []byte("cl/")
	metaSuffix   = []byte("/m")
	lowSuffix    = []byte("/low")
	entrySeg     = []byte("/e/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func streamKey(stream string, suffix []byte, extra int) []byte {
	k := make([]byte, 0, len(streamPrefix)+len(stream)+len(suffix)+extra)
	k = append(k, streamPrefix...)
	k = append(k, stream...)
	k = append(k, suffix...)
	return k
}

// KeyMeta builds the key holding the last assigned sequence.
func KeyMeta(stream string) []byte { return streamKey(stream, metaSuffix, 0) }

// KeyLow builds the key holding the highest trimmed sequence.
func KeyLow(stream string) []byte { return streamKey(stream, lowSuffix, 0) }

// KeyEntry builds the entry key with a big-endian sequence for proper ordering.
func KeyEntry(stream string, seq uint64) []byte {
	return appendBE8(streamKey(stream, entrySeg, 8), seq)
}

// seqFromEntryKey extracts the trailing big-endian sequence.
func seqFromEntryKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(k)-8:])
}
