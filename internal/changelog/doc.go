// Package changelog implements the upstream engine's append-only change log
// that kvbridge tails.
//
// # Overview
//
// Committed mutations are appended to a named stream persisted in Pebble.
// Keys are lexicographically ordered for efficient range scans:
//   - cl/{stream}/m            (last assigned seq)
//   - cl/{stream}/low          (trimmed-through watermark)
//   - cl/{stream}/e/{seq_be8}  (entries)
//
// Records are stored as: uvarint headerLen | header | payload | crc32c(header|payload).
//
// API surface (internal)
//
//	l, _ := changelog.Open(db, "upstream")
//	seqs, _ := l.Append(ctx, []changelog.AppendRecord{{Header: h, Payload: p}})
//
//	items, next, _ := l.Read(changelog.ReadOptions{Start: changelog.TokenFromSeq(seqs[0]), Limit: 100})
//	_ = next // resume position
//
//	woke := l.WaitForAppend(ctx, 200*time.Millisecond)
//
//	// Rotation: entries below seq are dropped and FirstSeq moves forward.
//	_, _ = l.TrimBefore(ctx, seq, 1024)
//
// Sequences start at 1 and are never reused, so a reader can tell a trimmed
// range from an empty one by comparing its expected position with FirstSeq.
package changelog
