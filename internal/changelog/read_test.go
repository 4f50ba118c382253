package changelog

import (
	"testing"
)

func TestReadForward(t *testing.T) {
	l, seqs := seedLog(t, 5)
	items, next, err := l.Read(ReadOptions{Limit: 3})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("want 3 items, got %d", len(items))
	}
	if items[0].Seq != seqs[0] || items[2].Seq != seqs[2] {
		t.Fatalf("unexpected seqs")
	}
	if next.Seq() != seqs[3] {
		t.Fatalf("next token = %d, want %d", next.Seq(), seqs[3])
	}
}

func TestReadToEndReturnsZeroToken(t *testing.T) {
	l, _ := seedLog(t, 2)
	items, next, err := l.Read(ReadOptions{Limit: 10})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(items) != 2 || next.Seq() != 0 {
		t.Fatalf("items=%d next=%d", len(items), next.Seq())
	}
}

func TestSeekByToken(t *testing.T) {
	l, seqs := seedLog(t, 4)
	items, _, err := l.Read(ReadOptions{Start: TokenFromSeq(seqs[2]), Limit: 2})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(items) != 2 || items[0].Seq != seqs[2] {
		t.Fatalf("seek failed: %+v", items)
	}
}

func TestReadFlagsCorruptEntries(t *testing.T) {
	l, seqs := seedLog(t, 2)
	if err := l.db.Set(KeyEntry(l.stream, seqs[1]), []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	items, _, err := l.Read(ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("corrupt entry must still be returned, got %d items", len(items))
	}
	if items[0].Corrupt || !items[1].Corrupt {
		t.Fatalf("corrupt flags wrong: %+v", items)
	}
}

func TestRecordRoundTripDetectsBitFlip(t *testing.T) {
	enc := EncodeRecord([]byte("hdr"), []byte("payload"))
	dec, ok := DecodeRecord(enc)
	if !ok || string(dec.Header) != "hdr" || string(dec.Payload) != "payload" {
		t.Fatalf("decode failed: %+v", dec)
	}
	enc[len(enc)-6] ^= 0xFF
	if _, ok := DecodeRecord(enc); ok {
		t.Fatalf("checksum should reject flipped byte")
	}
}
