package mutation

import (
	"encoding/binary"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

// FormatVersion is the header version written by Encode.
const FormatVersion = 1

const headerLen = 1 + 1 + 1 + 8

// Encode serializes r into a change log header and payload.
//
//	header:  version | type | op | ts_ms (8B BE)
//	payload: uvarint len | namespace | uvarint len | key | uvarint count | (uvarint len | operand)*
func Encode(r Record) (header, payload []byte, err error) {
	if err := validate(r); err != nil {
		return nil, nil, err
	}
	header = make([]byte, 0, headerLen)
	header = append(header, FormatVersion, byte(r.Type), byte(r.Op))
	var ts int64
	if !r.Timestamp.IsZero() {
		ts = r.Timestamp.UnixMilli()
	}
	header = binary.BigEndian.AppendUint64(header, uint64(ts))

	payload = appendBytes(payload, []byte(r.Namespace))
	payload = appendBytes(payload, r.Key)
	payload = binary.AppendUvarint(payload, uint64(len(r.Operands)))
	for _, o := range r.Operands {
		payload = appendBytes(payload, o)
	}
	return header, payload, nil
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

// Decode parses a raw log entry. Any failure is a *MalformedRecordError.
func Decode(raw Raw) (Record, error) {
	pos := raw.Position
	if raw.Corrupt {
		return Record{}, malformed(pos, "stored entry failed checksum")
	}
	h := raw.Header
	if len(h) < headerLen {
		return Record{}, malformed(pos, "header truncated (%d bytes)", len(h))
	}
	if h[0] != FormatVersion {
		return Record{}, malformed(pos, "unknown format version %d", h[0])
	}
	r := Record{Position: pos, Type: DataType(h[1]), Op: Op(h[2])}
	if ts := int64(binary.BigEndian.Uint64(h[3:11])); ts > 0 {
		r.Timestamp = time.UnixMilli(ts).UTC()
	}

	d := payloadDecoder{buf: raw.Payload}
	ns := d.next()
	key := d.next()
	count := d.uvarint()
	if d.err != "" {
		return Record{}, malformed(pos, "%s", d.err)
	}
	if count > uint64(len(d.buf)) {
		return Record{}, malformed(pos, "operand count %d exceeds payload", count)
	}
	r.Namespace = string(ns)
	r.Key = key
	if count > 0 {
		r.Operands = make([][]byte, 0, count)
	}
	for i := uint64(0); i < count; i++ {
		r.Operands = append(r.Operands, d.next())
	}
	if d.err != "" {
		return Record{}, malformed(pos, "%s", d.err)
	}
	if len(d.buf) != 0 {
		return Record{}, malformed(pos, "%d trailing payload bytes", len(d.buf))
	}
	if err := validate(r); err != nil {
		return Record{}, malformed(pos, "%s", err.Error())
	}
	return r, nil
}

type payloadDecoder struct {
	buf []byte
	err string
}

func (d *payloadDecoder) uvarint() uint64 {
	if d.err != "" {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.err = "truncated length prefix"
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *payloadDecoder) next() []byte {
	l := d.uvarint()
	if d.err != "" {
		return nil
	}
	if l > uint64(len(d.buf)) {
		d.err = "truncated operand encoding"
		return nil
	}
	out := append([]byte(nil), d.buf[:l]...)
	d.buf = d.buf[l:]
	return out
}

// validate checks the data type, op/type compatibility and operand shape.
func validate(r Record) error {
	if !r.Type.Valid() {
		return errors.Newf("unknown data type tag %d", uint8(r.Type))
	}
	shape, ok := shapes[r.Op]
	if !ok {
		return errors.Newf("unknown op tag %d", uint8(r.Op))
	}
	if shape.types != nil && !slices.Contains(shape.types, r.Type) {
		return errors.Newf("op %s is not valid for %s keys", r.Op, r.Type)
	}
	if len(r.Key) == 0 {
		return errors.New("empty key")
	}
	hi := len(shape.operands)
	lo := hi - shape.optional
	if len(r.Operands) < lo || len(r.Operands) > hi {
		return errors.Newf("op %s takes %d..%d operands, got %d", r.Op, lo, hi, len(r.Operands))
	}
	for i, o := range r.Operands {
		if err := checkOperand(shape.operands[i], o); err != nil {
			return errors.Wrapf(err, "operand %d of %s", i, r.Op)
		}
	}
	return nil
}

func checkOperand(kind operandKind, b []byte) error {
	s := string(b)
	switch kind {
	case integer:
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			return errors.Newf("%q is not an integer", s)
		}
	case bitOffset:
		if _, err := strconv.ParseUint(s, 10, 32); err != nil {
			return errors.Newf("%q is not a bit offset in [0, %d]", s, MaxBitOffset)
		}
	case ttlSeconds, positiveTTL:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 || v > MaxTTLSeconds {
			return errors.Newf("%q is not a TTL in [0, %d] seconds", s, MaxTTLSeconds)
		}
		if v == 0 && kind == positiveTTL {
			return errors.Newf("%q is not a positive TTL", s)
		}
	case float:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return errors.Newf("%q is not a score", s)
		}
	case bit:
		if s != "0" && s != "1" {
			return errors.Newf("%q is not a bit", s)
		}
	}
	return nil
}
