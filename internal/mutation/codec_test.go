package mutation

import (
	"encoding/binary"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func encodeRaw(t *testing.T, r Record, pos Position) Raw {
	t.Helper()
	h, p, err := Encode(r)
	require.NoError(t, err)
	return Raw{Position: pos, Header: h, Payload: p}
}

func TestEncodeDecodeFixtureRecords(t *testing.T) {
	ts := time.UnixMilli(1_700_000_000_123).UTC()
	fixtures := []Record{
		Set("ns1", "foo", "2"),
		SetEx("ns1", "foo_ex", "2", 7200*time.Second),
		ZAdd("ns1", "zfoo", 4, "d"),
		ZRem("ns1", "zfoo", "d"),
		LSet("ns1", "lfoo", 0, "a"),
		RPush("ns1", "lfoo", "a"),
		LPush("ns1", "lfoo", "b"),
		LPop("ns1", "lfoo"),
		RPop("ns1", "lfoo"),
		LTrim("ns1", "lfoo", 0, 2),
		SAdd("ns1", "sfoo", "f"),
		SRem("ns1", "sfoo", "f"),
		HSet("ns1", "hfoo", "b", "2"),
		HDel("ns1", "hfoo", "b"),
		SetBit("ns1", "bfoo", 900000, true),
		Expire("ns1", "zfoo", TypeZSet, 7200*time.Second),
		Delete("", "foo", TypeString),
	}
	for i, in := range fixtures {
		in.Timestamp = ts
		got, err := Decode(encodeRaw(t, in, Position(i+1)))
		require.NoError(t, err, "fixture %d (%s)", i, in.Op)
		require.Equal(t, Position(i+1), got.Position)
		require.Equal(t, in.Namespace, got.Namespace)
		require.Equal(t, in.Key, got.Key)
		require.Equal(t, in.Type, got.Type)
		require.Equal(t, in.Op, got.Op)
		require.Equal(t, in.Operands, got.Operands)
		require.True(t, ts.Equal(got.Timestamp))
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	good := encodeRaw(t, HSet("", "hfoo", "b", "2"), 9)

	header := func(mut func(h []byte)) Raw {
		h := append([]byte(nil), good.Header...)
		mut(h)
		return Raw{Position: 9, Header: h, Payload: good.Payload}
	}
	cases := map[string]Raw{
		"corrupt":          {Position: 9, Corrupt: true},
		"short header":     {Position: 9, Header: good.Header[:4], Payload: good.Payload},
		"unknown version":  header(func(h []byte) { h[0] = 7 }),
		"unknown type tag": header(func(h []byte) { h[1] = 99 }),
		"unknown op tag":   header(func(h []byte) { h[2] = 99 }),
		"op/type mismatch": header(func(h []byte) { h[2] = byte(OpZAdd) }),
		"truncated":        {Position: 9, Header: good.Header, Payload: good.Payload[:len(good.Payload)-1]},
		"trailing":         {Position: 9, Header: good.Header, Payload: append(append([]byte(nil), good.Payload...), 0)},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(raw)
			var mre *MalformedRecordError
			require.True(t, errors.As(err, &mre), "got %v", err)
			require.Equal(t, Position(9), mre.Position)
		})
	}
}

func TestDecodeValidatesOperands(t *testing.T) {
	bad := []Record{
		{Key: []byte("z"), Type: TypeZSet, Op: OpZAdd, Operands: [][]byte{[]byte("four"), []byte("d")}},
		{Key: []byte("b"), Type: TypeBitmap, Op: OpSetBit, Operands: [][]byte{[]byte("1"), []byte("2")}},
		{Key: []byte("l"), Type: TypeList, Op: OpLTrim, Operands: [][]byte{[]byte("0")}},
		{Key: []byte("s"), Type: TypeString, Op: OpSet, Operands: [][]byte{[]byte("v"), []byte("0")}},
		{Key: []byte("k"), Type: TypeSet, Op: OpExpire, Operands: [][]byte{[]byte("-1")}},
		{Type: TypeString, Op: OpDelete},
	}
	for _, r := range bad {
		_, _, err := Encode(r)
		require.Error(t, err, "encode should refuse %s %v", r.Op, r.Operands)
	}

	// Bypass Encode's validation to make sure Decode checks on its own.
	h := []byte{FormatVersion, byte(TypeZSet), byte(OpZAdd), 0, 0, 0, 0, 0, 0, 0, 0}
	var p []byte
	p = appendBytes(p, nil)
	p = appendBytes(p, []byte("zfoo"))
	p = binary.AppendUvarint(p, 2)
	p = appendBytes(p, []byte("NaN"))
	p = appendBytes(p, []byte("d"))
	_, err := Decode(Raw{Position: 3, Header: h, Payload: p})
	var mre *MalformedRecordError
	require.True(t, errors.As(err, &mre))
}

func rawWithOperands(typ DataType, op Op, key string, operands ...string) Raw {
	h := []byte{FormatVersion, byte(typ), byte(op), 0, 0, 0, 0, 0, 0, 0, 0}
	var p []byte
	p = appendBytes(p, nil)
	p = appendBytes(p, []byte(key))
	p = binary.AppendUvarint(p, uint64(len(operands)))
	for _, o := range operands {
		p = appendBytes(p, []byte(o))
	}
	return Raw{Position: 1, Header: h, Payload: p}
}

func TestDecodeBoundsOffsetsAndTTLs(t *testing.T) {
	tooLong := strconv.FormatInt(MaxTTLSeconds+1, 10)
	bad := []Raw{
		rawWithOperands(TypeBitmap, OpSetBit, "bfoo", "4294967296", "1"),
		rawWithOperands(TypeBitmap, OpSetBit, "bfoo", "18446744073709551615", "1"),
		rawWithOperands(TypeSet, OpExpire, "sfoo", tooLong),
		rawWithOperands(TypeSet, OpExpire, "sfoo", "9223372036854775807"),
		rawWithOperands(TypeString, OpSet, "foo", "v", tooLong),
	}
	for _, raw := range bad {
		_, err := Decode(raw)
		var mre *MalformedRecordError
		require.True(t, errors.As(err, &mre), "got %v", err)
	}

	ok := []Record{
		SetBit("", "bfoo", MaxBitOffset, true),
		Expire("", "sfoo", TypeSet, time.Duration(MaxTTLSeconds)*time.Second),
		Expire("", "sfoo", TypeSet, 0),
		SetEx("", "foo", "v", time.Second),
	}
	for _, r := range ok {
		_, err := Decode(encodeRaw(t, r, 1))
		require.NoError(t, err)
	}
}

func TestDecodeHugeOperandCountIsMalformed(t *testing.T) {
	h := []byte{FormatVersion, byte(TypeSet), byte(OpSAdd), 0, 0, 0, 0, 0, 0, 0, 0}
	var p []byte
	p = appendBytes(p, nil)
	p = appendBytes(p, []byte("s"))
	p = binary.AppendUvarint(p, 1<<40)
	_, err := Decode(Raw{Position: 1, Header: h, Payload: p})
	var mre *MalformedRecordError
	require.True(t, errors.As(err, &mre))
}
