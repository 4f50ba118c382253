package mutation

import (
	"strconv"
	"time"
)

// Builders for producers and fixtures. They fill Namespace/Key/Type/Op/Operands
// and leave Position to the log.

func newRecord(ns, key string, t DataType, op Op, operands ...string) Record {
	r := Record{Namespace: ns, Key: []byte(key), Type: t, Op: op}
	for _, o := range operands {
		r.Operands = append(r.Operands, []byte(o))
	}
	return r
}

func Set(ns, key, value string) Record { return newRecord(ns, key, TypeString, OpSet, value) }

// SetEx sets a string with a TTL, truncated to whole seconds.
func SetEx(ns, key, value string, ttl time.Duration) Record {
	return newRecord(ns, key, TypeString, OpSet, value, strconv.FormatInt(int64(ttl/time.Second), 10))
}

func ZAdd(ns, key string, score float64, member string) Record {
	return newRecord(ns, key, TypeZSet, OpZAdd, strconv.FormatFloat(score, 'f', -1, 64), member)
}

func ZRem(ns, key, member string) Record { return newRecord(ns, key, TypeZSet, OpZRem, member) }

func LSet(ns, key string, index int64, value string) Record {
	return newRecord(ns, key, TypeList, OpLSet, strconv.FormatInt(index, 10), value)
}

func LPush(ns, key, value string) Record { return newRecord(ns, key, TypeList, OpLPush, value) }
func RPush(ns, key, value string) Record { return newRecord(ns, key, TypeList, OpRPush, value) }
func LPop(ns, key string) Record         { return newRecord(ns, key, TypeList, OpLPop) }
func RPop(ns, key string) Record         { return newRecord(ns, key, TypeList, OpRPop) }

func LTrim(ns, key string, start, stop int64) Record {
	return newRecord(ns, key, TypeList, OpLTrim, strconv.FormatInt(start, 10), strconv.FormatInt(stop, 10))
}

func SAdd(ns, key, member string) Record { return newRecord(ns, key, TypeSet, OpSAdd, member) }
func SRem(ns, key, member string) Record { return newRecord(ns, key, TypeSet, OpSRem, member) }

func HSet(ns, key, field, value string) Record {
	return newRecord(ns, key, TypeHash, OpHSet, field, value)
}

func HDel(ns, key, field string) Record { return newRecord(ns, key, TypeHash, OpHDel, field) }

func SetBit(ns, key string, offset uint64, on bool) Record {
	v := "0"
	if on {
		v = "1"
	}
	return newRecord(ns, key, TypeBitmap, OpSetBit, strconv.FormatUint(offset, 10), v)
}

// Expire sets a TTL on a key of any type, truncated to whole seconds.
func Expire(ns, key string, t DataType, ttl time.Duration) Record {
	return newRecord(ns, key, t, OpExpire, strconv.FormatInt(int64(ttl/time.Second), 10))
}

func Delete(ns, key string, t DataType) Record { return newRecord(ns, key, t, OpDelete) }
