package mutation

import (
	"math"
	"strconv"
	"time"
)

// Position identifies a committed record in the upstream log. 0 means
// "before the first record".
type Position uint64

// DataType tags the upstream key type a mutation applies to.
type DataType uint8

const (
	TypeString DataType = iota + 1
	TypeList
	TypeSet
	TypeHash
	TypeZSet
	TypeBitmap
)

var dataTypeNames = map[DataType]string{
	TypeString: "string",
	TypeList:   "list",
	TypeSet:    "set",
	TypeHash:   "hash",
	TypeZSet:   "zset",
	TypeBitmap: "bitmap",
}

func (t DataType) String() string {
	if n, ok := dataTypeNames[t]; ok {
		return n
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}

func (t DataType) Valid() bool {
	_, ok := dataTypeNames[t]
	return ok
}

// Op is the upstream operation.
type Op uint8

const (
	OpSet Op = iota + 1
	OpZAdd
	OpZRem
	OpLSet
	OpLPush
	OpRPush
	OpLPop
	OpRPop
	OpLTrim
	OpSAdd
	OpSRem
	OpHSet
	OpHDel
	OpSetBit
	OpExpire
	OpDelete
)

var opNames = map[Op]string{
	OpSet:    "set",
	OpZAdd:   "zadd",
	OpZRem:   "zrem",
	OpLSet:   "lset",
	OpLPush:  "lpush",
	OpRPush:  "rpush",
	OpLPop:   "lpop",
	OpRPop:   "rpop",
	OpLTrim:  "ltrim",
	OpSAdd:   "sadd",
	OpSRem:   "srem",
	OpHSet:   "hset",
	OpHDel:   "hdel",
	OpSetBit: "setbit",
	OpExpire: "expire",
	OpDelete: "delete",
}

func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return "op(" + strconv.Itoa(int(o)) + ")"
}

// numeric operand kinds, checked during decode
type operandKind uint8

const (
	anyBytes operandKind = iota
	integer
	float
	bit
	bitOffset
	ttlSeconds
	positiveTTL
)

const (
	// MaxBitOffset is the largest offset a downstream SETBIT accepts.
	MaxBitOffset = 1<<32 - 1
	// MaxTTLSeconds is the longest TTL that still fits a time.Duration.
	MaxTTLSeconds = math.MaxInt64 / int64(time.Second)
)

type opShape struct {
	types    []DataType // nil means every data type
	operands []operandKind
	optional int // trailing operands that may be absent
}

var shapes = map[Op]opShape{
	OpSet:    {types: []DataType{TypeString}, operands: []operandKind{anyBytes, positiveTTL}, optional: 1},
	OpZAdd:   {types: []DataType{TypeZSet}, operands: []operandKind{float, anyBytes}},
	OpZRem:   {types: []DataType{TypeZSet}, operands: []operandKind{anyBytes}},
	OpLSet:   {types: []DataType{TypeList}, operands: []operandKind{integer, anyBytes}},
	OpLPush:  {types: []DataType{TypeList}, operands: []operandKind{anyBytes}},
	OpRPush:  {types: []DataType{TypeList}, operands: []operandKind{anyBytes}},
	OpLPop:   {types: []DataType{TypeList}},
	OpRPop:   {types: []DataType{TypeList}},
	OpLTrim:  {types: []DataType{TypeList}, operands: []operandKind{integer, integer}},
	OpSAdd:   {types: []DataType{TypeSet}, operands: []operandKind{anyBytes}},
	OpSRem:   {types: []DataType{TypeSet}, operands: []operandKind{anyBytes}},
	OpHSet:   {types: []DataType{TypeHash}, operands: []operandKind{anyBytes, anyBytes}},
	OpHDel:   {types: []DataType{TypeHash}, operands: []operandKind{anyBytes}},
	OpSetBit: {types: []DataType{TypeBitmap}, operands: []operandKind{bitOffset, bit}},
	OpExpire: {operands: []operandKind{ttlSeconds}},
	OpDelete: {},
}

// Record is one decoded upstream mutation. Immutable once decoded.
type Record struct {
	Position  Position
	Namespace string
	Key       []byte
	Type      DataType
	Op        Op
	Operands  [][]byte
	// Timestamp is the upstream commit time, zero when the producer left it out.
	Timestamp time.Time
}

// Size approximates the record's downstream footprint for batch limits.
func (r Record) Size() int {
	n := len(r.Key)
	for _, o := range r.Operands {
		n += len(o)
	}
	return n
}

// Raw is an undecoded log entry as handed over by the reader.
type Raw struct {
	Position Position
	Header   []byte
	Payload  []byte
	// Corrupt marks entries whose framing or checksum failed in storage.
	Corrupt bool
}
