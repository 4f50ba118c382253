// Package translate maps decoded upstream mutations to downstream RESP commands.
package translate

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rzbill/kvbridge/internal/mutation"
)

// Command is one downstream command derived from a mutation.
type Command struct {
	Key  []byte
	Verb string
	Args [][]byte
	// Expiry is the TTL the command sets, 0 when it sets none.
	Expiry time.Duration
}

// Argv returns the command in the argument form a RESP client sends.
func (c Command) Argv() []interface{} {
	argv := make([]interface{}, 0, 2+len(c.Args))
	argv = append(argv, c.Verb, c.Key)
	for _, a := range c.Args {
		argv = append(argv, a)
	}
	return argv
}

func (c Command) String() string {
	s := c.Verb + " " + strconv.Quote(string(c.Key))
	for _, a := range c.Args {
		s += " " + strconv.Quote(string(a))
	}
	return s
}

// TranslationError reports a record with no downstream equivalent. Decoded
// records never produce one; seeing it means the mapping and the decoder
// disagree.
type TranslationError struct {
	Position mutation.Position
	Type     mutation.DataType
	Op       mutation.Op
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("no downstream command for %s %s at position %d", e.Type, e.Op, e.Position)
}

var verbs = map[mutation.Op]string{
	mutation.OpSet:    "SET",
	mutation.OpZAdd:   "ZADD",
	mutation.OpZRem:   "ZREM",
	mutation.OpLSet:   "LSET",
	mutation.OpLPush:  "LPUSH",
	mutation.OpRPush:  "RPUSH",
	mutation.OpLPop:   "LPOP",
	mutation.OpRPop:   "RPOP",
	mutation.OpLTrim:  "LTRIM",
	mutation.OpSAdd:   "SADD",
	mutation.OpSRem:   "SREM",
	mutation.OpHSet:   "HSET",
	mutation.OpHDel:   "HDEL",
	mutation.OpSetBit: "SETBIT",
	mutation.OpExpire: "EXPIRE",
	mutation.OpDelete: "DEL",
}

var arity = map[mutation.Op][2]int{
	mutation.OpSet:    {1, 2},
	mutation.OpZAdd:   {2, 2},
	mutation.OpZRem:   {1, 1},
	mutation.OpLSet:   {2, 2},
	mutation.OpLPush:  {1, 1},
	mutation.OpRPush:  {1, 1},
	mutation.OpLPop:   {0, 0},
	mutation.OpRPop:   {0, 0},
	mutation.OpLTrim:  {2, 2},
	mutation.OpSAdd:   {1, 1},
	mutation.OpSRem:   {1, 1},
	mutation.OpHSet:   {2, 2},
	mutation.OpHDel:   {1, 1},
	mutation.OpSetBit: {2, 2},
	mutation.OpExpire: {1, 1},
	mutation.OpDelete: {0, 0},
}

// Translate returns the downstream commands for r. It is pure: the same record
// always yields the same commands.
func Translate(r mutation.Record) ([]Command, error) {
	verb, ok := verbs[r.Op]
	if !ok || !r.Type.Valid() || len(r.Key) == 0 {
		return nil, &TranslationError{Position: r.Position, Type: r.Type, Op: r.Op}
	}
	bounds := arity[r.Op]
	if len(r.Operands) < bounds[0] || len(r.Operands) > bounds[1] {
		return nil, &TranslationError{Position: r.Position, Type: r.Type, Op: r.Op}
	}

	cmd := Command{Key: r.Key, Verb: verb, Args: r.Operands}
	switch r.Op {
	case mutation.OpSet:
		if len(r.Operands) == 2 {
			ttl, err := seconds(r.Operands[1])
			if err != nil || ttl <= 0 {
				return nil, &TranslationError{Position: r.Position, Type: r.Type, Op: r.Op}
			}
			cmd.Args = [][]byte{r.Operands[0], []byte("EX"), r.Operands[1]}
			cmd.Expiry = ttl
		}
	case mutation.OpExpire:
		ttl, err := seconds(r.Operands[0])
		if err != nil {
			return nil, &TranslationError{Position: r.Position, Type: r.Type, Op: r.Op}
		}
		cmd.Expiry = ttl
	}
	return []Command{cmd}, nil
}

func seconds(b []byte) (time.Duration, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > mutation.MaxTTLSeconds {
		return 0, fmt.Errorf("ttl %d out of range", n)
	}
	return time.Duration(n) * time.Second, nil
}
