package log

import "time"

// ErrorKey is the field key used by Err.
const ErrorKey = "error"

// Field is a single structured key/value attached to an entry.
type Field struct {
	Key   string
	Value interface{}
}

func Any(key string, v interface{}) Field { return Field{Key: key, Value: v} }

func Str(key, v string) Field { return Field{Key: key, Value: v} }

func Int(key string, v int) Field { return Field{Key: key, Value: v} }

func Int64(key string, v int64) Field { return Field{Key: key, Value: v} }

func Uint64(key string, v uint64) Field { return Field{Key: key, Value: v} }

func Bool(key string, v bool) Field { return Field{Key: key, Value: v} }

func Duration(key string, v time.Duration) Field { return Field{Key: key, Value: v.String()} }

func Component(name string) Field { return Field{Key: ComponentKey, Value: name} }

func Operation(name string) Field { return Field{Key: OperationKey, Value: name} }

// Err attaches err under the "error" key. A nil error yields an empty string.
func Err(err error) Field {
	if err == nil {
		return Field{Key: ErrorKey, Value: ""}
	}
	return Field{Key: ErrorKey, Value: err}
}
