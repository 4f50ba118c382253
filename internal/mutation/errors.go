package mutation

import (
	"fmt"
)

// MalformedRecordError reports a log entry that cannot be decoded into a Record.
type MalformedRecordError struct {
	Position Position
	Reason   string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at position %d: %s", e.Position, e.Reason)
}

func malformed(pos Position, format string, args ...interface{}) error {
	return &MalformedRecordError{Position: pos, Reason: fmt.Sprintf(format, args...)}
}
