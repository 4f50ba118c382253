package dispatch

import (
	"fmt"

	"github.com/rzbill/kvbridge/internal/mutation"
)

// DispatchFailedError reports a transaction that could not be confirmed,
// after retries ran out or on a structural downstream error. The batch it
// belongs to is not confirmed and the checkpoint must not advance.
type DispatchFailedError struct {
	DB            int
	Partition     int
	FirstPosition mutation.Position
	LastPosition  mutation.Position
	Attempts      uint32
	// Exhausted is false when the error was structural and never retried.
	Exhausted bool
	Err       error
}

func (e *DispatchFailedError) Error() string {
	why := "structural error"
	if e.Exhausted {
		why = "retries exhausted"
	}
	return fmt.Sprintf("dispatch of positions %d..%d to db %d partition %d failed after %d attempt(s) (%s): %v",
		e.FirstPosition, e.LastPosition, e.DB, e.Partition, e.Attempts, why, e.Err)
}

func (e *DispatchFailedError) Unwrap() error { return e.Err }
