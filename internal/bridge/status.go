package bridge

import (
	"time"

	"github.com/rzbill/kvbridge/internal/checkpoint"
	"github.com/rzbill/kvbridge/internal/mutation"
)

type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Status is a point-in-time view of the bridge.
type Status struct {
	Name           string                 `json:"name"`
	RunID          string                 `json:"runId"`
	State          State                  `json:"state"`
	StartedAt      time.Time              `json:"startedAt,omitempty"`
	ReaderPosition mutation.Position      `json:"readerPosition"`
	Checkpoint     *checkpoint.Checkpoint `json:"checkpoint,omitempty"`
	UpstreamLast   mutation.Position      `json:"upstreamLast"`
	Lag            uint64                 `json:"lag"`
	RecordsRead    uint64                 `json:"recordsRead"`
	Malformed      uint64                 `json:"malformed"`
	Filtered       uint64                 `json:"filtered"`
	Batches        uint64                 `json:"batches"`
	Commands       uint64                 `json:"commands"`
	Deduplicated   uint64                 `json:"deduplicated"`
	LastError      string                 `json:"lastError,omitempty"`
}

// Status returns a snapshot with the lag computed against the upstream log
// as of now.
func (b *Bridge) Status() Status {
	b.mu.RLock()
	s := b.status
	if s.Checkpoint != nil {
		c := *s.Checkpoint
		s.Checkpoint = &c
	}
	b.mu.RUnlock()
	s.UpstreamLast = mutation.Position(b.src.LastSeq())
	s.Lag = Lag(s.UpstreamLast, s.Checkpoint)
	return s
}

// Lag is the number of upstream records past the checkpoint.
func Lag(upstreamLast mutation.Position, cp *checkpoint.Checkpoint) uint64 {
	var at mutation.Position
	if cp != nil {
		at = cp.Position
	}
	if upstreamLast <= at {
		return 0
	}
	return uint64(upstreamLast - at)
}

func (b *Bridge) setState(st State, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.State = st
	if err != nil {
		b.status.LastError = err.Error()
	} else if st == StateStarting {
		b.status.LastError = ""
	}
}

func (b *Bridge) count(f func(*Status)) {
	b.mu.Lock()
	f(&b.status)
	b.mu.Unlock()
}

func (b *Bridge) updateLag() {
	s := b.Status()
	b.m.Lag.Set(float64(s.Lag))
}
