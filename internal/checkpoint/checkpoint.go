// Package checkpoint persists the last upstream position whose commands are
// confirmed downstream.
//
// Every backend replaces the stored value atomically and ignores a Save whose
// position is below the stored one, so the checkpoint never moves backwards
// except through an explicit Reset.
package checkpoint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/rzbill/kvbridge/internal/mutation"
)

// Checkpoint is the durable resume point.
type Checkpoint struct {
	Position  mutation.Position `json:"position"`
	AppliedAt time.Time         `json:"appliedAt"`
	// RunID identifies the bridge process that wrote the checkpoint.
	RunID string `json:"runId,omitempty"`
}

// Store persists one bridge's checkpoint.
type Store interface {
	// Load returns the stored checkpoint, nil when none was ever saved.
	Load(ctx context.Context) (*Checkpoint, error)
	// Save stores cp unless the stored position is higher.
	Save(ctx context.Context, cp Checkpoint) error
	// Reset stores cp unconditionally. Operators use it to resync after a
	// log gap.
	Reset(ctx context.Context, cp Checkpoint) error
	Close() error
}

func marshal(cp Checkpoint) ([]byte, error) {
	cp.AppliedAt = cp.AppliedAt.UTC()
	return json.Marshal(cp)
}

func unmarshal(b []byte, where string) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %s", where)
	}
	return &cp, nil
}
