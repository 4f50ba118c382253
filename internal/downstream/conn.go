package downstream

import (
	"context"
	"strconv"

	"github.com/rzbill/kvbridge/internal/mutation"
	"github.com/rzbill/kvbridge/internal/translate"
)

// Tx is one transaction against a single downstream DB.
type Tx struct {
	DB        int
	Partition int
	// Position is the highest upstream position the commands cover; it is
	// written to the partition marker.
	Position mutation.Position
	Commands []translate.Command
}

// Conn is the downstream store.
type Conn interface {
	// Exec applies tx atomically with its marker update.
	Exec(ctx context.Context, tx Tx) error
	// Applied returns the marker position of (db, partition), 0 when unset.
	Applied(ctx context.Context, db, partition int) (mutation.Position, error)
	Ping(ctx context.Context) error
	Close() error
}

// MarkerKey names the position marker of a partition.
func MarkerKey(prefix string, partition int) string {
	return prefix + ":" + strconv.Itoa(partition)
}
