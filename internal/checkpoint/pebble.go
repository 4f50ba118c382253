package checkpoint

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	pebblestore "github.com/rzbill/kvbridge/internal/storage/pebble"
)

// PebbleStore keeps the checkpoint under a single key of the bridge's Pebble
// database.
type PebbleStore struct {
	db  *pebblestore.DB
	key []byte
	mu  sync.Mutex
}

// NewPebbleStore stores the checkpoint of bridge name at ckpt/{name}.
func NewPebbleStore(db *pebblestore.DB, name string) (*PebbleStore, error) {
	if db == nil {
		return nil, errors.New("checkpoint: nil pebble db")
	}
	if name == "" {
		return nil, errors.New("checkpoint: bridge name is required")
	}
	return &PebbleStore{db: db, key: []byte("ckpt/" + name)}, nil
}

func (s *PebbleStore) Load(ctx context.Context) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *PebbleStore) loadLocked() (*Checkpoint, error) {
	b, err := s.db.Get(s.key)
	if errors.Is(err, pebblestore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read checkpoint")
	}
	return unmarshal(b, string(s.key))
}

// Save ignores checkpoints lower than the stored one.
func (s *PebbleStore) Save(ctx context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, err := s.loadLocked()
	if err != nil {
		return err
	}
	if prev != nil && cp.Position < prev.Position {
		return nil
	}
	return s.write(ctx, cp)
}

func (s *PebbleStore) Reset(ctx context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, cp)
}

func (s *PebbleStore) write(ctx context.Context, cp Checkpoint) error {
	b, err := marshal(cp)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(s.key, b, nil); err != nil {
		return err
	}
	return errors.Wrap(s.db.CommitBatch(ctx, batch), "commit checkpoint")
}

// Close leaves the shared database open; its owner closes it.
func (s *PebbleStore) Close() error { return nil }
