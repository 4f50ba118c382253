package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
)

// FileStore keeps the checkpoint as a JSON file replaced by rename.
type FileStore struct {
	path string

	mu     sync.Mutex
	loaded bool
	last   *Checkpoint
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("checkpoint: file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create checkpoint dir")
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Load(ctx context.Context) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *FileStore) loadLocked() (*Checkpoint, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.loaded, s.last = true, nil
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read checkpoint %s", s.path)
	}
	cp, err := unmarshal(b, s.path)
	if err != nil {
		return nil, err
	}
	s.loaded, s.last = true, cp
	c := *cp
	return &c, nil
}

func (s *FileStore) Save(ctx context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		if _, err := s.loadLocked(); err != nil {
			return err
		}
	}
	if s.last != nil && cp.Position < s.last.Position {
		return nil
	}
	return s.writeLocked(cp)
}

func (s *FileStore) Reset(ctx context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(cp)
}

// writeLocked writes a temp file in the target directory, syncs it, renames
// it over the checkpoint and syncs the directory.
func (s *FileStore) writeLocked(cp Checkpoint) error {
	b, err := marshal(cp)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create checkpoint temp file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write checkpoint")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "sync checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close checkpoint")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.Wrap(err, "replace checkpoint")
	}
	if err := syncDir(dir); err != nil {
		return errors.Wrapf(err, "sync checkpoint dir %s", dir)
	}
	c := cp
	s.loaded, s.last = true, &c
	return nil
}

func (s *FileStore) Close() error { return nil }

// syncDir makes a rename in dir durable.
var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return err
	}
	return d.Close()
}
