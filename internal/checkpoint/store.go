package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kotoba-ml/kotoba/internal/tensor"
)

// Store is the single-slot "best so far" checkpoint location.
//
// Save replaces the slot atomically: the new checkpoint is written to
// a temporary file in the same directory and renamed over the old one,
// so a crash mid-write never corrupts the last good checkpoint.
type Store struct {
	path string
}

// NewStore creates a store for the checkpoint file at path, creating
// the parent directory if needed.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: creating directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Path returns the checkpoint file location.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a checkpoint is present in the slot.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save writes a state dictionary into the slot, replacing any
// previous checkpoint atomically.
func (s *Store) Save(stateDict map[string]*tensor.RawTensor, meta Meta) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := Write(tmpPath, stateDict, meta); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("checkpoint: replacing slot: %w", err)
	}
	return nil
}

// Load reads the checkpoint currently in the slot.
func (s *Store) Load() (map[string]*tensor.RawTensor, Meta, error) {
	if !s.Exists() {
		return nil, Meta{}, fmt.Errorf("checkpoint: no checkpoint at %s", s.path)
	}
	return Read(s.path)
}
