// Package cache is the durable local snapshot store. It survives
// process restarts and total remote unavailability; the remote store is
// only ever a peer, never a prerequisite.
package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"tamtap/internal/model"
)

// Cache reads and writes the whole-snapshot JSON file. It performs no
// locking itself; callers serialize through a Guard.
type Cache struct {
	path string
	log  *zap.Logger
}

// New returns a cache backed by the file at path. The file is created
// on first Save; a missing file is not an error.
func New(path string, log *zap.Logger) *Cache {
	return &Cache{path: path, log: log}
}

// Load reads the snapshot from disk. A missing, truncated, or
// malformed file produces an empty well-formed snapshot; Load never
// fails. Unknown fields are rejected rather than carried through the
// system.
func (c *Cache) Load() *model.Snapshot {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.log.Warn("cache read failed, starting empty", zap.String("path", c.path), zap.Error(err))
		}
		return model.EmptySnapshot()
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var snap model.Snapshot
	if err := dec.Decode(&snap); err != nil {
		c.log.Warn("cache file corrupt, starting empty", zap.String("path", c.path), zap.Error(err))
		return model.EmptySnapshot()
	}
	snap.Normalize()
	return &snap
}

// Save rewrites the snapshot file. The write goes through a temp file
// and rename so a crash mid-write leaves the previous snapshot intact.
// Failures are returned for the caller to log; in-memory state remains
// authoritative and the write is retried on the next mutation.
func (c *Cache) Save(snap *model.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Path returns the backing file path.
func (c *Cache) Path() string { return c.path }
