package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/kilnworks/kiln/internal/ctxlog"
)

// LocalStore implements Store on the local filesystem. Each run gets a
// unique directory under the scratch root; stage directories nest below it.
type LocalStore struct {
	root  string
	runID string
}

// NewLocalStore creates the run directory under root and returns a store
// scoped to a fresh run ID.
func NewLocalStore(root string) (*LocalStore, error) {
	runID := uuid.NewString()
	runDir := filepath.Join(root, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating run directory %s", runDir)
	}
	return &LocalStore{root: root, runID: runID}, nil
}

// RunID implements Store.
func (s *LocalStore) RunID() string { return s.runID }

// Root returns the scratch root the store was created with.
func (s *LocalStore) Root() string { return s.root }

// StageDir implements Store.
func (s *LocalStore) StageDir(ctx context.Context, stage, item string) (*Handle, error) {
	dir := filepath.Join(s.root, s.runID, stage)
	if item != "" {
		dir = filepath.Join(dir, item)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating stage directory %s", dir)
	}
	ctxlog.FromContext(ctx).Debug("Allocated stage directory.", "stage", stage, "item", item, "path", dir)
	return &Handle{RunID: s.runID, Stage: stage, Item: item, Path: dir}, nil
}
