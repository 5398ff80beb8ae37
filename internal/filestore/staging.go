// Package filestore is the orchestrator's two filesystem stores: a
// staging area keyed by submit uuid that every job's output lands in
// first, and the named release stores artifacts are promoted into.
// Grounded on original_source/src/filestore/{staging,release}.rs for
// the copy-not-rename, per-submit-subdirectory layout, and on the
// teacher's internal/fsutil for the package's plain, dependency-free
// file-walking style.
package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// StagingStore holds one subdirectory per submit under root, so a
// submit's outputs never collide with a concurrently running submit's.
type StagingStore struct {
	root string
}

// NewStagingStore returns a StagingStore rooted at root (appconfig's
// staging directory).
func NewStagingStore(root string) *StagingStore {
	return &StagingStore{root: root}
}

// Dir returns submitID's staging subdirectory, creating it if absent.
func (s *StagingStore) Dir(submitID uuid.UUID) (string, error) {
	dir := filepath.Join(s.root, submitID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &StoreError{Kind: Copy, Path: dir, Err: err}
	}
	return dir, nil
}

// Stage copies localPath into submitID's staging subdirectory under
// name, returning the staged path. Satisfies scheduler.ArtifactStore.
func (s *StagingStore) Stage(ctx context.Context, submitID uuid.UUID, name, localPath string) (string, error) {
	dir, err := s.Dir(submitID)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name)
	if err := copyFile(localPath, dest); err != nil {
		return "", &StoreError{Kind: Copy, Path: dest, Err: err}
	}
	return dest, nil
}

// Path resolves name within submitID's staging subdirectory without
// copying anything, for callers (release promotion) that already know
// the file is there.
func (s *StagingStore) Path(submitID uuid.UUID, name string) string {
	return filepath.Join(s.root, submitID.String(), name)
}

func (s *StagingStore) String() string {
	return fmt.Sprintf("StagingStore(root: %s)", s.root)
}
