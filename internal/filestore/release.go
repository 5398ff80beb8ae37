package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ReleaseRecorder is the subset of the audit store a ReleaseStore
// needs: one call to append a release row once a promotion's copy has
// already landed. Defined here, not imported from internal/audit, so
// a fake can stand in during tests without a database.
type ReleaseRecorder interface {
	RecordRelease(ctx context.Context, submitID uuid.UUID, artifactPath, storeName string, releaseTime time.Time) error
}

// ReleaseStore holds one subdirectory per configured release store
// name under root, and records a release row for every promotion.
type ReleaseStore struct {
	root    string
	allowed map[string]bool
	audit   ReleaseRecorder
}

// NewReleaseStore returns a ReleaseStore rooted at root (appconfig's
// releases_root), accepting only the configured store names.
func NewReleaseStore(root string, storeNames []string, audit ReleaseRecorder) *ReleaseStore {
	allowed := make(map[string]bool, len(storeNames))
	for _, name := range storeNames {
		allowed[name] = true
	}
	return &ReleaseStore{root: root, allowed: allowed, audit: audit}
}

// Promote copies name out of staging's submit subdirectory into
// storeName's tree and, once the copy has landed, appends the release
// row (I7: a failed copy never produces a row; an existing destination
// is left untouched unless overwrite is set, matching the
// copy-not-rename, overwrite-on-name-collision semantics the original
// release command implements ahead of the db insert).
func (r *ReleaseStore) Promote(ctx context.Context, submitID uuid.UUID, staging *StagingStore, name, storeName string, overwrite bool) (string, error) {
	if !r.allowed[storeName] {
		return "", fmt.Errorf("filestore: unknown release store %q", storeName)
	}

	src := staging.Path(submitID, name)
	if info, err := os.Stat(src); err != nil || info.IsDir() {
		if err == nil {
			err = fmt.Errorf("is a directory")
		}
		return "", &StoreError{Kind: Copy, Path: src, Err: err}
	}

	destDir := filepath.Join(r.root, storeName)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", &StoreError{Kind: Copy, Path: destDir, Err: err}
	}
	dest := filepath.Join(destDir, name)

	if _, err := os.Stat(dest); err == nil {
		if !overwrite {
			return "", &StoreError{Kind: Overwrite, Path: dest, Err: fmt.Errorf("already exists")}
		}
	} else if !os.IsNotExist(err) {
		return "", &StoreError{Kind: Copy, Path: dest, Err: err}
	}

	if err := copyFile(src, dest); err != nil {
		return "", &StoreError{Kind: Copy, Path: dest, Err: err}
	}

	if err := r.audit.RecordRelease(ctx, submitID, name, storeName, time.Now().UTC()); err != nil {
		return dest, err
	}
	return dest, nil
}

func (r *ReleaseStore) String() string {
	return fmt.Sprintf("ReleaseStore(root: %s)", r.root)
}
