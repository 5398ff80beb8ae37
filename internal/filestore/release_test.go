package filestore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/forgegrid/internal/filestore"
)

type fakeReleaseRecorder struct {
	calls []recordedRelease
	err   error
}

type recordedRelease struct {
	submitID     uuid.UUID
	artifactPath string
	storeName    string
}

func (f *fakeReleaseRecorder) RecordRelease(ctx context.Context, submitID uuid.UUID, artifactPath, storeName string, releaseTime time.Time) error {
	f.calls = append(f.calls, recordedRelease{submitID, artifactPath, storeName})
	return f.err
}

func stageOneArtifact(t *testing.T, staging *filestore.StagingStore, submitID uuid.UUID, name string) {
	t.Helper()
	src := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(src, []byte("built"), 0o644))
	_, err := staging.Stage(context.Background(), submitID, name, src)
	require.NoError(t, err)
}

func TestPromoteCopiesAndRecordsRelease(t *testing.T) {
	staging := filestore.NewStagingStore(t.TempDir())
	releasesRoot := t.TempDir()
	audit := &fakeReleaseRecorder{}
	releases := filestore.NewReleaseStore(releasesRoot, []string{"stable"}, audit)

	submitID := uuid.New()
	stageOneArtifact(t, staging, submitID, "app-1.0.0.pkg")

	dest, err := releases.Promote(context.Background(), submitID, staging, "app-1.0.0.pkg", "stable", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(releasesRoot, "stable", "app-1.0.0.pkg"), dest)
	assert.FileExists(t, dest)
	require.Len(t, audit.calls, 1)
	assert.Equal(t, "stable", audit.calls[0].storeName)
}

func TestPromoteRejectsUnknownStore(t *testing.T) {
	staging := filestore.NewStagingStore(t.TempDir())
	releases := filestore.NewReleaseStore(t.TempDir(), []string{"stable"}, &fakeReleaseRecorder{})

	_, err := releases.Promote(context.Background(), uuid.New(), staging, "app-1.0.0.pkg", "nightly", false)
	require.Error(t, err)
}

func TestPromoteRejectsCollisionWithoutOverwrite(t *testing.T) {
	staging := filestore.NewStagingStore(t.TempDir())
	releasesRoot := t.TempDir()
	audit := &fakeReleaseRecorder{}
	releases := filestore.NewReleaseStore(releasesRoot, []string{"stable"}, audit)

	submitID := uuid.New()
	stageOneArtifact(t, staging, submitID, "app-1.0.0.pkg")
	require.NoError(t, os.MkdirAll(filepath.Join(releasesRoot, "stable"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(releasesRoot, "stable", "app-1.0.0.pkg"), []byte("old"), 0o644))

	_, err := releases.Promote(context.Background(), submitID, staging, "app-1.0.0.pkg", "stable", false)
	require.Error(t, err)
	var storeErr *filestore.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, filestore.Overwrite, storeErr.Kind)
	assert.Empty(t, audit.calls)
}

func TestPromoteOverwritesWhenRequested(t *testing.T) {
	staging := filestore.NewStagingStore(t.TempDir())
	releasesRoot := t.TempDir()
	audit := &fakeReleaseRecorder{}
	releases := filestore.NewReleaseStore(releasesRoot, []string{"stable"}, audit)

	submitID := uuid.New()
	stageOneArtifact(t, staging, submitID, "app-1.0.0.pkg")
	require.NoError(t, os.MkdirAll(filepath.Join(releasesRoot, "stable"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(releasesRoot, "stable", "app-1.0.0.pkg"), []byte("old"), 0o644))

	dest, err := releases.Promote(context.Background(), submitID, staging, "app-1.0.0.pkg", "stable", true)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "built", string(data))
	require.Len(t, audit.calls, 1)
}

func TestPromoteDoesNotRecordWhenCopyFails(t *testing.T) {
	staging := filestore.NewStagingStore(t.TempDir())
	audit := &fakeReleaseRecorder{}
	releases := filestore.NewReleaseStore(t.TempDir(), []string{"stable"}, audit)

	_, err := releases.Promote(context.Background(), uuid.New(), staging, "never-staged.pkg", "stable", false)
	require.Error(t, err)
	var storeErr *filestore.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, filestore.Copy, storeErr.Kind)
	assert.Empty(t, audit.calls)
}

func TestPromoteSurfacesAuditFailureAfterSuccessfulCopy(t *testing.T) {
	staging := filestore.NewStagingStore(t.TempDir())
	releasesRoot := t.TempDir()
	audit := &fakeReleaseRecorder{err: errors.New("db unavailable")}
	releases := filestore.NewReleaseStore(releasesRoot, []string{"stable"}, audit)

	submitID := uuid.New()
	stageOneArtifact(t, staging, submitID, "app-1.0.0.pkg")

	dest, err := releases.Promote(context.Background(), submitID, staging, "app-1.0.0.pkg", "stable", false)
	require.Error(t, err)
	assert.FileExists(t, dest)
}
