package filestore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/forgegrid/internal/filestore"
)

func TestStagingStoreStageCopiesIntoSubmitSubdirectory(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(t.TempDir(), "app-1.0.0.pkg")
	require.NoError(t, os.WriteFile(src, []byte("built"), 0o644))

	store := filestore.NewStagingStore(root)
	submitID := uuid.New()

	dest, err := store.Stage(context.Background(), submitID, "app-1.0.0.pkg", src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, submitID.String(), "app-1.0.0.pkg"), dest)
	assert.FileExists(t, dest)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "built", string(data))
}

func TestStagingStorePathDoesNotCopy(t *testing.T) {
	root := t.TempDir()
	store := filestore.NewStagingStore(root)
	submitID := uuid.New()

	p := store.Path(submitID, "app-1.0.0.pkg")
	assert.Equal(t, filepath.Join(root, submitID.String(), "app-1.0.0.pkg"), p)
	assert.NoFileExists(t, p)
}

func TestStagingStoreStageFailsWhenSourceMissing(t *testing.T) {
	root := t.TempDir()
	store := filestore.NewStagingStore(root)

	_, err := store.Stage(context.Background(), uuid.New(), "missing.pkg", filepath.Join(root, "nonexistent"))
	require.Error(t, err)
	var storeErr *filestore.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, filestore.Copy, storeErr.Kind)
}
