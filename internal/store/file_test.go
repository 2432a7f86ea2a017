package store_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klauern/usersync/internal/model"
	"github.com/klauern/usersync/internal/store"
	"github.com/klauern/usersync/internal/store/storetest"
)

func TestFileStoreConformanceMemory(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T) store.Store {
		return store.NewMemory()
	})
}

func TestFileStoreConformanceDisk(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T) store.Store {
		s, err := store.OpenDir(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestOpenDirRequiresPath(t *testing.T) {
	_, err := store.OpenDir("")
	assert.Error(t, err)
}

func TestOpenDirCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")

	s, err := store.OpenDir(dir)
	require.NoError(t, err)
	require.NoError(t, s.WriteAll(context.Background(), storetest.Records(1, 1)))

	_, err = os.Stat(filepath.Join(dir, store.DefaultFileName))
	assert.NoError(t, err)
}

func TestFileStoreDocumentLayout(t *testing.T) {
	fsys := memfs.New()
	saved := time.Date(2025, time.August, 26, 10, 0, 0, 0, time.UTC)
	s := store.NewFileStore(fsys, store.WithClock(func() time.Time { return saved }))

	require.NoError(t, s.WriteAll(context.Background(), storetest.Records(7, 1)))

	data, err := util.ReadFile(fsys, store.DefaultFileName)
	require.NoError(t, err)

	var doc struct {
		Version     string `json:"version"`
		Collections map[string]struct {
			Items   []map[string]any `json:"items"`
			SavedAt time.Time        `json:"saved_at"`
		} `json:"collections"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "1.0", doc.Version)
	users, ok := doc.Collections[store.DefaultKey]
	require.True(t, ok, "collection stored under %q", store.DefaultKey)
	require.Len(t, users.Items, 1)
	assert.EqualValues(t, 7, users.Items[0]["user_id"])
	assert.Equal(t, "San Pablo, CA", users.Items[0]["loc"])
	assert.True(t, users.SavedAt.Equal(saved))
}

func TestFileStoreKeysAreIndependent(t *testing.T) {
	fsys := memfs.New()
	ctx := context.Background()
	users := store.NewFileStore(fsys)
	archived := store.NewFileStore(fsys, store.WithKey("archived"))

	require.NoError(t, users.WriteAll(ctx, storetest.Records(1, 2)))
	require.NoError(t, archived.WriteAll(ctx, storetest.Records(10, 1)))
	require.NoError(t, users.WriteAll(ctx, storetest.Records(3, 1)))

	got, err := archived.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{10}, model.RecordIDs(got))

	require.NoError(t, users.Clear(ctx))
	got, err = archived.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{10}, model.RecordIDs(got))
}

func TestFileStoreCorruptDocument(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, store.DefaultFileName, []byte("{not json"), 0o600))
	s := store.NewFileStore(fsys)
	ctx := context.Background()

	_, err := s.ReadAll(ctx)
	assert.ErrorIs(t, err, store.ErrLoad)

	require.NoError(t, s.WriteAll(ctx, storetest.Records(1, 1)))
	got, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, model.RecordIDs(got))
}

func TestFileStoreVersionMismatch(t *testing.T) {
	fsys := memfs.New()
	doc := `{"version":"0.1","collections":{"users":{"items":[{"user_id":1}]}}}`
	require.NoError(t, util.WriteFile(fsys, store.DefaultFileName, []byte(doc), 0o600))

	_, err := store.NewFileStore(fsys).ReadAll(context.Background())
	assert.ErrorIs(t, err, store.ErrLoad)
}

func TestFileStoreClearCorruptDocument(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, store.DefaultFileName, []byte("garbage"), 0o600))

	require.NoError(t, store.NewFileStore(fsys).Clear(context.Background()))

	_, err := fsys.Stat(store.DefaultFileName)
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := store.OpenDir(dir)
	require.NoError(t, err)
	for i := range 5 {
		require.NoError(t, s.WriteAll(context.Background(), storetest.Records(i, 2)))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.DefaultFileName, entries[0].Name())
}

func TestFileStorePath(t *testing.T) {
	dir := t.TempDir()
	s, err := store.OpenDir(dir, store.WithFileName("cache.json"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cache.json"), s.Path())
	assert.Equal(t, store.DefaultKey, s.Key())
}
