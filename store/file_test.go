package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFileStore_ListCollectsReadErrors verifies a corrupted document does not
// hide the others
func TestFileStore_ListCollectsReadErrors(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	seed(t, fs)

	bad := filepath.Join(dir, "articles", "corrupt.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "articles", "notes.txt"), []byte("x"), 0o600))

	result, err := fs.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Records, 4)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "corrupt.json", result.Errors[0].Filename)

	n, err := fs.CountAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

// TestFileStore_OneFilePerURL verifies files are keyed by URL and leave no
// temporary files behind
func TestFileStore_OneFilePerURL(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	r := sampleRecords()[0]
	for i := 0; i < 3; i++ {
		_, err := fs.Upsert(context.Background(), r)
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "articles"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(fs.articlePath(r.URL)), entries[0].Name())
}

func TestFileStore_UpsertHonorsCancelledContext(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = fs.Upsert(ctx, sampleRecords()[0])
	assert.ErrorIs(t, err, context.Canceled)

	ok, err := fs.Exists(context.Background(), sampleRecords()[0].URL)
	require.NoError(t, err)
	assert.False(t, ok)
}
