package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dl-alexandre/ocsync/internal/api"
	"github.com/dl-alexandre/ocsync/internal/sync/exclude"
	"github.com/dl-alexandre/ocsync/internal/sync/index"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanLocal(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/sync/docs/drafts", 0o755))
	require.NoError(t, fs.MkdirAll("/sync/build", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/sync/a.txt", []byte("hello"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/sync/docs/b.txt", []byte("world"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/sync/build/out.bin", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/sync/.ocsync.lock", []byte("1"), 0o600))

	entries, err := ScanLocal(context.Background(), fs, "/sync", exclude.New([]string{"build/"}), nil)
	require.NoError(t, err)

	assert.Len(t, entries, 6)
	assert.True(t, entries["docs"].IsDir)
	assert.True(t, entries["docs/drafts"].IsDir)
	assert.Equal(t, int64(5), entries["a.txt"].Size)
	assert.Equal(t, HashBytes([]byte("hello")), entries["a.txt"].Hash)
	assert.Equal(t, "/sync/docs/b.txt", entries["docs/b.txt"].AbsPath)

	assert.True(t, entries["build"].Excluded)
	assert.True(t, entries[".ocsync.lock"].Excluded)
	_, descended := entries["build/out.bin"]
	assert.False(t, descended)
}

func TestScanLocalReusesJournalHash(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/sync/a.txt", []byte("hello"), 0o644))
	info, err := fs.Stat("/sync/a.txt")
	require.NoError(t, err)

	prev := map[string]index.SyncEntry{
		"a.txt": {RelativePath: "a.txt", LocalSize: 5, LocalMTime: info.ModTime().Unix(), ContentHash: "cached"},
	}
	entries, err := ScanLocal(context.Background(), fs, "/sync", nil, prev)
	require.NoError(t, err)
	assert.Equal(t, "cached", entries["a.txt"].Hash)
}

func TestScanLocalMissingRoot(t *testing.T) {
	_, err := ScanLocal(context.Background(), afero.NewMemMapFs(), "/nope", nil, nil)
	assert.Error(t, err)
}

func TestScanLocalCancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/sync/a.txt", []byte("x"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ScanLocal(ctx, fs, "/sync", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeLister map[string][]api.Resource

func (f fakeLister) Propfind(_ context.Context, dir string) ([]api.Resource, error) {
	res, ok := f[dir]
	if !ok {
		return nil, errors.New("not found: " + dir)
	}
	return res, nil
}

func TestRemoteScannerListTree(t *testing.T) {
	mod := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	lister := fakeLister{
		"Photos": {
			{Path: "Photos", IsDir: true},
			{Path: "Photos/2024", IsDir: true},
			{Path: "Photos/cover.jpg", Size: 10, ModTime: mod, ETag: "e1"},
			{Path: "Photos/Thumbs.db", Size: 1},
		},
		"Photos/2024": {
			{Path: "Photos/2024", IsDir: true},
			{Path: "Photos/2024/beach.jpg", Size: 20, ETag: "e2"},
		},
	}

	entries, err := NewRemoteScanner(lister, exclude.New(nil)).ListTree(context.Background(), "/Photos/")
	require.NoError(t, err)

	require.Len(t, entries, 3)
	assert.True(t, entries["2024"].IsDir)
	assert.Equal(t, RemoteEntry{RelativePath: "cover.jpg", Size: 10, ModifiedTime: mod.Unix(), ETag: "e1"}, entries["cover.jpg"])
	assert.Equal(t, "e2", entries["2024/beach.jpg"].ETag)
}

func TestRemoteScannerPropagatesErrors(t *testing.T) {
	_, err := NewRemoteScanner(fakeLister{}, nil).ListTree(context.Background(), "")
	assert.Error(t, err)
}

func TestRelativeTo(t *testing.T) {
	assert.Equal(t, "a/b", relativeTo("", "/a/b/"))
	assert.Equal(t, "", relativeTo("root", "root"))
	assert.Equal(t, "x", relativeTo("root", "root/x"))
}
