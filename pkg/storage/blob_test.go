package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlobStore(t *testing.T) *FilesystemBlobStore {
	t.Helper()
	s, err := NewFilesystemBlobStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFilesystemBlobStore_PutAndGet(t *testing.T) {
	s := newTestBlobStore(t)
	ctx := context.Background()
	content := []byte("mz-header-and-some-bytes")

	handle, size, sha, err := s.PutBlob(ctx, BlobKindUpload, bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)
	assert.NotEmpty(t, sha)

	kind, yyyy, _, _, hash, ok := parseShardedDate(handle)
	require.True(t, ok, "handle %q must be kind/yyyy/mm/dd/hash shaped", handle)
	assert.Equal(t, string(BlobKindUpload), kind)
	assert.Equal(t, hash, sha)
	assert.Equal(t, time.Now().UTC().Format("2006"), yyyy)

	rc, err := s.GetBlob(ctx, handle)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestFilesystemBlobStore_ContentAddressedDedup(t *testing.T) {
	s := newTestBlobStore(t)
	ctx := context.Background()
	content := []byte("identical content")

	h1, _, sha1, err := s.PutBlob(ctx, BlobKindResult, bytes.NewReader(content))
	require.NoError(t, err)
	h2, _, sha2, err := s.PutBlob(ctx, BlobKindResult, bytes.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, sha1, sha2)
	assert.Equal(t, h1, h2, "identical content written on the same day must resolve to the same handle")
}

func TestFilesystemBlobStore_GetMissingBlob(t *testing.T) {
	s := newTestBlobStore(t)
	_, err := s.GetBlob(context.Background(), "upload/2024/01/01/deadbeef")
	assert.Error(t, err)
}

func TestFilesystemBlobStore_DeleteIsIdempotent(t *testing.T) {
	s := newTestBlobStore(t)
	ctx := context.Background()
	handle, _, _, err := s.PutBlob(ctx, BlobKindUpload, bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	require.NoError(t, s.DeleteBlob(ctx, handle))
	require.NoError(t, s.DeleteBlob(ctx, handle), "deleting an already-absent blob must not error")
}

func TestFilesystemBlobStore_StatBlob(t *testing.T) {
	s := newTestBlobStore(t)
	ctx := context.Background()
	content := []byte("twelve bytes")
	handle, _, _, err := s.PutBlob(ctx, BlobKindUpload, bytes.NewReader(content))
	require.NoError(t, err)

	size, err := s.StatBlob(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)
}

func TestFilesystemBlobStore_GCRemovesExpiredBlobsOnly(t *testing.T) {
	s := newTestBlobStore(t)
	ctx := context.Background()

	oldHandle, _, _, err := s.PutBlob(ctx, BlobKindUpload, bytes.NewReader([]byte("old")))
	require.NoError(t, err)
	freshHandle, _, _, err := s.PutBlob(ctx, BlobKindUpload, bytes.NewReader([]byte("fresh")))
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(s.handlePath(oldHandle), old, old))

	removed, err := s.GC(ctx, time.Hour, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.GetBlob(ctx, oldHandle)
	assert.Error(t, err, "expired blob must be gone")
	_, err = s.GetBlob(ctx, freshHandle)
	assert.NoError(t, err, "fresh blob must survive GC")
}

func TestFilesystemBlobStore_Touch(t *testing.T) {
	s := newTestBlobStore(t)
	ctx := context.Background()
	handle, _, _, err := s.PutBlob(ctx, BlobKindResult, bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(s.handlePath(handle), old, old))

	require.NoError(t, s.Touch(handle))

	removed, err := s.GC(ctx, time.Hour, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "touched blob must not look expired to GC")
}
