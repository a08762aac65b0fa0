package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FilesystemBlobStore is a content-addressed blob tier rooted at a
// directory, writing via tmpfile-then-rename so partial writes are never
// visible (spec §4.1 guarantee). Handles have the form
// "{kind}/{yyyy}/{mm}/{dd}/{hash}", mirroring the teacher's local volume
// driver's explicit path construction (pkg/volume/local.go in the
// teacher) rather than a third-party object-storage SDK — see DESIGN.md.
type FilesystemBlobStore struct {
	root string
}

// NewFilesystemBlobStore creates the root directory if needed and returns
// a store rooted there.
func NewFilesystemBlobStore(root string) (*FilesystemBlobStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("storage: create blob root %s: %w", root, err)
	}
	return &FilesystemBlobStore{root: root}, nil
}

func (s *FilesystemBlobStore) handlePath(handle string) string {
	return filepath.Join(s.root, filepath.FromSlash(handle))
}

// PutBlob streams r to a temp file under the kind's date-sharded
// directory, hashing as it writes, then atomically renames into place
// keyed by the resulting content hash.
func (s *FilesystemBlobStore) PutBlob(ctx context.Context, kind BlobKind, r io.Reader) (string, int64, string, error) {
	now := time.Now().UTC()
	dir := filepath.Join(s.root, string(kind), now.Format("2006"), now.Format("01"), now.Format("02"))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", 0, "", fmt.Errorf("storage: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", 0, "", fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		return "", 0, "", fmt.Errorf("storage: write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", 0, "", fmt.Errorf("storage: sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, "", fmt.Errorf("storage: close blob: %w", err)
	}

	hash := hex.EncodeToString(h.Sum(nil))
	finalPath := filepath.Join(dir, hash)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", 0, "", fmt.Errorf("storage: rename blob into place: %w", err)
	}

	handle := strings.Join([]string{string(kind), now.Format("2006"), now.Format("01"), now.Format("02"), hash}, "/")
	return handle, size, hash, nil
}

// GetBlob opens the blob at handle for reading.
func (s *FilesystemBlobStore) GetBlob(ctx context.Context, handle string) (io.ReadCloser, error) {
	f, err := os.Open(s.handlePath(handle))
	if err != nil {
		return nil, fmt.Errorf("storage: open blob %s: %w", handle, err)
	}
	return f, nil
}

// DeleteBlob unlinks the blob at handle. Deleting an already-absent blob
// is not an error — callers may race GC.
func (s *FilesystemBlobStore) DeleteBlob(ctx context.Context, handle string) error {
	err := os.Remove(s.handlePath(handle))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: delete blob %s: %w", handle, err)
	}
	return nil
}

// StatBlob returns the size in bytes of the blob at handle.
func (s *FilesystemBlobStore) StatBlob(ctx context.Context, handle string) (int64, error) {
	fi, err := os.Stat(s.handlePath(handle))
	if err != nil {
		return 0, fmt.Errorf("storage: stat blob %s: %w", handle, err)
	}
	return fi.Size(), nil
}

// GC walks each kind's tree and removes blobs older than that kind's TTL,
// judged by file modification time. It is idempotent: a blob already
// removed by a concurrent GC pass is simply skipped.
func (s *FilesystemBlobStore) GC(ctx context.Context, uploadTTL, resultTTL time.Duration) (int, error) {
	removed := 0
	ttlFor := map[BlobKind]time.Duration{
		BlobKindUpload: uploadTTL,
		BlobKindResult: resultTTL,
	}
	now := time.Now()

	for kind, ttl := range ttlFor {
		root := filepath.Join(s.root, string(kind))
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if info.IsDir() {
				return nil
			}
			if strings.HasPrefix(info.Name(), ".tmp-") {
				return nil
			}
			if now.Sub(info.ModTime()) > ttl {
				if rmErr := os.Remove(path); rmErr == nil {
					removed++
				}
			}
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("storage: gc walk %s: %w", root, err)
		}
	}
	return removed, nil
}

// Touch extends a blob's effective TTL by updating its modification time,
// which GC judges age by. It is not part of the BlobStore interface and no
// read path calls it, so reading a result blob does not extend its TTL.
func (s *FilesystemBlobStore) Touch(handle string) error {
	now := time.Now()
	return os.Chtimes(s.handlePath(handle), now, now)
}

// parseShardedDate is a small helper used by tests to assert handle shape.
func parseShardedDate(handle string) (kind, yyyy, mm, dd, hash string, ok bool) {
	parts := strings.Split(handle, "/")
	if len(parts) != 5 {
		return "", "", "", "", "", false
	}
	if _, err := strconv.Atoi(parts[1]); err != nil {
		return "", "", "", "", "", false
	}
	return parts[0], parts[1], parts[2], parts[3], parts[4], true
}
