package storagetest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/bin2nlp/bin2nlp/pkg/storage"
)

// ErrBlobNotFound is returned by GetBlob/StatBlob for an unknown handle.
var ErrBlobNotFound = errors.New("storagetest: blob not found")

// FakeBlobStore is an in-memory storage.BlobStore double, content-addressed
// the same way storage.FilesystemBlobStore is, so jobengine tests can drive
// Submit/execute without touching the filesystem.
type FakeBlobStore struct {
	mu      sync.Mutex
	Objects map[string][]byte
}

// NewBlobStore returns an empty FakeBlobStore.
func NewBlobStore() *FakeBlobStore {
	return &FakeBlobStore{Objects: make(map[string][]byte)}
}

func (b *FakeBlobStore) PutBlob(ctx context.Context, kind storage.BlobKind, r io.Reader) (string, int64, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, "", err
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	handle := string(kind) + "/" + hash

	b.mu.Lock()
	defer b.mu.Unlock()
	b.Objects[handle] = data
	return handle, int64(len(data)), hash, nil
}

func (b *FakeBlobStore) GetBlob(ctx context.Context, handle string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.Objects[handle]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *FakeBlobStore) DeleteBlob(ctx context.Context, handle string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.Objects, handle)
	return nil
}

func (b *FakeBlobStore) StatBlob(ctx context.Context, handle string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.Objects[handle]
	if !ok {
		return 0, ErrBlobNotFound
	}
	return int64(len(data)), nil
}

func (b *FakeBlobStore) GC(ctx context.Context, uploadTTL, resultTTL time.Duration) (int, error) {
	return 0, nil
}
