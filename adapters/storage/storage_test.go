package storage_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/grsync/adapters/storage"
	"github.com/Skryldev/grsync/core"
	apperrors "github.com/Skryldev/grsync/errors"
)

func readAll(t *testing.T, adapter core.StorageAdapter, key core.StorageKey) []byte {
	t.Helper()
	rc, err := adapter.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func exerciseAdapter(t *testing.T, adapter core.StorageAdapter) {
	ctx := context.Background()
	key := core.StorageKey{Path: "abc123.avif"}

	ok, err := adapter.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = adapter.Get(ctx, key)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, adapter.Put(ctx, key, bytes.NewReader([]byte("first")), nil))
	require.NoError(t, adapter.Put(ctx, key, bytes.NewReader([]byte("second")), nil))
	assert.Equal(t, []byte("second"), readAll(t, adapter, key))

	ok, err = adapter.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, adapter.Delete(ctx, key))
	require.NoError(t, adapter.Delete(ctx, key), "deleting a missing key is not an error")
	ok, err = adapter.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocal_Memfs(t *testing.T) {
	exerciseAdapter(t, storage.NewFilesystem(memfs.New(), 0))
}

func TestLocal_OS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "resources")
	adapter, err := storage.NewLocal(dir, 0o640)
	require.NoError(t, err)
	exerciseAdapter(t, adapter)

	require.NoError(t, adapter.Put(context.Background(), core.StorageKey{Path: "d.png"}, bytes.NewReader([]byte("x")), nil))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files left behind")
	assert.Equal(t, "d.png", entries[0].Name())
}

func TestLocal_RejectsTraversal(t *testing.T) {
	adapter := storage.NewFilesystem(memfs.New(), 0)
	err := adapter.Put(context.Background(), core.StorageKey{Path: "../escape.avif"}, bytes.NewReader(nil), nil)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryStorage))
	_, err = adapter.Get(context.Background(), core.StorageKey{})
	assert.Error(t, err)
}

func TestLocal_ConcurrentIdenticalWrites(t *testing.T) {
	adapter, err := storage.NewLocal(t.TempDir(), 0)
	require.NoError(t, err)
	key := core.StorageKey{Path: "same.avif"}
	payload := bytes.Repeat([]byte("avatar"), 1024)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, adapter.Put(context.Background(), key, bytes.NewReader(payload), nil))
		}()
	}
	wg.Wait()
	assert.Equal(t, payload, readAll(t, adapter, key))
}

// ── S3 ────────────────────────────────────────────────────────────────────────

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) PutObject(_ context.Context, bucket, key string, body io.Reader, _ int64, _ map[string]string) error {
	if f.failPut {
		return errors.New("connection reset")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.objects[bucket+"/"+key] = data
	f.mu.Unlock()
	return nil
}

func (f *fakeS3) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("%w: NoSuchKey", apperrors.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeS3) DeleteObject(_ context.Context, bucket, key string) error {
	f.mu.Lock()
	delete(f.objects, bucket+"/"+key)
	f.mu.Unlock()
	return nil
}

func (f *fakeS3) HeadObject(_ context.Context, bucket, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[bucket+"/"+key]
	return ok, nil
}

func TestS3(t *testing.T) {
	client := newFakeS3()
	adapter, err := storage.NewS3(client, "avatars", "v1")
	require.NoError(t, err)
	exerciseAdapter(t, adapter)

	require.NoError(t, adapter.Put(context.Background(), core.StorageKey{Path: "k.png"}, bytes.NewReader([]byte("x")), nil))
	_, ok := client.objects["avatars/v1/k.png"]
	assert.True(t, ok, "prefix applied to object key")
}

func TestS3_PutFailureIsRetryable(t *testing.T) {
	client := newFakeS3()
	client.failPut = true
	adapter, err := storage.NewS3(client, "avatars", "")
	require.NoError(t, err)
	err = adapter.Put(context.Background(), core.StorageKey{Path: "k"}, bytes.NewReader(nil), nil)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestNewS3_Validation(t *testing.T) {
	_, err := storage.NewS3(nil, "b", "")
	assert.Error(t, err)
	_, err = storage.NewS3(newFakeS3(), "", "")
	assert.Error(t, err)
}
