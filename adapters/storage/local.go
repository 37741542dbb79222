// Package storage provides StorageAdapter implementations for stored
// avatar artifacts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/Skryldev/grsync/core"
	apperrors "github.com/Skryldev/grsync/errors"
)

// Local stores artifacts in a billy filesystem, normally the host
// filesystem rooted at the resource directory.  Writes go to a temporary
// file first and are renamed into place, so a reader never observes a
// partial artifact.
type Local struct {
	fs          billy.Filesystem
	permissions os.FileMode
}

// NewLocal creates a Local storage adapter rooted at dir.
func NewLocal(dir string, perm os.FileMode) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.New(apperrors.CategoryStorage, "local.new", fmt.Errorf("mkdir %s: %w", dir, err))
	}
	return NewFilesystem(osfs.New(dir), perm), nil
}

// NewFilesystem wraps an existing billy filesystem (memfs in tests).
func NewFilesystem(fs billy.Filesystem, perm os.FileMode) *Local {
	if perm == 0 {
		perm = 0o644
	}
	return &Local{fs: fs, permissions: perm}
}

// relPath maps a key to a path inside the root.  Bucket maps to a
// subdirectory; Path is the file name.
func (l *Local) relPath(key core.StorageKey) (string, error) {
	p := path.Clean("/" + path.Join(key.Bucket, key.Path))
	if p == "/" || strings.Contains(key.Path, "..") {
		return "", fmt.Errorf("invalid storage key %q", path.Join(key.Bucket, key.Path))
	}
	return strings.TrimPrefix(p, "/"), nil
}

// Put writes r under key.  meta is not persisted on local storage.
func (l *Local) Put(ctx context.Context, key core.StorageKey, r io.Reader, _ map[string]string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put", err)
	}
	p, err := l.relPath(key)
	if err != nil {
		return apperrors.New(apperrors.CategoryStorage, "local.put", err)
	}

	dir := path.Dir(p)
	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.mkdir", err)
	}

	tmp, err := l.fs.TempFile(dir, ".put-")
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.temp", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = l.fs.Remove(tmpName) }

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		cleanup()
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.copy", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.close", err)
	}
	if err := l.fs.Rename(tmpName, p); err != nil {
		cleanup()
		return apperrors.Wrap(apperrors.CategoryStorage, "local.put.rename", err)
	}
	if ch, ok := l.fs.(billy.Change); ok {
		_ = ch.Chmod(p, l.permissions)
	}
	return nil
}

func (l *Local) Get(ctx context.Context, key core.StorageKey) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.get", err)
	}
	p, err := l.relPath(key)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryStorage, "local.get", err)
	}
	f, err := l.fs.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.New(apperrors.CategoryStorage, "local.get", fmt.Errorf("%w: %s", apperrors.ErrNotFound, p))
		}
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "local.get.open", err)
	}
	return f, nil
}

func (l *Local) Delete(ctx context.Context, key core.StorageKey) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.delete", err)
	}
	p, err := l.relPath(key)
	if err != nil {
		return apperrors.New(apperrors.CategoryStorage, "local.delete", err)
	}
	if err := l.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Wrap(apperrors.CategoryStorage, "local.delete", err)
	}
	return nil
}

func (l *Local) Exists(ctx context.Context, key core.StorageKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "local.exists", err)
	}
	p, err := l.relPath(key)
	if err != nil {
		return false, apperrors.New(apperrors.CategoryStorage, "local.exists", err)
	}
	_, err = l.fs.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, apperrors.Wrap(apperrors.CategoryStorage, "local.exists.stat", err)
}

var _ core.StorageAdapter = (*Local)(nil)
