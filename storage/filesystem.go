package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
)

// FilesystemBackend stores objects as plain files under BasePath. This is the
// default backend for local development and for the per-job temp directory,
// which is always local disk regardless of which backend holds the durable
// raw-data archive (spec §4.5).
type FilesystemBackend struct {
	BasePath string
}

// NewFilesystemBackend creates a FilesystemBackend rooted at basePath,
// creating the directory if it does not already exist.
func NewFilesystemBackend(basePath string) (*FilesystemBackend, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, opErr("mkdir", basePath, err)
	}
	return &FilesystemBackend{BasePath: basePath}, nil
}

func (b *FilesystemBackend) resolve(path string) string {
	return filepath.Join(b.BasePath, filepath.FromSlash(path))
}

func (b *FilesystemBackend) Put(ctx context.Context, path string, r io.Reader, size int64) error {
	full := b.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return opErr("put", path, err)
	}
	f, err := os.Create(full)
	if err != nil {
		return opErr("put", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return opErr("put", path, err)
	}
	return nil
}

func (b *FilesystemBackend) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(b.resolve(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, notFound(path)
		}
		return nil, opErr("get", path, err)
	}
	return f, nil
}

func (b *FilesystemBackend) Delete(ctx context.Context, path string) error {
	err := os.Remove(b.resolve(path))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return opErr("delete", path, err)
	}
	return nil
}

func (b *FilesystemBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(b.resolve(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, opErr("stat", path, err)
}

func (b *FilesystemBackend) Size(ctx context.Context, path string) (int64, error) {
	info, err := os.Stat(b.resolve(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, notFound(path)
		}
		return 0, opErr("stat", path, err)
	}
	return info.Size(), nil
}

var _ Backend = (*FilesystemBackend)(nil)
