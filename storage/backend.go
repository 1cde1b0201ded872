// Package storage implements the C1 storage backend from SPEC_FULL.md: a
// single Backend interface with filesystem, Azure Blob, and S3 implementations,
// used for the per-job temp processing directory (spec §4.5/§4.6) and for
// mirroring binary payloads into the raw-data replay archive (§4.11).
package storage

import (
	"context"
	"io"

	syncerrors "airweave.dev/syncengine/errors"
)

// Backend is the storage abstraction every component in the pipeline depends
// on instead of a concrete cloud SDK. Paths are backend-relative keys
// ("{sync_job_id}/files/{entity_id}"); callers never see bucket names or
// local mount points.
type Backend interface {
	// Put writes the full content of r to path, replacing any existing object.
	Put(ctx context.Context, path string, r io.Reader, size int64) error

	// Get opens path for streaming read. The caller must Close the returned
	// reader. Returns *syncerrors.StorageNotFound if path does not exist.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes path. Deleting a path that does not exist is not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether path is present, without opening it.
	Exists(ctx context.Context, path string) (bool, error)

	// Size returns the stored object's size in bytes.
	Size(ctx context.Context, path string) (int64, error)
}

func notFound(path string) error {
	return &syncerrors.StorageNotFound{Path: path}
}

func opErr(op, path string, err error) error {
	return &syncerrors.StorageError{Op: op, Path: path, Err: err}
}
