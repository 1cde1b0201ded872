package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "airweave.dev/syncengine/errors"
)

func TestFilesystemBackend_PutGetRoundtrip(t *testing.T) {
	b, err := NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	content := "hello raw data"
	require.NoError(t, b.Put(ctx, "jobs/job1/files/entity1", strings.NewReader(content), int64(len(content))))

	r, err := b.Get(ctx, "jobs/job1/files/entity1")
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, len(content))
	_, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, content, string(buf))

	size, err := b.Size(ctx, "jobs/job1/files/entity1")
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)
}

func TestFilesystemBackend_GetMissingReturnsStorageNotFound(t *testing.T) {
	b, err := NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)

	_, err = b.Get(context.Background(), "does/not/exist")
	require.Error(t, err)

	var notFound *syncerrors.StorageNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestFilesystemBackend_ExistsAndDelete(t *testing.T) {
	b, err := NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := b.Exists(ctx, "a/b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Put(ctx, "a/b", strings.NewReader("x"), 1))
	ok, err = b.Exists(ctx, "a/b")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Delete(ctx, "a/b"))
	ok, err = b.Exists(ctx, "a/b")
	require.NoError(t, err)
	assert.False(t, ok)

	// deleting an absent path is not an error
	require.NoError(t, b.Delete(ctx, "a/b"))
}
