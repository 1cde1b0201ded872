package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "airweave.dev/syncengine/errors"
)

func TestS3Backend_PutGetRoundtrip(t *testing.T) {
	mock := NewMockS3Client()
	b := &S3Backend{Client: mock, Bucket: "raw-data"}
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "job1/entity1", strings.NewReader("payload"), 7))
	assert.True(t, mock.PutObjectCalled)
	assert.Equal(t, "raw-data", mock.LastBucket)

	r, err := b.Get(ctx, "job1/entity1")
	require.NoError(t, err)
	defer r.Close()
}

func TestS3Backend_GetMissingReturnsStorageNotFound(t *testing.T) {
	mock := NewMockS3Client()
	b := &S3Backend{Client: mock, Bucket: "raw-data"}

	_, err := b.Get(context.Background(), "missing")
	require.Error(t, err)

	var notFound *syncerrors.StorageNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestS3Backend_ExistsAndSize(t *testing.T) {
	mock := NewMockS3Client()
	b := &S3Backend{Client: mock, Bucket: "raw-data"}
	ctx := context.Background()

	ok, err := b.Exists(ctx, "job1/entity1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Put(ctx, "job1/entity1", strings.NewReader("12345"), 5))

	ok, err = b.Exists(ctx, "job1/entity1")
	require.NoError(t, err)
	assert.True(t, ok)

	size, err := b.Size(ctx, "job1/entity1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}
