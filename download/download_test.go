package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airweave.dev/syncengine/entity"
	"airweave.dev/syncengine/storage"
)

type noopLimiter struct{}

func (noopLimiter) Wait(ctx context.Context) error { return nil }
func (noopLimiter) Allow(ctx context.Context) (bool, time.Duration, error) {
	return true, 0, nil
}

type fakeTokens struct{}

func (fakeTokens) AccessToken(ctx context.Context, connectionID, sourceShortName string) (string, error) {
	return "tok", nil
}

func TestDownloader_DownloadFromURL_Succeeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "5")
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = w.Write([]byte("hello"))
	}))
	defer server.Close()

	backend, err := storage.NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)
	d := New(backend, noopLimiter{}, fakeTokens{}, "job-1")

	e := &entity.Entity{
		EntityID: "file-1",
		File:     &entity.FileFields{URL: server.URL + "/doc.txt"},
	}
	err = d.DownloadFromURL(context.Background(), e, "conn-1", "jira")
	require.NoError(t, err)
	assert.NotEmpty(t, e.File.LocalPath)

	rc, err := backend.Get(context.Background(), e.File.LocalPath)
	require.NoError(t, err)
	defer rc.Close()
}

func TestDownloader_DownloadFromURL_RejectsDisallowedExtension(t *testing.T) {
	backend, err := storage.NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)
	d := New(backend, noopLimiter{}, fakeTokens{}, "job-1")

	e := &entity.Entity{
		EntityID: "file-1",
		File:     &entity.FileFields{URL: "https://example.com/archive.exe"},
	}
	err = d.DownloadFromURL(context.Background(), e, "conn-1", "jira")
	assert.Error(t, err)
}

func TestDownloader_DownloadFromURL_RejectsOversize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "2147483648") // 2 GiB
			w.WriteHeader(http.StatusOK)
			return
		}
	}))
	defer server.Close()

	backend, err := storage.NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)
	d := New(backend, noopLimiter{}, fakeTokens{}, "job-1")

	e := &entity.Entity{
		EntityID: "file-1",
		File:     &entity.FileFields{URL: server.URL + "/huge.pdf"},
	}
	err = d.DownloadFromURL(context.Background(), e, "conn-1", "jira")
	assert.Error(t, err)
}

func TestDownloader_SaveBytes_RequiresExtension(t *testing.T) {
	backend, err := storage.NewFilesystemBackend(t.TempDir())
	require.NoError(t, err)
	d := New(backend, noopLimiter{}, fakeTokens{}, "job-1")

	e := &entity.Entity{EntityID: "file-1"}
	err = d.SaveBytes(context.Background(), e, []byte("hi"), "noext")
	assert.Error(t, err)

	err = d.SaveBytes(context.Background(), e, []byte("hi"), "note.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.File.Size)
}
