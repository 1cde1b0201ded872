// Package download implements the C5 file downloader (spec.md §4.5),
// grounded on the teacher's network/downloader.go WriteCounter/go-humanize
// progress pattern and network/http_client.go's custom-client/explicit-
// status-check style, generalized from "download to a local path" into
// "download into a storage.Backend scoped to one sync job", with the
// extension allow-list, size cap, and 429-backoff rules spec.md §4.5 names.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"airweave.dev/syncengine/entity"
	syncerrors "airweave.dev/syncengine/errors"
	"airweave.dev/syncengine/ratelimit"
	"airweave.dev/syncengine/storage"
)

// maxFileSize is the spec.md §4.5 oversize cutoff.
const maxFileSize = 1 << 30 // 1 GiB

// DefaultAllowedExtensions lists the extensions the downloader accepts; a
// File entity outside this set is skipped rather than downloaded.
var DefaultAllowedExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".ppt": true, ".pptx": true,
	".xls": true, ".xlsx": true, ".csv": true, ".txt": true, ".md": true,
	".html": true, ".htm": true, ".json": true, ".xml": true, ".yaml": true,
	".yml": true, ".toml": true, ".png": true, ".jpg": true, ".jpeg": true,
}

// writeCounter tracks bytes streamed so far and reports progress in
// human-readable form, mirroring the teacher's WriteCounter.
type writeCounter struct {
	total    uint64
	onReport func(total uint64)
}

func (wc *writeCounter) Write(p []byte) (int, error) {
	n := len(p)
	wc.total += uint64(n)
	if wc.onReport != nil {
		wc.onReport(wc.total)
	}
	return n, nil
}

// AccessTokenProvider resolves the bearer token for a download request.
// token.Manager satisfies this by structural typing.
type AccessTokenProvider interface {
	AccessToken(ctx context.Context, connectionID, sourceShortName string) (string, error)
}

// Downloader fetches FileEntity payloads into a storage.Backend, scoped to
// a single sync job's temp area (spec.md §4.5).
type Downloader struct {
	backend    storage.Backend
	limiter    ratelimit.Limiter
	tokens     AccessTokenProvider
	allowedExt map[string]bool
	client     *http.Client
	maxRetries int
	syncJobID  string
}

// New builds a Downloader that writes its files under
// "processing/{syncJobID}/" inside backend.
func New(backend storage.Backend, limiter ratelimit.Limiter, tokens AccessTokenProvider, syncJobID string) *Downloader {
	return &Downloader{
		backend:    backend,
		limiter:    limiter,
		tokens:     tokens,
		allowedExt: DefaultAllowedExtensions,
		client:     &http.Client{Timeout: 5 * time.Minute},
		maxRetries: 10,
		syncJobID:  syncJobID,
	}
}

func (d *Downloader) jobPath(filename string) string {
	return fmt.Sprintf("processing/%s/%s", d.syncJobID, filename)
}

// DownloadFromURL fetches e.File.URL into the backend and sets
// e.File.LocalPath to the stored path. Pre-signed URLs (detected by
// X-Amz-Algorithm, spec.md §4.5) are requested without a bearer header
// since the signature already authorizes the request.
func (d *Downloader) DownloadFromURL(ctx context.Context, e *entity.Entity, connectionID, sourceShortName string) error {
	if e.File == nil {
		return fmt.Errorf("download: entity %s has no file payload", e.EntityID)
	}

	ext := strings.ToLower(path.Ext(e.File.URL))
	if !d.allowedExt[ext] {
		return &syncerrors.EntityProcessingError{
			EntityID: e.EntityID,
			Stage:    "download",
			Err:      fmt.Errorf("extension %q not in allow-list", ext),
		}
	}

	presigned := strings.Contains(e.File.URL, "X-Amz-Algorithm")
	var bearer string
	if !presigned {
		token, err := d.tokens.AccessToken(ctx, connectionID, sourceShortName)
		if err != nil {
			return err
		}
		bearer = token
	}

	if size, ok, err := d.probeSize(ctx, e.File.URL, bearer); err != nil {
		return err
	} else if ok && size > maxFileSize {
		return &syncerrors.EntityProcessingError{
			EntityID: e.EntityID,
			Stage:    "download",
			Err:      fmt.Errorf("file size %s exceeds %s limit", humanize.Bytes(uint64(size)), humanize.Bytes(maxFileSize)),
		}
	}

	destPath := d.jobPath(e.EntityID + ext)
	if err := d.streamWithRetry(ctx, e.File.URL, bearer, destPath); err != nil {
		_ = d.backend.Delete(ctx, destPath)
		return err
	}

	e.File.LocalPath = destPath
	return nil
}

// probeSize issues a HEAD request and reads Content-Length, tolerating
// servers that reject HEAD (spec.md §4.5 step 2).
func (d *Downloader) probeSize(ctx context.Context, url, bearer string) (int64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false, fmt.Errorf("download: build HEAD request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, false, nil // server unreachable for HEAD: tolerate, fall through to GET
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.ContentLength <= 0 {
		return 0, false, nil
	}
	return resp.ContentLength, true, nil
}

func (d *Downloader) streamWithRetry(ctx context.Context, url, bearer, destPath string) error {
	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		retry, err := d.stream(ctx, url, bearer, destPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}
	return fmt.Errorf("download: exhausted %d retries: %w", d.maxRetries, lastErr)
}

// stream performs one GET attempt. The bool return reports whether the
// failure is retryable (429 only, per spec.md §4.5 step 3).
func (d *Downloader) stream(ctx context.Context, url, bearer, destPath string) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("download: build GET request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("download: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return true, fmt.Errorf("download: rate limited by server")
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("download: unexpected status %s", resp.Status)
	}

	counter := &writeCounter{}
	body := io.TeeReader(resp.Body, counter)
	if err := d.backend.Put(ctx, destPath, body, resp.ContentLength); err != nil {
		return false, fmt.Errorf("download: write %s: %w", destPath, err)
	}
	return false, nil
}

// SaveBytes implements spec.md §4.5's save_bytes: an explicit-extension API
// for content the driver already has in memory (no network fetch), used by
// sources that embed file bytes directly in their list response.
func (d *Downloader) SaveBytes(ctx context.Context, e *entity.Entity, content []byte, filenameWithExtension string) error {
	ext := strings.ToLower(path.Ext(filenameWithExtension))
	if ext == "" || !d.allowedExt[ext] {
		return &syncerrors.EntityProcessingError{
			EntityID: e.EntityID,
			Stage:    "download",
			Err:      fmt.Errorf("missing or unsupported extension in %q", filenameWithExtension),
		}
	}
	if len(content) > maxFileSize {
		return &syncerrors.EntityProcessingError{
			EntityID: e.EntityID,
			Stage:    "download",
			Err:      fmt.Errorf("content size %s exceeds %s limit", humanize.Bytes(uint64(len(content))), humanize.Bytes(maxFileSize)),
		}
	}

	destPath := d.jobPath(filenameWithExtension)
	if err := d.backend.Put(ctx, destPath, strings.NewReader(string(content)), int64(len(content))); err != nil {
		return fmt.Errorf("download: save bytes %s: %w", destPath, err)
	}
	if e.File == nil {
		e.File = &entity.FileFields{}
	}
	e.File.LocalPath = destPath
	e.File.Size = int64(len(content))
	return nil
}

// CleanupSyncDirectory deletes exactly the given backend paths, attempting
// every one and returning the first error (spec.md §4.5). It does not
// enumerate or delete anything under a prefix: the storage backends here
// expose only get/put/delete by exact key, so a path that names a
// directory removes nothing beneath it.
func (d *Downloader) CleanupSyncDirectory(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		if err := d.backend.Delete(ctx, p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
