package token

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu    sync.Mutex
	creds map[string]Credential
}

func newFakeStore(cred Credential) *fakeStore {
	return &fakeStore{creds: map[string]Credential{cred.ConnectionID: cred}}
}

func (f *fakeStore) Get(ctx context.Context, connectionID string) (Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds[connectionID], nil
}

func (f *fakeStore) Save(ctx context.Context, cred Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[cred.ConnectionID] = cred
	return nil
}

type countingRefresher struct {
	calls int32
}

func (r *countingRefresher) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	atomic.AddInt32(&r.calls, 1)
	time.Sleep(10 * time.Millisecond) // simulate network round trip
	cred.AccessToken = "refreshed-" + cred.ConnectionID
	cred.ExpiresAt = time.Now().Add(time.Hour)
	return cred, nil
}

func TestManager_AccessToken_ReturnsUnexpiredTokenWithoutRefresh(t *testing.T) {
	store := newFakeStore(Credential{
		ConnectionID: "conn-1",
		Mode:         RefreshOAuth2,
		AccessToken:  "still-valid",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	refresher := &countingRefresher{}
	m := NewManager(store, map[string]Refresher{"jira": refresher})

	tok, err := m.AccessToken(context.Background(), "conn-1", "jira")
	require.NoError(t, err)
	assert.Equal(t, "still-valid", tok)
	assert.Equal(t, int32(0), refresher.calls)
}

func TestManager_AccessToken_RefreshesExpiredToken(t *testing.T) {
	store := newFakeStore(Credential{
		ConnectionID: "conn-1",
		Mode:         RefreshOAuth2,
		AccessToken:  "stale",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	refresher := &countingRefresher{}
	m := NewManager(store, map[string]Refresher{"jira": refresher})

	tok, err := m.AccessToken(context.Background(), "conn-1", "jira")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-conn-1", tok)
	assert.Equal(t, int32(1), refresher.calls)
}

func TestManager_AccessToken_CoalescesConcurrentRefreshes(t *testing.T) {
	store := newFakeStore(Credential{
		ConnectionID: "conn-1",
		Mode:         RefreshOAuth2,
		AccessToken:  "stale",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	refresher := &countingRefresher{}
	m := NewManager(store, map[string]Refresher{"jira": refresher})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.AccessToken(context.Background(), "conn-1", "jira")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), refresher.calls, "concurrent callers should coalesce into a single refresh")
}

func TestManager_AccessToken_UnknownSourceReturnsTokenRefreshError(t *testing.T) {
	store := newFakeStore(Credential{
		ConnectionID: "conn-1",
		Mode:         RefreshOAuth2,
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	m := NewManager(store, map[string]Refresher{})

	_, err := m.AccessToken(context.Background(), "conn-1", "unknown-source")
	require.Error(t, err)
}
