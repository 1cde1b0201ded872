package jira

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airweave.dev/syncengine/entity"
)

type fakeTokens struct{}

func (fakeTokens) AccessToken(ctx context.Context, connectionID, sourceShortName string) (string, error) {
	return "fake-token", nil
}

type fakeConfigs struct {
	cfg map[string]any
}

func (f fakeConfigs) Get(ctx context.Context, connectionID string) (map[string]any, error) {
	return f.cfg, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *Driver) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token/accessible-resources", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fake-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([]accessibleResource{{ID: "cloud-123", URL: "https://test.atlassian.net"}})
	})
	mux.HandleFunc("/cloud-123/rest/api/3/search", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(searchResponse{
			Issues: []issue{
				{ID: "1", Key: "PROJ-1", Fields: struct {
					Summary string `json:"summary"`
					Updated string `json:"updated"`
					Created string `json:"created"`
				}{Summary: "first issue", Updated: "2026-07-01T00:00:00.000+0000", Created: "2026-06-01T00:00:00.000+0000"}},
			},
			StartAt: 0, MaxResults: 100, Total: 1,
		})
	})

	server := httptest.NewServer(mux)
	d := New(fakeTokens{}, fakeConfigs{cfg: map[string]any{"project_key": "PROJ"}})
	d.accessibleResourcesURL = server.URL + "/oauth/token/accessible-resources"
	d.apiBaseURL = server.URL
	return server, d
}

func TestDriver_Validate(t *testing.T) {
	server, d := newTestServer(t)
	defer server.Close()

	err := d.Validate(context.Background(), "conn-1")
	require.NoError(t, err)
}

func TestDriver_List_ReturnsIssuesAndCursor(t *testing.T) {
	server, d := newTestServer(t)
	defer server.Close()

	page, err := d.List(context.Background(), "conn-1", entity.Cursor{})
	require.NoError(t, err)
	require.Len(t, page.Entities, 1)
	assert.Equal(t, "PROJ-1", page.Entities[0].EntityID)
	assert.Equal(t, "first issue", page.Entities[0].Name)
	assert.False(t, page.NextCursor.IsZero())

	var c cursor
	require.NoError(t, page.NextCursor.Decode(&c))
	assert.Equal(t, "2026-07-01T00:00:00.000+0000", c.UpdatedSince)
}

func TestDriver_ResolveCloudID_Caches(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token/accessible-resources", func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode([]accessibleResource{{ID: "cloud-123"}})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	d := New(fakeTokens{}, fakeConfigs{cfg: map[string]any{"project_key": "PROJ"}})
	d.accessibleResourcesURL = server.URL + "/oauth/token/accessible-resources"

	id1, err := d.resolveCloudID(context.Background(), "conn-1", "tok")
	require.NoError(t, err)
	id2, err := d.resolveCloudID(context.Background(), "conn-1", "tok")
	require.NoError(t, err)

	assert.Equal(t, "cloud-123", id1)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, calls, "cloud id should be resolved once and cached")
}
