// Package jira implements the C4 Jira source driver. No Jira SDK is present
// anywhere in the example pack, so this is the one driver built directly on
// net/http rather than a vendor client — grounded on the teacher's
// network/http_client.go request/response handling style (custom
// http.Client, explicit status check, wrapped errors) — see DESIGN.md for
// why a hand-rolled client is the right call here instead of reaching for an
// unrelated REST SDK.
//
// It implements the Atlassian accessible-resources cloud-id exchange named
// in spec.md §4.4: the OAuth token is valid against api.atlassian.com, but
// every subsequent call must be scoped to the tenant's cloud id, discovered
// once per connection and cached on the Driver.
package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"airweave.dev/syncengine/entity"
	"airweave.dev/syncengine/source"
)

const (
	shortName                  = "jira"
	defaultAccessibleResources = "https://api.atlassian.com/oauth/token/accessible-resources"
	defaultAPIBase             = "https://api.atlassian.com/ex/jira"
)

// Config is the per-connection configuration resolved through
// source.ConfigStore.
type Config struct {
	ProjectKey string `mapstructure:"project_key"`
}

// cursor is Jira's own incremental-sync position: the JQL "updated >="
// boundary. List neither fills nor reads SeenAtCutoff, so issues whose
// updated time equals UpdatedSince are emitted again by the next List.
type cursor struct {
	UpdatedSince string   `json:"updated_since"`
	SeenAtCutoff []string `json:"seen_at_cutoff"`
}

// Driver lists Jira issues for a project via JQL, using an updated-since
// watermark for incremental syncs.
type Driver struct {
	tokens  source.TokenSource
	configs source.ConfigStore
	client  *http.Client

	accessibleResourcesURL string
	apiBaseURL             string

	mu      sync.Mutex
	cloudID map[string]string // connectionID -> resolved Atlassian cloud id
}

func New(tokens source.TokenSource, configs source.ConfigStore) *Driver {
	return &Driver{
		tokens:                 tokens,
		configs:                configs,
		client:                 &http.Client{Timeout: 30 * time.Second},
		accessibleResourcesURL: defaultAccessibleResources,
		apiBaseURL:             defaultAPIBase,
		cloudID:                make(map[string]string),
	}
}

func (d *Driver) Metadata() source.Metadata {
	return source.Metadata{
		Name:               "Jira",
		ShortName:          shortName,
		AuthMethods:        []source.AuthMethod{source.AuthOAuthToken},
		OAuthMode:          source.OAuthWithRefresh,
		Labels:             []string{"issues", "atlassian"},
		SupportsContinuous: true,
		RateLimitLevel:     source.RateLimitConnection,
		EntityTypes:        []string{"JiraIssueEntity"},
	}
}

type accessibleResource struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// resolveCloudID performs the accessible-resources exchange once per
// connection and caches the result; Jira cloud ids don't change for the
// lifetime of a connection.
func (d *Driver) resolveCloudID(ctx context.Context, connectionID, accessToken string) (string, error) {
	d.mu.Lock()
	if id, ok := d.cloudID[connectionID]; ok {
		d.mu.Unlock()
		return id, nil
	}
	d.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.accessibleResourcesURL, nil)
	if err != nil {
		return "", fmt.Errorf("jira: build accessible-resources request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("jira: accessible-resources request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("jira: accessible-resources bad status: %s", resp.Status)
	}

	var resources []accessibleResource
	if err := json.NewDecoder(resp.Body).Decode(&resources); err != nil {
		return "", fmt.Errorf("jira: decode accessible-resources: %w", err)
	}
	if len(resources) == 0 {
		return "", fmt.Errorf("jira: connection %s has no accessible Jira sites", connectionID)
	}

	d.mu.Lock()
	d.cloudID[connectionID] = resources[0].ID
	d.mu.Unlock()
	return resources[0].ID, nil
}

func (d *Driver) Validate(ctx context.Context, connectionID string) error {
	token, err := d.tokens.AccessToken(ctx, connectionID, shortName)
	if err != nil {
		return err
	}
	_, err = d.resolveCloudID(ctx, connectionID, token)
	if err != nil {
		return fmt.Errorf("jira: validate connection %s: %w", connectionID, err)
	}
	return nil
}

type searchResponse struct {
	Issues     []issue `json:"issues"`
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
}

type issue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
		Updated string `json:"updated"`
		Created string `json:"created"`
	} `json:"fields"`
}

// List runs a JQL search scoped to cursor.UpdatedSince, paging through the
// Jira search API's startAt/maxResults window until every matching issue
// has been yielded.
func (d *Driver) List(ctx context.Context, connectionID string, c entity.Cursor) (source.Page, error) {
	raw, err := d.configs.Get(ctx, connectionID)
	if err != nil {
		return source.Page{}, fmt.Errorf("jira: resolve config for %s: %w", connectionID, err)
	}
	projectKey, _ := raw["project_key"].(string)

	token, err := d.tokens.AccessToken(ctx, connectionID, shortName)
	if err != nil {
		return source.Page{}, err
	}
	cloudID, err := d.resolveCloudID(ctx, connectionID, token)
	if err != nil {
		return source.Page{}, err
	}

	prev, err := decodeCursor(c)
	if err != nil {
		return source.Page{}, err
	}

	jql := fmt.Sprintf("project = %q", projectKey)
	if prev.UpdatedSince != "" {
		jql += fmt.Sprintf(" AND updated >= %q", prev.UpdatedSince)
	}
	jql += " ORDER BY updated ASC"

	entities := make([]*entity.Entity, 0, 100)
	startAt := 0
	const pageSize = 100
	latestUpdated := prev.UpdatedSince

	for {
		page, err := d.search(ctx, cloudID, token, jql, startAt, pageSize)
		if err != nil {
			return source.Page{}, err
		}
		for _, iss := range page.Issues {
			entities = append(entities, toEntity(projectKey, iss))
			if iss.Fields.Updated > latestUpdated {
				latestUpdated = iss.Fields.Updated
			}
		}
		startAt += len(page.Issues)
		if startAt >= page.Total || len(page.Issues) == 0 {
			break
		}
	}

	next, err := entity.NewCursor(shortName, cursor{UpdatedSince: latestUpdated})
	if err != nil {
		return source.Page{}, err
	}
	return source.Page{Entities: entities, NextCursor: next, HasMore: false}, nil
}

func (d *Driver) search(ctx context.Context, cloudID, token, jql string, startAt, maxResults int) (searchResponse, error) {
	endpoint := fmt.Sprintf("%s/%s/rest/api/3/search", d.apiBaseURL, cloudID)
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("startAt", fmt.Sprintf("%d", startAt))
	q.Set("maxResults", fmt.Sprintf("%d", maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return searchResponse{}, fmt.Errorf("jira: build search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return searchResponse{}, fmt.Errorf("jira: search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return searchResponse{}, fmt.Errorf("jira: search bad status: %s", resp.Status)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return searchResponse{}, fmt.Errorf("jira: decode search response: %w", err)
	}
	return out, nil
}

func decodeCursor(c entity.Cursor) (cursor, error) {
	if c.IsZero() {
		return cursor{}, nil
	}
	var out cursor
	if err := c.Decode(&out); err != nil {
		return cursor{}, fmt.Errorf("jira: decode cursor: %w", err)
	}
	return out, nil
}

func toEntity(projectKey string, iss issue) *entity.Entity {
	return &entity.Entity{
		Kind:     entity.KindPlain,
		EntityID: iss.Key,
		Name:     iss.Fields.Summary,
		SystemMetadata: entity.SystemMetadata{
			SourceName: shortName,
			EntityType: "JiraIssueEntity",
		},
		Properties: map[string]any{
			"project_key": projectKey,
			"updated":     iss.Fields.Updated,
			"created":     iss.Fields.Created,
		},
	}
}

var _ source.Driver = (*Driver)(nil)
