// Package gitlab implements the C4 GitLab source driver. It reuses the
// teacher's client-construction pattern from forge/gitlab.go
// (gitlab.NewClient(token, gitlab.WithBaseURL(...))) but targets the
// Projects/Repositories APIs instead of the teacher's CI-runner/job
// inspection, since this driver lists repository content rather than
// pipeline jobs. It is the plain OAUTH_TOKEN analog of the Jira/Confluence
// cloud-id exchange (GitLab has no cloud-id step, per spec.md §4.4).
package gitlab

import (
	"context"
	"fmt"
	"time"

	gitlabsdk "gitlab.com/gitlab-org/api/client-go"

	"airweave.dev/syncengine/entity"
	"airweave.dev/syncengine/source"
)

const shortName = "gitlab"

// Config is the per-connection configuration resolved through
// source.ConfigStore.
type Config struct {
	BaseURL   string `mapstructure:"base_url"`
	ProjectID string `mapstructure:"project_id"`
	Ref       string `mapstructure:"ref"`
}

// Driver lists a GitLab project's repository tree incrementally, using the
// project's last_activity_at as the change-detection signal.
type Driver struct {
	tokens  source.TokenSource
	configs source.ConfigStore
}

func New(tokens source.TokenSource, configs source.ConfigStore) *Driver {
	return &Driver{tokens: tokens, configs: configs}
}

func (d *Driver) Metadata() source.Metadata {
	return source.Metadata{
		Name:               "GitLab",
		ShortName:          shortName,
		AuthMethods:        []source.AuthMethod{source.AuthOAuthToken},
		OAuthMode:          source.OAuthWithRefresh,
		Labels:             []string{"code", "git"},
		SupportsContinuous: true,
		RateLimitLevel:     source.RateLimitConnection,
		EntityTypes:        []string{"GitlabDirectoryEntity", "GitlabCodeFileEntity"},
	}
}

func (d *Driver) resolve(ctx context.Context, connectionID string) (Config, *gitlabsdk.Client, error) {
	raw, err := d.configs.Get(ctx, connectionID)
	if err != nil {
		return Config{}, nil, fmt.Errorf("gitlab: resolve config for %s: %w", connectionID, err)
	}
	cfg := Config{
		BaseURL:   stringField(raw, "base_url"),
		ProjectID: stringField(raw, "project_id"),
		Ref:       stringField(raw, "ref"),
	}
	if cfg.Ref == "" {
		cfg.Ref = "main"
	}

	token, err := d.tokens.AccessToken(ctx, connectionID, shortName)
	if err != nil {
		return Config{}, nil, err
	}
	client, err := gitlabsdk.NewClient(token, gitlabsdk.WithBaseURL(cfg.BaseURL+"/api/v4"))
	if err != nil {
		return Config{}, nil, fmt.Errorf("gitlab: new client for %s: %w", cfg.BaseURL, err)
	}
	return cfg, client, nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func (d *Driver) Validate(ctx context.Context, connectionID string) error {
	_, client, err := d.resolve(ctx, connectionID)
	if err != nil {
		return err
	}
	_, _, err = client.Users.CurrentUser()
	if err != nil {
		return fmt.Errorf("gitlab: validate connection %s: %w", connectionID, err)
	}
	return nil
}

func (d *Driver) List(ctx context.Context, connectionID string, cursor entity.Cursor) (source.Page, error) {
	cfg, client, err := d.resolve(ctx, connectionID)
	if err != nil {
		return source.Page{}, err
	}

	project, _, err := client.Projects.GetProject(cfg.ProjectID, nil)
	if err != nil {
		return source.Page{}, fmt.Errorf("gitlab: get project %s: %w", cfg.ProjectID, err)
	}

	prev, err := decodeCursor(cursor)
	if err != nil {
		return source.Page{}, err
	}
	var prevActivity time.Time
	if prev.LastPushTimestamp != "" {
		prevActivity, err = time.Parse(time.RFC3339, prev.LastPushTimestamp)
		if err != nil {
			return source.Page{}, fmt.Errorf("gitlab: parse cursor timestamp: %w", err)
		}
	}
	if project.LastActivityAt == nil || !project.LastActivityAt.After(prevActivity) {
		return source.Page{NextCursor: cursor, HasMore: false}, nil
	}

	entities := make([]*entity.Entity, 0, 64)
	recursive := true
	perPage := 100
	opts := &gitlabsdk.ListTreeOptions{
		Ref:       &cfg.Ref,
		Recursive: &recursive,
		ListOptions: gitlabsdk.ListOptions{
			PerPage: perPage,
		},
	}
	for {
		nodes, resp, err := client.Repositories.ListTree(cfg.ProjectID, opts)
		if err != nil {
			return source.Page{}, fmt.Errorf("gitlab: list tree %s: %w", cfg.ProjectID, err)
		}
		for _, n := range nodes {
			entities = append(entities, toEntity(cfg, n))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.ListOptions.Page = resp.NextPage
	}

	next, err := entity.NewCursor(shortName, entity.GitPushCursor{LastPushTimestamp: project.LastActivityAt.Format(time.RFC3339)})
	if err != nil {
		return source.Page{}, err
	}
	return source.Page{Entities: entities, NextCursor: next, HasMore: false}, nil
}

func decodeCursor(c entity.Cursor) (entity.GitPushCursor, error) {
	if c.IsZero() {
		return entity.GitPushCursor{}, nil
	}
	var out entity.GitPushCursor
	if err := c.Decode(&out); err != nil {
		return entity.GitPushCursor{}, fmt.Errorf("gitlab: decode cursor: %w", err)
	}
	return out, nil
}

func toEntity(cfg Config, n *gitlabsdk.TreeNode) *entity.Entity {
	entityID := cfg.ProjectID + ":" + n.Path

	if n.Type == "tree" {
		return &entity.Entity{
			Kind:     entity.KindPlain,
			EntityID: entityID,
			Name:     n.Name,
			SystemMetadata: entity.SystemMetadata{
				SourceName: shortName,
				EntityType: "GitlabDirectoryEntity",
			},
		}
	}

	return &entity.Entity{
		Kind:     entity.KindCodeFile,
		EntityID: entityID,
		Name:     n.Name,
		Code: &entity.CodeFileFields{
			PathInRepo: n.Path,
			CommitID:   cfg.Ref,
		},
		SystemMetadata: entity.SystemMetadata{
			SourceName: shortName,
			EntityType: "GitlabCodeFileEntity",
		},
	}
}

var _ source.Driver = (*Driver)(nil)
