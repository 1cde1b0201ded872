// Package gitea implements the C4 git-hosting source driver, grounded on the
// teacher's forge/gitea.go archive-retrieval pattern (code.gitea.io/sdk/gitea
// client construction) but generalized from a one-shot archive download into
// an incremental repository tree listing that emits directory and code-file
// entities, per spec.md §4.4's "GitHub: emits directory and code-file
// entities" nuance.
package gitea

import (
	"context"
	"fmt"
	"path"
	"time"

	giteasdk "code.gitea.io/sdk/gitea"

	"airweave.dev/syncengine/entity"
	"airweave.dev/syncengine/source"
)

const shortName = "gitea"

// Config is the per-connection configuration resolved through
// source.ConfigStore, matching the driver's declared config schema.
type Config struct {
	BaseURL string `mapstructure:"base_url"`
	Owner   string `mapstructure:"owner"`
	Repo    string `mapstructure:"repo"`
	Branch  string `mapstructure:"branch"`
}

// Driver lists a single Gitea repository's tree as directory and code-file
// entities, resuming from the repository's last push timestamp.
type Driver struct {
	tokens  source.TokenSource
	configs source.ConfigStore
}

// New builds a gitea Driver backed by tokens for authentication and configs
// for per-connection repository settings.
func New(tokens source.TokenSource, configs source.ConfigStore) *Driver {
	return &Driver{tokens: tokens, configs: configs}
}

func (d *Driver) Metadata() source.Metadata {
	return source.Metadata{
		Name:               "Gitea",
		ShortName:          shortName,
		AuthMethods:        []source.AuthMethod{source.AuthAPIKeyHeader, source.AuthOAuthToken},
		OAuthMode:          source.OAuthWithRefresh,
		Labels:             []string{"code", "git"},
		SupportsContinuous: true,
		RateLimitLevel:     source.RateLimitConnection,
		EntityTypes:        []string{"GiteaDirectoryEntity", "GiteaCodeFileEntity"},
	}
}

func (d *Driver) resolve(ctx context.Context, connectionID string) (Config, *giteasdk.Client, error) {
	raw, err := d.configs.Get(ctx, connectionID)
	if err != nil {
		return Config{}, nil, fmt.Errorf("gitea: resolve config for %s: %w", connectionID, err)
	}
	cfg := Config{
		BaseURL: stringField(raw, "base_url"),
		Owner:   stringField(raw, "owner"),
		Repo:    stringField(raw, "repo"),
		Branch:  stringField(raw, "branch"),
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}

	token, err := d.tokens.AccessToken(ctx, connectionID, shortName)
	if err != nil {
		return Config{}, nil, err
	}
	client, err := giteasdk.NewClient(cfg.BaseURL, giteasdk.SetToken(token), giteasdk.SetContext(ctx))
	if err != nil {
		return Config{}, nil, fmt.Errorf("gitea: new client for %s: %w", cfg.BaseURL, err)
	}
	return cfg, client, nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Validate confirms the stored token can authenticate against the instance.
func (d *Driver) Validate(ctx context.Context, connectionID string) error {
	_, client, err := d.resolve(ctx, connectionID)
	if err != nil {
		return err
	}
	_, _, err = client.GetMyUserInfo()
	if err != nil {
		return fmt.Errorf("gitea: validate connection %s: %w", connectionID, err)
	}
	return nil
}

// List fetches the repository's push timestamp; if it has not advanced past
// cursor.LastPushTimestamp the driver reports no new entities. Otherwise it
// walks the full recursive tree and emits one entity per blob/tree entry.
// Pagination is a single page per sync: Gitea's tree API returns the whole
// tree in one call, so there is no nextLink state to carry across calls.
func (d *Driver) List(ctx context.Context, connectionID string, cursor entity.Cursor) (source.Page, error) {
	cfg, client, err := d.resolve(ctx, connectionID)
	if err != nil {
		return source.Page{}, err
	}

	repo, _, err := client.GetRepo(cfg.Owner, cfg.Repo)
	if err != nil {
		return source.Page{}, fmt.Errorf("gitea: get repo %s/%s: %w", cfg.Owner, cfg.Repo, err)
	}

	prev, err := decodeCursor(cursor)
	if err != nil {
		return source.Page{}, err
	}
	var prevPush time.Time
	if prev.LastPushTimestamp != "" {
		prevPush, err = time.Parse(time.RFC3339, prev.LastPushTimestamp)
		if err != nil {
			return source.Page{}, fmt.Errorf("gitea: parse cursor timestamp: %w", err)
		}
	}
	if !repo.Updated.After(prevPush) {
		return source.Page{NextCursor: cursor, HasMore: false}, nil
	}

	tree, _, err := client.GetTrees(cfg.Owner, cfg.Repo, cfg.Branch, true)
	if err != nil {
		return source.Page{}, fmt.Errorf("gitea: get tree %s/%s@%s: %w", cfg.Owner, cfg.Repo, cfg.Branch, err)
	}

	entities := make([]*entity.Entity, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		entities = append(entities, toEntity(cfg, repo, &e))
	}

	next, err := entity.NewCursor(shortName, entity.GitPushCursor{LastPushTimestamp: repo.Updated.Format(time.RFC3339)})
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
		return entity.GitPushCursor{}, fmt.Errorf("gitea: decode cursor: %w", err)
	}
	return out, nil
}

func toEntity(cfg Config, repo *giteasdk.Repository, e *giteasdk.GitEntry) *entity.Entity {
	entityID := cfg.Owner + "/" + cfg.Repo + ":" + e.Path
	name := path.Base(e.Path)

	if e.Type == "tree" {
		return &entity.Entity{
			Kind:     entity.KindPlain,
			EntityID: entityID,
			Name:     name,
			SystemMetadata: entity.SystemMetadata{
				SourceName: shortName,
				EntityType: "GiteaDirectoryEntity",
			},
		}
	}

	return &entity.Entity{
		Kind:     entity.KindCodeFile,
		EntityID: entityID,
		Name:     name,
		Code: &entity.CodeFileFields{
			RepoOwner:  cfg.Owner,
			PathInRepo: e.Path,
			Language:   classifyExtension(name),
			CommitID:   repo.DefaultBranch,
		},
		SystemMetadata: entity.SystemMetadata{
			SourceName: shortName,
			EntityType: "GiteaCodeFileEntity",
		},
	}
}

// classifyExtension gives the chunker a starting-point language hint; the
// chunker.LanguageClassifier makes the authoritative decision on whether a
// language is supported for AST-aware chunking.
func classifyExtension(name string) string {
	switch path.Ext(name) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".jsx":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".java":
		return "java"
	case ".rb":
		return "ruby"
	default:
		return ""
	}
}

var _ source.Driver = (*Driver)(nil)
