// Package msgraph implements the C4 Outlook Mail source driver, grounded on
// the teacher's cloud/azuregraph.go client-credentials authentication and
// page-iterator pattern, generalized from a one-shot inbox dump into a
// per-folder driver that records a delta link per folder in the cursor.
// It is the only Microsoft-family driver in this module.
package msgraph

import (
	"context"
	"fmt"

	azidentity "github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	msgraphcore "github.com/microsoftgraph/msgraph-sdk-go-core"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"airweave.dev/syncengine/entity"
	"airweave.dev/syncengine/source"
)

const shortName = "outlook_mail"

var graphScopes = []string{"https://graph.microsoft.com/.default"}

// Config is the per-connection configuration resolved through
// source.ConfigStore.
type Config struct {
	TenantID     string `mapstructure:"tenant_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	UserEmail    string `mapstructure:"user_email"`
}

// Driver lists Outlook Mail messages across every mail folder and records
// a delta link per folder in its cursor; it does not resume from stored
// delta links (see List).
type Driver struct {
	configs source.ConfigStore
}

func New(configs source.ConfigStore) *Driver {
	return &Driver{configs: configs}
}

func (d *Driver) Metadata() source.Metadata {
	return source.Metadata{
		Name:               "Outlook Mail",
		ShortName:          shortName,
		AuthMethods:        []source.AuthMethod{source.AuthProvider},
		OAuthMode:          source.OAuthNone,
		Labels:             []string{"mail", "microsoft"},
		SupportsContinuous: true,
		RateLimitLevel:     source.RateLimitConnection,
		EntityTypes:        []string{"OutlookMessageEntity"},
	}
}

func (d *Driver) client(ctx context.Context, connectionID string) (*msgraphsdk.GraphServiceClient, Config, error) {
	raw, err := d.configs.Get(ctx, connectionID)
	if err != nil {
		return nil, Config{}, fmt.Errorf("msgraph: resolve config for %s: %w", connectionID, err)
	}
	cfg := Config{
		TenantID:     stringField(raw, "tenant_id"),
		ClientID:     stringField(raw, "client_id"),
		ClientSecret: stringField(raw, "client_secret"),
		UserEmail:    stringField(raw, "user_email"),
	}

	cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	if err != nil {
		return nil, Config{}, fmt.Errorf("msgraph: build credential: %w", err)
	}
	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, graphScopes)
	if err != nil {
		return nil, Config{}, fmt.Errorf("msgraph: build graph client: %w", err)
	}
	return client, cfg, nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Validate confirms the client-credentials grant authenticates and the
// configured mailbox is reachable.
func (d *Driver) Validate(ctx context.Context, connectionID string) error {
	client, cfg, err := d.client(ctx, connectionID)
	if err != nil {
		return err
	}
	_, err = client.Users().ByUserId(cfg.UserEmail).MailFolders().ByMailFolderId("inbox").Get(ctx, nil)
	if err != nil {
		return fmt.Errorf("msgraph: validate connection %s: %w", connectionID, err)
	}
	return nil
}

// List walks every mail folder in the mailbox and runs a fresh delta query
// for each one on every call, so every message is listed each time. Delta
// links already in cursor.FolderDeltaLinks are copied into the next cursor
// but are not used to resume. Each visited folder's entry is replaced by
// the delta link of that folder's first response page, which is empty
// when the folder's messages span more than one page.
func (d *Driver) List(ctx context.Context, connectionID string, cursor entity.Cursor) (source.Page, error) {
	client, cfg, err := d.client(ctx, connectionID)
	if err != nil {
		return source.Page{}, err
	}

	prev, err := decodeCursor(cursor)
	if err != nil {
		return source.Page{}, err
	}
	nextLinks := make(map[string]string, len(prev.FolderDeltaLinks))
	for k, v := range prev.FolderDeltaLinks {
		nextLinks[k] = v
	}

	foldersResp, err := client.Users().ByUserId(cfg.UserEmail).MailFolders().Get(ctx, nil)
	if err != nil {
		return source.Page{}, fmt.Errorf("msgraph: list mail folders: %w", err)
	}

	entities := make([]*entity.Entity, 0, 64)
	for _, folder := range foldersResp.GetValue() {
		folderID := deref(folder.GetId())
		msgs, err := client.Users().ByUserId(cfg.UserEmail).
			MailFolders().ByMailFolderId(folderID).Messages().Delta().Get(ctx, nil)
		if err != nil {
			return source.Page{}, fmt.Errorf("msgraph: delta query folder %s: %w", folderID, err)
		}

		it, err := msgraphcore.NewPageIterator[models.Messageable](
			msgs, client.GetAdapter(), models.CreateMessageCollectionResponseFromDiscriminatorValue)
		if err != nil {
			return source.Page{}, fmt.Errorf("msgraph: build page iterator folder %s: %w", folderID, err)
		}
		err = it.Iterate(ctx, func(m models.Messageable) bool {
			entities = append(entities, toEntity(folderID, m))
			return true
		})
		if err != nil {
			return source.Page{}, fmt.Errorf("msgraph: iterate folder %s: %w", folderID, err)
		}

		nextLinks[folderID] = deref(msgs.GetOdataDeltaLink())
	}

	next, err := entity.NewCursor(shortName, entity.OutlookCursor{FolderDeltaLinks: nextLinks})
	if err != nil {
		return source.Page{}, err
	}
	return source.Page{Entities: entities, NextCursor: next, HasMore: false}, nil
}

func decodeCursor(c entity.Cursor) (entity.OutlookCursor, error) {
	if c.IsZero() {
		return entity.OutlookCursor{}, nil
	}
	var out entity.OutlookCursor
	if err := c.Decode(&out); err != nil {
		return entity.OutlookCursor{}, fmt.Errorf("msgraph: decode cursor: %w", err)
	}
	return out, nil
}

func toEntity(folderID string, m models.Messageable) *entity.Entity {
	e := &entity.Entity{
		Kind:     entity.KindPlain,
		EntityID: deref(m.GetId()),
		Name:     deref(m.GetSubject()),
		SystemMetadata: entity.SystemMetadata{
			SourceName: shortName,
			EntityType: "OutlookMessageEntity",
		},
		Breadcrumbs: []entity.Breadcrumb{{EntityID: folderID, Name: folderID}},
		Properties:  map[string]any{"folder_id": folderID},
	}
	if t := m.GetReceivedDateTime(); t != nil {
		e.CreatedAt = t
	}
	// A delta response represents a deletion as a stub resource carrying an
	// "@removed" annotation instead of the usual message fields.
	if _, removed := m.GetAdditionalData()["@removed"]; removed {
		e.Kind = entity.KindDeletion
		e.Deletion = &entity.DeletionFields{DeletionStatus: "removed"}
	}
	return e
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ source.Driver = (*Driver)(nil)
