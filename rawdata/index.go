package rawdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"
)

// Index is the CouchDB-backed secondary index mirroring
// db/repository/couchdb.go's client-construction and get/put-preserving-
// revision patterns, generalized from that file's workflow/action
// documents to one raw-data document per archived entity. Unlike the
// entities/{safe_entity_id}.json files, the index is accelerative only:
// losing it never loses data, only query speed.
type Index struct {
	client *kivik.Client
	db     *kivik.DB
}

// indexedDoc is the CouchDB document shape: the raw entity envelope bytes
// plus the sync_id field IterEntities/ForEach queries by.
type indexedDoc struct {
	ID     string          `json:"_id"`
	Rev    string          `json:"_rev,omitempty"`
	SyncID string          `json:"sync_id"`
	Raw    json.RawMessage `json:"raw"`
}

// NewIndex connects to CouchDB and ensures dbName exists, following the
// same "try DB(), create on Err()" idiom as
// repository.NewCouchDBRepository.
func NewIndex(ctx context.Context, url, user, password, dbName string) (*Index, error) {
	connectionURL := url
	if user != "" && password != "" && !strings.Contains(connectionURL, "@") {
		parts := strings.SplitN(connectionURL, "://", 2)
		if len(parts) == 2 {
			connectionURL = fmt.Sprintf("%s://%s:%s@%s", parts[0], user, password, parts[1])
		}
	}

	client, err := kivik.New("couch", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("rawdata: connect couchdb: %w", err)
	}

	db := client.DB(dbName)
	if err := db.Err(); err != nil {
		if err := client.CreateDB(ctx, dbName); err != nil {
			return nil, fmt.Errorf("rawdata: create couchdb database %s: %w", dbName, err)
		}
		db = client.DB(dbName)
	}

	return &Index{client: client, db: db}, nil
}

// Put indexes entityID's raw envelope bytes under sync_id, preserving any
// existing revision so CouchDB accepts the update.
func (x *Index) Put(ctx context.Context, syncID, entityID string, raw []byte) error {
	doc := indexedDoc{ID: entityID, SyncID: syncID, Raw: raw}

	var existing indexedDoc
	if err := x.db.Get(ctx, entityID).ScanDoc(&existing); err == nil {
		doc.Rev = existing.Rev
	}

	_, err := x.db.Put(ctx, entityID, doc)
	if err != nil {
		return fmt.Errorf("rawdata: index put %s: %w", entityID, err)
	}
	return nil
}

// Delete removes entityID's indexed document, if present.
func (x *Index) Delete(ctx context.Context, entityID string) error {
	var doc indexedDoc
	if err := x.db.Get(ctx, entityID).ScanDoc(&doc); err != nil {
		return nil // already absent: deleting a missing index entry is not an error
	}
	_, err := x.db.Delete(ctx, entityID, doc.Rev)
	if err != nil {
		return fmt.Errorf("rawdata: index delete %s: %w", entityID, err)
	}
	return nil
}

// ForEach runs a Mango query for every document indexed under syncID and
// invokes visit with each one's raw envelope bytes, stopping at the first
// error visit returns.
func (x *Index) ForEach(ctx context.Context, syncID string, visit func(raw []byte) error) error {
	rows := x.db.Find(ctx, map[string]any{"sync_id": syncID})
	defer rows.Close()

	for rows.Next() {
		var doc indexedDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return fmt.Errorf("rawdata: scan indexed doc: %w", err)
		}
		if err := visit(doc.Raw); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close releases the underlying CouchDB connection.
func (x *Index) Close() error {
	return x.client.Close()
}
