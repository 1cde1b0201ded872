package orchestrator

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"airweave.dev/syncengine/entity"
)

const checkpointBucket = "cursors"

// Checkpoint is the local crash-recovery store for the last-committed
// cursor per sync (spec.md §4.4: "a crash resumes from the last committed
// position" / §4.14), grounded on db/bolt/bolt.go's DB wrapper and its
// PutJSON/GetJSON bucket conventions.
type Checkpoint struct {
	db *bolt.DB
}

// OpenCheckpoint opens (creating if absent) a bbolt database at path and
// ensures the cursors bucket exists.
func OpenCheckpoint(path string) (*Checkpoint, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open checkpoint db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(checkpointBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("orchestrator: create checkpoint bucket: %w", err)
	}
	return &Checkpoint{db: db}, nil
}

// Save persists syncID's current cursor position, called at driver yield
// points between pages so a crash mid-job resumes from the last page
// boundary rather than from the start.
func (c *Checkpoint) Save(syncID string, cursor entity.Cursor) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(checkpointBucket))
		data, err := json.Marshal(cursor)
		if err != nil {
			return err
		}
		return b.Put([]byte(syncID), data)
	})
}

// Load returns syncID's last-committed cursor, or a zero Cursor if none was
// ever saved (a fresh full sync).
func (c *Checkpoint) Load(syncID string) (entity.Cursor, error) {
	var cursor entity.Cursor
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(checkpointBucket))
		data := b.Get([]byte(syncID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &cursor)
	})
	return cursor, err
}

// Clear drops syncID's checkpoint, called once a job completes since the
// next job starts from the Sync's own persisted cursor.
func (c *Checkpoint) Clear(syncID string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(checkpointBucket))
		return b.Delete([]byte(syncID))
	})
}

// Close closes the underlying bbolt database.
func (c *Checkpoint) Close() error { return c.db.Close() }
