package entity

import "encoding/json"

// Cursor is the opaque, per-source incremental-sync position described in
// spec §3/§9 ("Cursor polymorphism"). The sync layer stores and round-trips
// Cursor as JSON without ever parsing it; only the matching source driver
// knows the shape of its own Data. Unknown keys in Data survive a
// marshal/unmarshal round trip untouched, so a driver upgrade that adds a
// field never loses what an older driver wrote.
type Cursor struct {
	SourceShortName string `json:"source_short_name"`
	Data            json.RawMessage `json:"data"`
}

// NewCursor marshals a source-specific cursor payload into an opaque Cursor.
func NewCursor(sourceShortName string, payload any) (Cursor, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Cursor{}, err
	}
	return Cursor{SourceShortName: sourceShortName, Data: data}, nil
}

// Decode unmarshals the cursor's opaque Data into dst, which must be a
// pointer to the caller's source-specific cursor struct.
func (c Cursor) Decode(dst any) error {
	if len(c.Data) == 0 {
		return nil
	}
	return json.Unmarshal(c.Data, dst)
}

// IsZero reports whether the cursor carries no position yet (a first full sync).
func (c Cursor) IsZero() bool {
	return len(c.Data) == 0
}

// CTTICursor is the last-seen-id cursor shape used by simple listing sources
// that paginate by a monotonic id (spec §3 examples: CTTI).
type CTTICursor struct {
	LastSeenID string `json:"last_seen_id"`
}

// GitPushCursor tracks the last observed push timestamp for a git-hosted
// source (GitHub/Gitea/GitLab), so incremental syncs only list repos/commits
// pushed after it.
type GitPushCursor struct {
	LastPushTimestamp string `json:"last_push_timestamp"`
}

// GmailCursor carries Gmail's incremental History API token.
type GmailCursor struct {
	HistoryID string `json:"history_id"`
}

// DriveCursor carries Google Drive's change-page token plus a per-file
// content checksum map, since Drive's change feed alone does not say
// whether file *content* changed vs. metadata only.
type DriveCursor struct {
	PageToken      string            `json:"page_token"`
	FileChecksums  map[string]string `json:"file_checksums,omitempty"`
}

// OutlookCursor carries one delta link per mail folder, since Microsoft
// Graph issues delta tokens per-collection rather than per-mailbox.
type OutlookCursor struct {
	FolderDeltaLinks map[string]string `json:"folder_delta_links,omitempty"`
}

// PostgresCDCCursor carries the last-seen update timestamp per table for
// sources that poll row changes rather than consuming a WAL stream.
type PostgresCDCCursor struct {
	TableTimestamps map[string]string `json:"table_timestamps,omitempty"`
}
