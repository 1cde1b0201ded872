package entity

import "time"

// MultiplexState is the lifecycle state of a DestinationSlot (spec §4.12,
// the multiplexer's fork/switch/deprecate state machine).
type MultiplexState string

const (
	SlotActive     MultiplexState = "active"
	SlotShadow     MultiplexState = "shadow"
	SlotDeprecated MultiplexState = "deprecated"
)

// Collection groups one or more Syncs that write into the same logical
// search surface (spec §3 GLOSSARY).
type Collection struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Sync is the durable configuration for one source-to-destination pipeline
// (spec §3). A SyncJob is one run of a Sync.
type Sync struct {
	ID           string
	CollectionID string

	SourceShortName string
	ConnectionID    string

	// Cursor holds the position the next job will resume from; each SyncJob
	// copies it at start and the orchestrator writes it back on checkpoint
	// and on successful completion.
	Cursor Cursor

	RateLimit RateLimitConfig

	// Destinations lists every DestinationSlot this sync currently writes to
	// or is shadow-copying into, keyed by slot ID.
	Destinations []DestinationSlot

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RateLimitConfig pins the org- and source-scoped limiter budgets a Sync
// runs under (spec §4.2).
type RateLimitConfig struct {
	// OrgRequestsPerSecond caps total outbound calls across every sync in the
	// org (§4.2.1). Zero means "use the limiter's default".
	OrgRequestsPerSecond float64
	OrgBurst             int

	// SourceRequestsPerSecond caps calls to this one source's API,
	// independent of org budget (§4.2.2).
	SourceRequestsPerSecond float64
	SourceBurst             int
}

// DestinationSlot is one (destination, state) pair a Sync writes into. The
// multiplexer (C12) is the only component that mutates State; the pipeline
// only ever reads the Active/Shadow slots to decide where to fan writes out.
type DestinationSlot struct {
	ID            string
	SyncID        string
	DestinationType string // "qdrant" | "vespa"
	Endpoint      string
	CollectionRef string

	State MultiplexState

	// PromotedAt is set when a SHADOW slot is switched to ACTIVE (§4.12).
	PromotedAt *time.Time
}

// RawDataManifest describes one sync job's archive under the raw-data
// replay store (spec §4.11): a manifest.json plus entities/ and files/
// subtrees, addressed by sync_job_id.
type RawDataManifest struct {
	SyncJobID string
	SyncID    string

	// EntityCount is the number of entity snapshots recorded in entities/.
	EntityCount int

	// FileCount is the number of binary payloads mirrored into files/.
	FileCount int

	CreatedAt time.Time

	// ReplayOf, when set, marks this manifest as a replay run sourced from
	// an earlier job's archive rather than a live source call (§4.11).
	ReplayOf string
}
