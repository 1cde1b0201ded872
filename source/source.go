// Package source defines the C4 source driver interface and registry (spec
// §4.1): every concrete connector (msgraph, gitea, gitlab, jira) registers
// itself here, and the pipeline depends only on the Driver interface so a new
// source plugs in without the orchestrator knowing its wire protocol.
package source

import (
	"context"
	"fmt"
	"sync"

	"airweave.dev/syncengine/entity"
)

// Page is one batch of entities yielded by a Driver, plus the cursor
// position to resume from if the sync stops after this page (spec §4.1,
// incremental listing).
type Page struct {
	Entities   []*entity.Entity
	NextCursor entity.Cursor
	HasMore    bool
}

// AuthMethod enumerates how a driver obtains credentials (spec §4.4).
type AuthMethod string

const (
	AuthNone         AuthMethod = "none"
	AuthAPIKeyHeader AuthMethod = "API_KEY_HEADER"
	AuthOAuthBrowser AuthMethod = "OAUTH_BROWSER"
	AuthOAuthToken   AuthMethod = "OAUTH_TOKEN"
	AuthProvider     AuthMethod = "AUTH_PROVIDER"
)

// RateLimitLevel selects which scope's limiter a driver's calls count
// against (spec §4.2).
type RateLimitLevel string

const (
	RateLimitOrg        RateLimitLevel = "org"
	RateLimitConnection RateLimitLevel = "connection"
	RateLimitNone       RateLimitLevel = "none"
)

// Metadata is the registration record every driver supplies alongside
// itself, mirroring spec §4.4's "name, short_name, supported auth methods,
// OAuth semantics, config schema, labels, supports_continuous,
// rate_limit_level".
type Metadata struct {
	Name               string
	ShortName          string
	AuthMethods        []AuthMethod
	OAuthMode          OAuthMode
	Labels             []string
	SupportsContinuous bool
	RateLimitLevel     RateLimitLevel
	EntityTypes        []string
}

// OAuthMode is a driver's declared OAuth token semantics (none, refresh,
// rotating refresh), defined here without importing the token package so
// source stays free of a dependency on the credential store.
// token.RefreshMode has only two cases (RefreshNone, RefreshOAuth2) and
// does not distinguish rotating refresh.
type OAuthMode int

const (
	OAuthNone OAuthMode = iota
	OAuthWithRefresh
	OAuthWithRotatingRefresh
)

// TokenSource supplies a driver with a live access token for a connection.
// token.Manager satisfies this by structural typing; source does not import
// the token package so the credential store stays a pluggable collaborator.
type TokenSource interface {
	AccessToken(ctx context.Context, connectionID, sourceShortName string) (string, error)
}

// ConfigStore resolves a connection's driver-specific configuration (base
// URL, owner/repo, tenant id, ...) stored at connection-creation time
// against the driver's declared config schema (spec §4.4).
type ConfigStore interface {
	Get(ctx context.Context, connectionID string) (map[string]any, error)
}

// Driver is implemented by every concrete source connector. List is called
// repeatedly by the orchestrator until HasMore is false; drivers that cannot
// page (small fixed collections) return HasMore=false on the first call.
type Driver interface {
	// Metadata returns this driver's registration record.
	Metadata() Metadata

	// Validate checks that connectionID's stored credentials and config are
	// usable, typically via a cheap "who am I" call (spec §4.4 validate()).
	Validate(ctx context.Context, connectionID string) error

	// List fetches the next page of entities starting from cursor. An empty
	// (zero-value) cursor means "start from the beginning" (a full sync).
	// Pagination state (nextLink, page token) never escapes the driver: the
	// returned cursor is the only state the caller persists.
	List(ctx context.Context, connectionID string, cursor entity.Cursor) (Page, error)
}

// Registry holds every Driver a syncworker process knows how to run,
// looked up by short_name (spec GLOSSARY). Mirrors the accumulation pattern
// the teacher's registry package uses for service descriptors.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Register adds driver under its own short_name. Registering the same
// short_name twice is a programmer error and panics, matching the teacher's
// registry package's fail-fast init()-time registration style.
func (r *Registry) Register(driver Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := driver.Metadata().ShortName
	if _, exists := r.drivers[name]; exists {
		panic(fmt.Sprintf("source: driver %q already registered", name))
	}
	r.drivers[name] = driver
}

// Get looks up a driver by short_name.
func (r *Registry) Get(shortName string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[shortName]
	return d, ok
}

// ShortNames lists every registered driver's short_name.
func (r *Registry) ShortNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	return names
}
