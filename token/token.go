// Package token implements the C3 OAuth connection token manager (spec §4.3):
// per-connection credential storage, coalesced refresh so concurrent pipeline
// workers sharing one connection never issue duplicate refresh requests, and
// ID-token verification for sources that hand back a signed identity token
// alongside the access token (Microsoft Graph, Gitea/GitLab OIDC apps).
package token

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"

	syncerrors "airweave.dev/syncengine/errors"
)

// RefreshMode selects how a connection's access token is kept current.
type RefreshMode int

const (
	// RefreshNone means the stored token never expires (PATs, API keys).
	RefreshNone RefreshMode = iota
	// RefreshOAuth2 means the connection holds a refresh_token and the
	// manager calls the source's token endpoint via oauth2.TokenSource.
	RefreshOAuth2
)

// Credential is the durable, per-connection state the manager reads and
// writes back through Store.
type Credential struct {
	ConnectionID string
	Mode         RefreshMode

	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time

	// IDToken is set for sources that issue an OIDC identity token alongside
	// the access token; Verifier checks it on demand, not on every refresh.
	IDToken string
}

// Expired reports whether the access token needs a refresh, with a small
// safety margin so a request started just before expiry doesn't get cut off
// mid-flight.
func (c Credential) Expired() bool {
	if c.Mode == RefreshNone {
		return false
	}
	return time.Now().After(c.ExpiresAt.Add(-30 * time.Second))
}

// Store persists and retrieves Credential rows. The relational layer
// (gorm, following the teacher's Postgres repository) implements this.
type Store interface {
	Get(ctx context.Context, connectionID string) (Credential, error)
	Save(ctx context.Context, cred Credential) error
}

// Refresher exchanges a refresh token for a new access token. Each source
// package supplies one built from its own OAuth2 endpoint config
// (golang.org/x/oauth2.Config.TokenSource).
type Refresher interface {
	Refresh(ctx context.Context, cred Credential) (Credential, error)
}

// OAuth2Refresher adapts an oauth2.Config to the Refresher interface.
type OAuth2Refresher struct {
	Config *oauth2.Config
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	src := r.Config.TokenSource(ctx, &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.ExpiresAt,
	})
	tok, err := src.Token()
	if err != nil {
		return Credential{}, &syncerrors.TokenRefreshError{ConnectionID: cred.ConnectionID, Err: err}
	}
	cred.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	cred.ExpiresAt = tok.Expiry
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		cred.IDToken = idToken
	}
	return cred, nil
}

var _ Refresher = (*OAuth2Refresher)(nil)

// Manager coalesces concurrent refresh requests for the same connection
// behind a per-connection mutex, so a burst of pipeline workers hitting an
// expired token all wait on one refresh call instead of racing the source's
// token endpoint (spec §4.3, "refresh coalescing").
type Manager struct {
	store      Store
	refreshers map[string]Refresher // keyed by source_short_name

	mu     sync.Mutex
	inFlight map[string]*sync.Mutex
}

// NewManager creates a Manager backed by store, with one Refresher registered
// per source short_name.
func NewManager(store Store, refreshers map[string]Refresher) *Manager {
	return &Manager{
		store:      store,
		refreshers: refreshers,
		inFlight:   make(map[string]*sync.Mutex),
	}
}

// AccessToken returns a valid access token for connectionID, refreshing it
// first if it has expired. sourceShortName selects which Refresher to use.
func (m *Manager) AccessToken(ctx context.Context, connectionID, sourceShortName string) (string, error) {
	cred, err := m.store.Get(ctx, connectionID)
	if err != nil {
		return "", err
	}
	if !cred.Expired() {
		return cred.AccessToken, nil
	}

	lock := m.lockFor(connectionID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read after acquiring the lock: another goroutine may have already
	// refreshed while we were waiting.
	cred, err = m.store.Get(ctx, connectionID)
	if err != nil {
		return "", err
	}
	if !cred.Expired() {
		return cred.AccessToken, nil
	}

	refresher, ok := m.refreshers[sourceShortName]
	if !ok {
		return "", &syncerrors.TokenRefreshError{
			ConnectionID: connectionID,
			Err:          syncerrors.ErrNotFound,
		}
	}

	refreshed, err := refresher.Refresh(ctx, cred)
	if err != nil {
		return "", err
	}
	if err := m.store.Save(ctx, refreshed); err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

func (m *Manager) lockFor(connectionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.inFlight[connectionID]
	if !ok {
		lock = &sync.Mutex{}
		m.inFlight[connectionID] = lock
	}
	return lock
}
