package token

import (
	"context"
	"fmt"

	oidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Verifier checks the signature and claims of an ID token a source returns
// alongside its access token (spec §4.3). Most sources never need this —
// only Microsoft Graph connections configured for OIDC app auth do — so it
// is looked up per source short_name rather than wired into every refresh.
type Verifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	keySet   jwk.Set
}

// NewVerifier discovers issuerURL's OIDC configuration and its JWKS, and
// prepares both a go-oidc verifier (for standard ID token validation) and a
// raw jwx key set (for sources that hand back a bare signed JWT outside the
// OIDC id_token flow, e.g. a Gitea app token).
func NewVerifier(ctx context.Context, issuerURL, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("token: discover oidc provider %s: %w", issuerURL, err)
	}

	var jwksURI struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&jwksURI); err != nil {
		return nil, fmt.Errorf("token: read jwks_uri: %w", err)
	}

	keySet, err := jwk.Fetch(ctx, jwksURI.JWKSURI)
	if err != nil {
		return nil, fmt.Errorf("token: fetch jwks %s: %w", jwksURI.JWKSURI, err)
	}

	return &Verifier{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		keySet:   keySet,
	}, nil
}

// VerifyIDToken validates rawIDToken's signature, issuer, audience, and
// expiry via the discovered OIDC provider.
func (v *Verifier) VerifyIDToken(ctx context.Context, rawIDToken string) (*oidc.IDToken, error) {
	return v.verifier.Verify(ctx, rawIDToken)
}

// VerifyRawJWT validates a bare signed JWT against the provider's JWKS,
// for sources that issue a token outside the standard id_token flow.
func (v *Verifier) VerifyRawJWT(raw string) (jwt.Token, error) {
	return jwt.Parse([]byte(raw), jwt.WithKeySet(v.keySet))
}
