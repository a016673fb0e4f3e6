package auth

import (
	"context"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/config"
)

// userIDClaims are checked in order; the first present claim supplies
// the user identity.
var userIDClaims = []string{"preferred_username", "upn", "email", "sub", "oid"}

// JWTAuthorizer validates RS256 tokens against a JWKS endpoint.
// The key set is cached and refreshed on the configured interval to
// handle key rotation.
type JWTAuthorizer struct {
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
}

// NewJWTAuthorizer creates an authorizer that auto-fetches JWKS from
// the provider. The initial fetch validates the configuration.
func NewJWTAuthorizer(cfg config.JWTAuth) (*JWTAuthorizer, error) {
	ctx := context.Background()

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(cfg.JWKSRefresh)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}

	return &JWTAuthorizer{
		jwksURL:  cfg.JWKSURL,
		cache:    cache,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

// AuthorizeRequest verifies signature, expiration, issuer and audience,
// then extracts the user id from the first present identity claim.
func (a *JWTAuthorizer) AuthorizeRequest(ctx context.Context, authHeader string) (string, error) {
	tokenString, err := bearerToken(authHeader)
	if err != nil {
		return "", err
	}

	keyset, err := a.cache.Get(ctx, a.jwksURL)
	if err != nil {
		return "", fmt.Errorf("failed to get JWKS: %w", err)
	}

	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.audience),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	for _, claim := range userIDClaims {
		if claim == "sub" {
			if sub := token.Subject(); sub != "" {
				return sub, nil
			}
			continue
		}
		if val, ok := token.Get(claim); ok {
			if s, ok := val.(string); ok && s != "" {
				return s, nil
			}
		}
	}

	return "", fmt.Errorf("%w: token carries no user identity claim", ErrNotAuthenticated)
}

var _ Authorizer = (*JWTAuthorizer)(nil)
