// Package auth provides platform authentication (JWT against a JWKS
// endpoint) and downstream OAuth 2.1 brokering for MCP servers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/config"
)

// ErrNotAuthenticated is returned when the platform token is missing,
// malformed or fails verification.
var ErrNotAuthenticated = errors.New("not authenticated")

// Authorizer verifies the caller's platform credentials and extracts
// the user identity.
type Authorizer interface {
	// AuthorizeRequest validates the Authorization header value and
	// returns the authenticated user id.
	AuthorizeRequest(ctx context.Context, authHeader string) (string, error)
}

// NewAuthorizer selects the authorizer implementation from config.
func NewAuthorizer(cfg config.Auth) (Authorizer, error) {
	switch cfg.Authorizer {
	case "jwt":
		return NewJWTAuthorizer(cfg.JWT)
	case "static":
		return NewStaticAuthorizer(), nil
	default:
		return nil, fmt.Errorf("unknown authorizer type %q", cfg.Authorizer)
	}
}

// bearerToken strips the Bearer prefix, returning ErrNotAuthenticated
// for missing or malformed headers.
func bearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", fmt.Errorf("%w: missing authorization header", ErrNotAuthenticated)
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader || token == "" {
		return "", fmt.Errorf("%w: expected Bearer token", ErrNotAuthenticated)
	}
	return token, nil
}

// StaticAuthorizer treats the bearer value itself as the user id.
// Test and development use only.
type StaticAuthorizer struct{}

// NewStaticAuthorizer creates a pass-through authorizer.
func NewStaticAuthorizer() *StaticAuthorizer {
	return &StaticAuthorizer{}
}

func (a *StaticAuthorizer) AuthorizeRequest(ctx context.Context, authHeader string) (string, error) {
	return bearerToken(authHeader)
}

var _ Authorizer = (*StaticAuthorizer)(nil)
