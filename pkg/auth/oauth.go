package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/config"
)

// AuthRequiredError signals that no usable token exists for a server
// and the user must complete an OAuth flow. Not an error surface-wise:
// the handler converts collected AuthRequiredError values into an
// AuthChallengeResponse.
type AuthRequiredError struct {
	Server     string
	AuthServer string
	Scopes     []string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("authorization required for server %s", e.Server)
}

// Resolver turns an MCP server declaration plus a user identity into
// request headers, refreshing or challenging as needed.
type Resolver struct {
	storage     Storage
	client      *http.Client
	clientID    string
	redirectURL string
	margin      time.Duration

	// refresh deduplicates concurrent refreshes per (user, key).
	refresh singleflight.Group

	flows *FlowStore
}

// NewResolver creates an OAuth resolver over the given token storage.
func NewResolver(storage Storage, opts config.OAuthOpts) *Resolver {
	return &Resolver{
		storage:     storage,
		client:      &http.Client{Timeout: opts.Timeout},
		clientID:    opts.ClientID,
		redirectURL: opts.RedirectURL,
		margin:      opts.ExpirySafetyMargin,
		flows:       NewFlowStore(),
	}
}

// endpoint maps an authorization server base URL to its OAuth 2.1
// endpoints.
func (r *Resolver) endpoint(authServer string) oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:  authServer + "/authorize",
		TokenURL: authServer + "/token",
	}
}

func (r *Resolver) oauthConfig(server *config.MCPServer) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    r.clientID,
		RedirectURL: r.redirectURL,
		Endpoint:    r.endpoint(server.AuthServer),
		Scopes:      server.Scopes,
	}
}

// httpContext binds the resolver's bounded HTTP client into the oauth2
// library's transport lookup.
func (r *Resolver) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, r.client)
}

// BearerToken resolves an access token for (server, user), refreshing
// an expired token when a refresh token is available. Resolution
// happens at call time, every time: a token may have been refreshed or
// invalidated since discovery.
func (r *Resolver) BearerToken(ctx context.Context, server *config.MCPServer, userID string) (string, error) {
	key := CompositeKey(server.AuthServer, server.Scopes)

	data, err := r.storage.Retrieve(ctx, userID, key)
	if errors.Is(err, ErrAuthDataNotFound) {
		return "", &AuthRequiredError{Server: server.Name, AuthServer: server.AuthServer, Scopes: server.Scopes}
	}
	if err != nil {
		return "", err
	}

	if time.Now().Before(data.ExpiresAt.Add(-r.margin)) {
		return data.AccessToken, nil
	}

	if data.RefreshToken == "" {
		_ = r.storage.Delete(ctx, userID, key)
		return "", &AuthRequiredError{Server: server.Name, AuthServer: server.AuthServer, Scopes: server.Scopes}
	}

	refreshed, err := r.refreshToken(ctx, server, userID, key, data)
	if err != nil {
		slog.Warn("OAuth token refresh failed",
			"server", server.Name,
			"user", userID,
			"error", err)
		_ = r.storage.Delete(ctx, userID, key)
		return "", &AuthRequiredError{Server: server.Name, AuthServer: server.AuthServer, Scopes: server.Scopes}
	}

	return refreshed.AccessToken, nil
}

// refreshToken exchanges the refresh token, deduplicating concurrent
// attempts for the same (user, key).
func (r *Resolver) refreshToken(ctx context.Context, server *config.MCPServer, userID, key string, data *AuthData) (*AuthData, error) {
	result, err, _ := r.refresh.Do(userID+"|"+key, func() (any, error) {
		conf := r.oauthConfig(server)

		src := conf.TokenSource(r.httpContext(ctx), &oauth2.Token{RefreshToken: data.RefreshToken})
		token, err := src.Token()
		if err != nil {
			return nil, fmt.Errorf("refresh against %s failed: %w", server.AuthServer, err)
		}

		fresh := &AuthData{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			ExpiresAt:    token.Expiry,
			Scopes:       server.Scopes,
		}
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = data.RefreshToken
		}
		if err := r.storage.Store(ctx, userID, key, fresh); err != nil {
			return nil, err
		}
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*AuthData), nil
}

// StoreToken persists a freshly obtained token under the composite key.
func (r *Resolver) StoreToken(ctx context.Context, userID string, server *config.MCPServer, token *oauth2.Token) error {
	key := CompositeKey(server.AuthServer, server.Scopes)
	return r.storage.Store(ctx, userID, key, &AuthData{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
		Scopes:       server.Scopes,
	})
}
