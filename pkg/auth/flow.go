package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/config"
)

// ErrFlowNotFound is returned when a flow id is unknown or expired.
var ErrFlowNotFound = errors.New("authorization flow not found")

// flowTTL bounds how long a started flow stays completable.
const flowTTL = 15 * time.Minute

// Flow is a pending PKCE authorization flow for one (user, server).
type Flow struct {
	ID         string
	UserID     string
	Server     string
	AuthServer string
	Scopes     []string
	Resource   string

	verifier  string
	createdAt time.Time
}

// FlowStore holds pending flows in memory. Flows are short-lived and
// node-local: the OAuth callback returns to the node that started the
// flow via the redirect URL.
type FlowStore struct {
	mu    sync.Mutex
	flows map[string]*Flow
}

// NewFlowStore creates an empty flow store.
func NewFlowStore() *FlowStore {
	return &FlowStore{flows: make(map[string]*Flow)}
}

func (s *FlowStore) put(f *Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpired()
	s.flows[f.ID] = f
}

func (s *FlowStore) take(id string) (*Flow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpired()
	f, ok := s.flows[id]
	if ok {
		delete(s.flows, id)
	}
	return f, ok
}

func (s *FlowStore) evictExpired() {
	cutoff := time.Now().Add(-flowTTL)
	for id, f := range s.flows {
		if f.createdAt.Before(cutoff) {
			delete(s.flows, id)
		}
	}
}

// BeginFlow starts a PKCE authorization flow and returns the
// authorization URL the user must visit. The resource URI (the MCP
// server endpoint) is bound into the request so the authorization
// server can emit a resource-bound token.
func (r *Resolver) BeginFlow(userID string, server *config.MCPServer) (*Flow, string) {
	verifier := oauth2.GenerateVerifier()

	flow := &Flow{
		ID:         uuid.NewString(),
		UserID:     userID,
		Server:     server.Name,
		AuthServer: server.AuthServer,
		Scopes:     server.Scopes,
		Resource:   server.URL,
		verifier:   verifier,
		createdAt:  time.Now(),
	}
	r.flows.put(flow)

	conf := r.oauthConfig(server)
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if flow.Resource != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", flow.Resource))
	}
	authURL := conf.AuthCodeURL(flow.ID, opts...)

	return flow, authURL
}

// CompleteFlow exchanges the authorization code for a token and stores
// it under the composite key. The caller must have re-authenticated the
// user: a flow started by one user is never completable by another.
// Returns the server name so callers can clear the user's discovery
// cache.
func (r *Resolver) CompleteFlow(ctx context.Context, userID, flowID, code string) (string, error) {
	flow, ok := r.flows.take(flowID)
	if !ok {
		return "", ErrFlowNotFound
	}
	if flow.UserID != userID {
		return "", fmt.Errorf("%w: flow owner mismatch", ErrFlowNotFound)
	}

	conf := &oauth2.Config{
		ClientID:    r.clientID,
		RedirectURL: r.redirectURL,
		Endpoint:    r.endpoint(flow.AuthServer),
		Scopes:      flow.Scopes,
	}

	opts := []oauth2.AuthCodeOption{oauth2.VerifierOption(flow.verifier)}
	if flow.Resource != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", flow.Resource))
	}

	token, err := conf.Exchange(r.httpContext(ctx), code, opts...)
	if err != nil {
		return "", fmt.Errorf("code exchange against %s failed: %w", flow.AuthServer, err)
	}

	key := CompositeKey(flow.AuthServer, flow.Scopes)
	if err := r.storage.Store(ctx, userID, key, &AuthData{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
		Scopes:       flow.Scopes,
	}); err != nil {
		return "", err
	}

	return flow.Server, nil
}
