package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/auth"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/catalog"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/config"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/task"
)

// ChallengeError aggregates the auth challenges collected during one
// discovery pass. The handler converts it into an auth-challenge
// response instead of a failure.
type ChallengeError struct {
	Challenges []*auth.AuthRequiredError
}

func (e *ChallengeError) Error() string {
	names := make([]string, len(e.Challenges))
	for i, c := range e.Challenges {
		names[i] = c.Server
	}
	return fmt.Sprintf("authorization required for servers: %s", strings.Join(names, ", "))
}

// Registry materializes per-user MCP tool sets and invokes tools over
// ephemeral connections. Discovery is keyed by (user, session) so
// tenants never see each other's tool lists.
type Registry struct {
	store    SessionStore
	resolver *auth.Resolver
	catalog  *catalog.Catalog
	dialer   Dialer
	servers  []config.MCPServer

	// locks serializes discovery per (user, session).
	locks *task.KeyedMutex
}

// NewRegistry creates a registry over the given session store.
func NewRegistry(store SessionStore, resolver *auth.Resolver, cat *catalog.Catalog, dialer Dialer, servers []config.MCPServer) *Registry {
	return &Registry{
		store:    store,
		resolver: resolver,
		catalog:  cat,
		dialer:   dialer,
		servers:  servers,
		locks:    task.NewKeyedMutex(),
	}
}

func (r *Registry) serverByName(name string) *config.MCPServer {
	for i := range r.servers {
		if r.servers[i].Name == name {
			return &r.servers[i]
		}
	}
	return nil
}

// EnsureDiscovery materializes the user's tool set for the session if
// not already done. Concurrent first-requests for the same (user,
// session) run discovery once; the double check inside the lock makes
// the losers cheap.
//
// Each server is discovered independently; one server failing does not
// hide the others. Auth challenges are collected and returned together
// as a ChallengeError once all servers have been attempted.
func (r *Registry) EnsureDiscovery(ctx context.Context, userID, sessionID string) (*SessionState, error) {
	state, err := r.store.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if state != nil && state.DiscoveryComplete {
		r.registerCatalogEntries(state)
		return state, nil
	}

	unlock := r.locks.Lock(userID + ":" + sessionID)
	defer unlock()

	state, err = r.store.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if state != nil && state.DiscoveryComplete {
		r.registerCatalogEntries(state)
		return state, nil
	}

	state = NewSessionState()
	var challenges []*auth.AuthRequiredError

	for i := range r.servers {
		server := &r.servers[i]

		tools, sessionIDFromServer, err := r.discoverServer(ctx, server, userID)
		if err != nil {
			var authErr *auth.AuthRequiredError
			if errors.As(err, &authErr) {
				challenges = append(challenges, authErr)
				continue
			}
			slog.Warn("mcp discovery failed",
				"server", server.Name,
				"user", userID,
				"error", err)
			continue
		}

		state.Servers[server.Name] = ServerState{
			Tools:        tools,
			MCPSessionID: sessionIDFromServer,
		}
	}

	if len(challenges) > 0 {
		return nil, &ChallengeError{Challenges: challenges}
	}

	state.DiscoveryComplete = true
	if err := r.store.Put(ctx, userID, sessionID, state); err != nil {
		return nil, err
	}
	r.registerCatalogEntries(state)
	return state, nil
}

// discoverServer opens one ephemeral connection, lists tools and
// derives governance. No connection survives the call.
func (r *Registry) discoverServer(ctx context.Context, server *config.MCPServer, userID string) ([]ToolMeta, string, error) {
	headers, err := resolveHeaders(ctx, r.resolver, server, userID)
	if err != nil {
		return nil, "", err
	}

	conn, err := r.dialer.Dial(ctx, server, headers)
	if err != nil {
		return nil, "", err
	}
	defer conn.Close()

	infos, err := conn.ListTools(ctx)
	if err != nil {
		return nil, "", err
	}

	tools := make([]ToolMeta, 0, len(infos))
	for _, info := range infos {
		var override *config.GovernanceOverride
		if o, ok := server.ToolGovernanceOverrides[info.Name]; ok {
			override = &o
		}

		governance := catalog.DeriveGovernance(info.Name, info.Description, catalog.Annotations{
			ReadOnlyHint:    info.ReadOnlyHint,
			DestructiveHint: info.DestructiveHint,
		}, server.TrustLevel, override)

		tools = append(tools, ToolMeta{
			ServerName:      server.Name,
			Name:            info.Name,
			Description:     info.Description,
			InputSchema:     info.InputSchema,
			ReadOnlyHint:    info.ReadOnlyHint,
			DestructiveHint: info.DestructiveHint,
			Governance:      governance,
		})
	}

	return tools, conn.SessionID(), nil
}

// registerCatalogEntries publishes governance entries for every
// materialized tool. Function names are prefixed with the server name
// so identically named tools on different servers stay distinct.
func (r *Registry) registerCatalogEntries(state *SessionState) {
	for serverName, server := range state.Servers {
		pluginID := catalog.MCPPluginID(serverName)
		cfg := r.serverByName(serverName)
		for _, tool := range server.Tools {
			entry := &catalog.Entry{
				ToolID:      catalog.ToolID(pluginID, serverName+"_"+tool.Name),
				PluginID:    pluginID,
				Name:        tool.Name,
				Description: tool.Description,
				Governance:  tool.Governance,
			}
			if cfg != nil {
				entry.AuthServer = cfg.AuthServer
			}
			r.catalog.Register(entry)
		}
	}
}

// Invoke executes one tool call over a fresh ephemeral connection.
// Auth headers are resolved for this user at call time. The tool-level
// isError flag is preserved so the agent loop can hand the failure back
// to the LLM instead of aborting.
func (r *Registry) Invoke(ctx context.Context, serverName, userID, toolName string, args map[string]any) (string, bool, error) {
	server := r.serverByName(serverName)
	if server == nil {
		return "", false, fmt.Errorf("unknown mcp server %q", serverName)
	}

	headers, err := resolveHeaders(ctx, r.resolver, server, userID)
	if err != nil {
		return "", false, err
	}

	ctx, cancel := context.WithTimeout(ctx, server.Timeout)
	defer cancel()

	conn, err := r.dialer.Dial(ctx, server, headers)
	if err != nil {
		return "", false, err
	}
	defer conn.Close()

	return conn.CallTool(ctx, toolName, args)
}

// ToolsFor returns the materialized tool metadata for one session.
func (r *Registry) ToolsFor(ctx context.Context, userID, sessionID string) (map[string][]ToolMeta, error) {
	state, err := r.store.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}
	result := make(map[string][]ToolMeta, len(state.Servers))
	for name, server := range state.Servers {
		result[name] = server.Tools
	}
	return result, nil
}

// ClearUser drops the user's discovery cache. Called after an OAuth
// flow completes so the next request re-discovers with the new token.
func (r *Registry) ClearUser(ctx context.Context, userID string) error {
	return r.store.ClearUser(ctx, userID)
}
