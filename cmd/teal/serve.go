package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/auth"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/catalog"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/config"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/handler"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/kernel"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/llm"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/mcp"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/plugins/mathplugin"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/server"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/task"
)

// serve wires the persistence backends, auth, MCP registry, LLM
// provider and handler, then runs the HTTP server until ctx is done.
func serve(ctx context.Context, cfg *config.Config) error {
	taskStore, sessionStore, authStorage, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}

	authorizer, err := auth.NewAuthorizer(cfg.Auth)
	if err != nil {
		return err
	}

	cat, err := catalog.NewFromConfig(&cfg.Spec.Agent)
	if err != nil {
		return err
	}

	resolver := auth.NewResolver(authStorage, cfg.OAuth)
	registry := mcp.NewRegistry(sessionStore, resolver, cat, mcp.StdDialer{}, cfg.Spec.Agent.MCPServers)
	provider := llm.NewOpenAIProvider(&cfg.Spec.Agent)

	natives := []kernel.Plugin{mathplugin.New()}

	h := handler.New(cfg, taskStore, registry, resolver, provider, natives, cat)
	srv := server.New(cfg, h, authorizer)

	slog.Info("agent ready",
		"agent", cfg.Spec.Agent.Name,
		"model", provider.ModelName(),
		"mcp_servers", len(cfg.Spec.Agent.MCPServers),
		"persistence", cfg.Persist.Backend)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}

// buildStores selects the persistence backend for tasks, MCP session
// state and OAuth tokens.
func buildStores(ctx context.Context, cfg *config.Config) (task.Store, mcp.SessionStore, auth.Storage, error) {
	switch cfg.Persist.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Persist.Redis.Addr,
			Password: cfg.Persist.Redis.Password,
			DB:       cfg.Persist.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Persist.Redis.Addr, err)
		}
		return task.NewRedisStore(client),
			mcp.NewRedisSessionStore(client, cfg.Persist.SessionTTL),
			auth.NewRedisStorage(client, cfg.Persist.AuthTTL),
			nil

	default:
		return task.NewInMemoryStore(),
			mcp.NewInMemorySessionStore(),
			auth.NewInMemoryStorage(),
			nil
	}
}
