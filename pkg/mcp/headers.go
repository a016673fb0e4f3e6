package mcp

import (
	"context"
	"os"
	"strings"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/auth"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/config"
)

// resolveHeaders builds the request headers for one server and user.
// Resolution happens at call time, every time: the token stored at
// discovery may have been refreshed or invalidated since.
//
// Servers with an auth_server get a per-user bearer token from the
// resolver. Otherwise static headers apply, minus any Authorization
// entry. The optional user-context header is injected last.
func resolveHeaders(ctx context.Context, resolver *auth.Resolver, server *config.MCPServer, userID string) (map[string]string, error) {
	headers := make(map[string]string, len(server.Headers)+2)

	if server.AuthServer != "" {
		token, err := resolver.BearerToken(ctx, server, userID)
		if err != nil {
			return nil, err
		}
		headers["Authorization"] = "Bearer " + token
	} else {
		for k, v := range server.Headers {
			if strings.EqualFold(k, "Authorization") {
				continue
			}
			headers[k] = v
		}
	}

	if server.UserIDHeader != "" {
		value := userID
		if server.UserIDSource == config.UserIDFromEnv {
			value = os.Getenv(server.UserIDEnv)
		}
		if value != "" {
			headers[server.UserIDHeader] = value
		}
	}

	return headers, nil
}
