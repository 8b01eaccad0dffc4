package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	oauth "github.com/giantswarm/mcp-authserver"
	"github.com/giantswarm/mcp-authserver/users"
)

type whoamiResult struct {
	Subject     string   `json:"subject"`
	ClientID    string   `json:"client_id"`
	Name        string   `json:"name,omitempty"`
	Department  string   `json:"department,omitempty"`
	Scopes      []string `json:"scopes"`
	Authorities []string `json:"authorities"`
}

// newMCPServer builds the tool server mounted behind the bearer gate. Tool
// handlers read the caller from the request context.
func newMCPServer(lookup users.Lookup) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("mcp-authserver", version, mcpserver.WithToolCapabilities(false))

	s.AddTool(
		mcp.NewTool("whoami",
			mcp.WithDescription("Returns the authenticated user and the token's client and scopes"),
		),
		whoamiHandler(lookup),
	)
	s.AddTool(
		mcp.NewTool("list_scopes",
			mcp.WithDescription("Lists the scopes granted to the access token"),
		),
		listScopesHandler,
	)
	return s
}

func whoamiHandler(lookup users.Lookup) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p, ok := oauth.PrincipalFromContext(ctx)
		if !ok {
			return mcp.NewToolResultError("not authenticated"), nil
		}

		result := whoamiResult{
			Subject:     p.Subject,
			ClientID:    p.ClientID,
			Scopes:      p.Scopes,
			Authorities: p.Authorities,
		}
		user, err := lookup.FindByEmail(ctx, p.Subject)
		switch {
		case err == nil:
			result.Name = user.Name
			result.Department = user.Department
		case !errors.Is(err, users.ErrUserNotFound):
			return nil, err
		}

		return jsonResult(result)
	}
}

func listScopesHandler(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, ok := oauth.PrincipalFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("not authenticated"), nil
	}
	scopes := p.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return jsonResult(map[string][]string{"scopes": scopes})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
