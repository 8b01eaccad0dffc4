package oauth

import (
	"log/slog"

	"github.com/giantswarm/mcp-authserver/server"
	"github.com/giantswarm/mcp-authserver/storage"
	"github.com/giantswarm/mcp-authserver/users"
)

// Server is the authorization server the handlers delegate to.
type Server = server.Server

// ServerConfig configures a Server.
type ServerConfig = server.Config

// NewServer creates a server keeping clients, codes and refresh tokens in one
// store. Use server.New to split them across backends.
func NewServer(store storage.Store, signer server.TokenSigner, lookup users.Lookup, config *ServerConfig, logger *slog.Logger) (*Server, error) {
	return server.New(store, store, store, signer, lookup, config, logger)
}
