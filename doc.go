// Package oauth serves an embedded OAuth 2.1 authorization server for an MCP
// endpoint and guards that endpoint with bearer tokens.
//
// The HTTP surface is a thin adapter over server.Server:
//
//	store := memory.New()
//	signer, _ := signing.NewKeySigner()
//	srv, _ := oauth.NewServer(store, signer, lookup, &oauth.ServerConfig{Issuer: issuer}, logger)
//
//	sessions := session.NewManager(session.NewMemoryStore(time.Minute), session.Config{})
//	handler := oauth.NewHandler(srv, sessions, &oauth.Config{Logger: logger})
//
//	mux := http.NewServeMux()
//	handler.RegisterRoutes(mux)
//	mux.Handle("/mcp", oauth.BearerGate(srv, oauth.GateConfig{ResourceMetadataURL: srv.ProtectedResourceMetadataURL()})(mcpHandler))
//
// Handlers downstream of BearerGate read the caller with PrincipalFromContext.
package oauth
