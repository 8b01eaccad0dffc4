// Package server implements the authorization server logic behind the HTTP
// handlers: dynamic client registration, the authorization code grant with
// PKCE, refresh token rotation, access token validation and discovery
// metadata.
//
// Stores, the token signer and the user lookup are injected:
//
//	store := memory.New()
//	signer, _ := signing.NewKeySigner()
//	seed, _ := users.SeedUsers()
//
//	srv, err := server.New(store, store, store, signer, users.NewMemoryStore(seed...), &server.Config{
//		Issuer: "https://auth.example.com",
//	}, logger)
//
// Operations return *Error for every failure a client should see. Anything
// else is an internal fault and is reported as server_error.
package server
