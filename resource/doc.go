// Package resource verifies access tokens issued by a remote authorization
// server.
//
// A Verifier discovers the issuer's metadata and JWKS on first use and keeps
// the key set refreshed in the background. It satisfies oauth.TokenVerifier,
// so an MCP server can sit behind oauth.BearerGate without sharing the
// authorization server's signing key:
//
//	verifier, err := resource.NewVerifier(resource.Config{Issuer: "https://auth.example.com"})
//	if err != nil {
//		return err
//	}
//	defer verifier.Close()
//	gate := oauth.BearerGate(verifier, oauth.GateConfig{ResourceMetadataURL: metadataURL})
package resource
