// Package signing holds the process-lifetime RSA key used to sign and verify
// access tokens issued by the authorization server, and publishes its public
// half as a JWKS document.
//
// Keys are generated in memory at start-up. Tokens signed by a previous
// process cannot be verified after a restart.
package signing
