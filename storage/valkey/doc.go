// Package valkey provides a Valkey-backed storage.Store.
//
// Valkey is wire-compatible with Redis, so the store also works against a
// Redis server. It lets several authorization server replicas share clients,
// authorization codes and refresh tokens, and keeps them across restarts.
//
// # Key Schema
//
// All keys carry a configurable prefix (default "mcp:"):
//
//	{prefix}client:{clientID}   -> JSON(storage.Client)
//	{prefix}code:{code}         -> JSON(storage.AuthorizationCode), TTL past ExpiresAt
//	{prefix}refresh:{token}     -> JSON(refresh entry), TTL past ExpiresAt when set
//
// # Atomic Operations
//
// Authorization codes are redeemed with GETDEL, so exactly one concurrent
// caller gets the code. Refresh tokens are redeemed with a Lua script that
// reads, checks expiry and deletes in one step.
//
// Keys outlive their logical expiry by a short grace period so that a late
// redemption is reported as expired rather than unknown.
//
// # Usage
//
//	store, err := valkey.New(valkey.Config{Address: "localhost:6379"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
package valkey
