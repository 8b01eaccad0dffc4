// Package memory provides an in-memory implementation of storage.Store.
//
// Clients, authorization codes and refresh tokens live in maps guarded by a
// sync.RWMutex. Consume operations delete under the write lock, so a code or
// refresh token can be redeemed at most once even under concurrent requests.
// A background goroutine sweeps codes and refresh tokens whose ExpiresAt has
// passed.
//
// State is lost on restart. Use storage/valkey for persistence or when running
// more than one replica.
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := server.New(store, store, store, signer, users, logger, cfg)
package memory
