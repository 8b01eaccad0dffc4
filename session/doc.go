// Package session keeps the browser login session between the authorization
// request, the login form and the callback: who signed in and which
// authorization request is waiting for them.
//
// Sessions are keyed by a random id carried in an HttpOnly cookie. The data
// lives in a Store: MemoryStore for a single process, RedisStore when several
// replicas share logins.
package session
