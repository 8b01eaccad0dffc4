// Package users resolves login credentials for the authorization server.
//
// A Lookup finds a user by email. CheckCredentials verifies the submitted
// password against the stored bcrypt hash. Three lookups are provided:
//
//   - MemoryStore, usually filled with SeedUsers for demos and tests
//   - FileStore, a JSON file that is reloaded whenever it changes on disk
//   - SQLStore, a MySQL table queried on demand
//
// Emails are matched case-insensitively.
package users
