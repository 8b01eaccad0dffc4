// Package util holds small helpers shared by the authorization server packages:
// log-safe truncation, URL normalization for audience checks, redirect URI
// construction and scope parsing.
package util
