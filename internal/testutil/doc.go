// Package testutil provides fixtures shared by the package tests: a
// controllable clock, PKCE pairs, test users, clients and codes.
package testutil
