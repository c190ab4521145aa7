// Package auth verifies bearer JWTs (HS256 or RS256 with a PEM public key)
// and guards record routes by scope.
//
// Tokens carry "sub" and a "scopes" array; "records:read" allows queries
// and "records:write" allows ingest, update and delete.
package auth
