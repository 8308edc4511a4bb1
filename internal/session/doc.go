// Package session issues and verifies the broker's own bearer credential,
// an HS256-signed JWT carrying a principal id, an absolute expiry and an
// optional network-origin allow-list. Tokens are stateless: there is no
// revocation list, and validity ends only at the embedded expiry.
package session
