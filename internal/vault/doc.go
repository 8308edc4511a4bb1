// Package vault stores upstream credentials encrypted at rest, one
// XChaCha20-Poly1305 sealed record per principal. The symmetric key is
// process-wide state: losing it invalidates every stored record.
package vault
