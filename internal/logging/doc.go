// Package logging provides slog construction and shared attribute
// helpers so log fields stay consistently named across the broker.
// Principal ids and tokens are never logged verbatim; use the hashing
// and masking helpers here.
package logging
