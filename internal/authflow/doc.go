// Package authflow manages the OAuth authorization-code sequence against
// the upstream provider. Each attempt moves through a small state
// machine: issued, then either exchanged exactly once or abandoned when
// its one-time state token ages out. Exchanged credentials are persisted
// through the vault under a freshly generated principal id.
package authflow
