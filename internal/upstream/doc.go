// Package upstream defines the narrow capability interface the broker
// needs from the mail provider, plus the Gmail implementation of it.
//
// The interface is deliberately small (exchange, refresh, send, list, get,
// attachment, profile) so that the broker core can be tested against a fake
// without Google API plumbing. The Gmail adapter is the only place that
// touches provider-specific error shapes; every failure crossing the
// boundary is translated into one of the typed errors in this package.
package upstream
