// Package server exposes the broker over HTTP: a chi router with bearer
// session authentication, client-origin extraction, a JSON error
// envelope, health endpoints and a dedicated Prometheus metrics server.
package server
