// Package ratelimit implements the per-principal sliding-window cap
// applied to sensitive operations. State is in-memory and per-process;
// windows are created lazily and evicted entry by entry as they age out.
package ratelimit
