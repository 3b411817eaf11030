// Package memzero wipes key material that is no longer needed. Wiping is
// best-effort: the Go runtime may have copied a buffer before it is zeroed.
package memzero
