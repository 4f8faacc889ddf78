// Package resource limits the resources used by background column jobs such
// as snapshot backups and restores.
//
// A Controller bounds three things:
//
//   - concurrent jobs (a weighted semaphore)
//   - buffered frame memory (a non-blocking weighted semaphore)
//   - IO throughput in bytes per second (a token bucket)
//
// A nil *Controller imposes no limits, so callers can pass one through
// unconditionally.
package resource
