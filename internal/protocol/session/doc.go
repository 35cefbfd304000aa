// Package session owns per-channel timing for broker connections.
//
// Ownership boundary:
// - heartbeat interval and post-connection pause
// - optional per-frame read/write deadlines
// - accept retry backoff
package session
