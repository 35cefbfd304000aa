// Package authority is a simulated trust authority that backs the broker's
// protocol handlers and heartbeat generator.
//
// Attestation runs an X25519 key exchange per session, checks a MAC'd quote
// whose first 32 bytes are an enclave measurement against an allowlist, and
// then releases keys derived from a master secret sealed with
// ChaCha20-Poly1305 under the session key. Nothing here talks to real SGX
// hardware or an attestation service.
//
// Heartbeat streams report "ok" until the authority is revoked (globally or
// by a per-stream beat budget), at which point the stream carries one final
// "revoked" beat.
package authority
