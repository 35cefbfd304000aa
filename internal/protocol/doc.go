// Package protocol owns the broker wire contract.
//
// Ownership boundary:
// - frame: fixed-size package framing (PkgSize bytes per message)
// - tlv: body field primitives
// - schema: per-message-type body requirements
// - session: channel timing and retry defaults
package protocol
