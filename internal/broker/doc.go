// Package broker owns the two broker channels.
//
// Ownership boundary:
// - listener lifecycle for the main and heartbeat channels
// - main-channel session loop: receive, dispatch, respond, completion tracking
// - heartbeat-channel loop: generate, send, pause, stop on revocation
// - admin HTTP surface (health, metrics, status, revocation)
//
// Each channel serves one accepted connection at a time. Attestation,
// key provisioning and heartbeat content are produced by injected
// collaborators; the broker never inspects package bodies.
//
// Lifecycle per channel:
// - accept -> serve -> close -> pause -> accept
package broker
