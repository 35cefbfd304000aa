package authority

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/trustedbroker/internal/broker"
	"github.com/danmuck/trustedbroker/internal/observability"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const (
	MeasurementLen = 32
	masterKeyLen   = 32
)

var (
	ErrInvalidConfig        = errors.New("authority: invalid config")
	ErrUnsupportedGroup     = errors.New("authority: unsupported extended group id")
	ErrMalformed            = errors.New("authority: malformed message")
	ErrOutOfOrder           = errors.New("authority: message out of order")
	ErrBadMAC               = errors.New("authority: mac mismatch")
	ErrKeyMismatch          = errors.New("authority: ga does not match msg1")
	ErrUntrustedMeasurement = errors.New("authority: measurement not allowed")
	ErrNotAttested          = errors.New("authority: key requested before attestation")
)

// Config controls the simulated authority.
type Config struct {
	SPID                string
	MasterKey           string // hex; empty generates an ephemeral key
	AllowedMeasurements []string
	RequireAttestation  bool
	RevokeAfter         uint64 // beats per stream before revocation, 0 disables
}

func DefaultConfig() Config {
	return Config{
		SPID:               "trustedbroker-sim",
		RequireAttestation: true,
	}
}

// Authority hands out per-session protocol handlers and per-stream heartbeat
// generators, and owns the process-wide revocation flag.
type Authority struct {
	spid               []byte
	masterKey          []byte
	allowed            map[string]struct{}
	requireAttestation bool
	revokeAfter        uint64
	log                zerolog.Logger

	revoked atomic.Bool
	reason  atomic.String
}

var (
	_ broker.HandlerFactory       = (*Authority)(nil)
	_ broker.HeartbeatFactory     = (*Authority)(nil)
	_ broker.RevocationController = (*Authority)(nil)
)

func New(cfg Config) (*Authority, error) {
	a := &Authority{
		spid:               []byte(strings.TrimSpace(cfg.SPID)),
		allowed:            make(map[string]struct{}, len(cfg.AllowedMeasurements)),
		requireAttestation: cfg.RequireAttestation,
		revokeAfter:        cfg.RevokeAfter,
		log:                observability.ComponentLogger("authority"),
	}
	if len(a.spid) == 0 {
		a.spid = []byte(DefaultConfig().SPID)
	}

	if raw := strings.TrimSpace(cfg.MasterKey); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: master_key: %w", ErrInvalidConfig, err)
		}
		if len(key) < masterKeyLen {
			return nil, fmt.Errorf("%w: master_key must be at least %d bytes, got %d", ErrInvalidConfig, masterKeyLen, len(key))
		}
		a.masterKey = key
	} else {
		a.masterKey = make([]byte, masterKeyLen)
		if _, err := rand.Read(a.masterKey); err != nil {
			return nil, fmt.Errorf("authority: generate master key: %w", err)
		}
		a.log.Warn().Msg("no master_key configured; released keys change on every restart")
	}

	for _, m := range cfg.AllowedMeasurements {
		raw, err := hex.DecodeString(strings.TrimSpace(m))
		if err != nil {
			return nil, fmt.Errorf("%w: measurement %q: %w", ErrInvalidConfig, m, err)
		}
		if len(raw) != MeasurementLen {
			return nil, fmt.Errorf("%w: measurement %q must be %d bytes", ErrInvalidConfig, m, MeasurementLen)
		}
		a.allowed[hex.EncodeToString(raw)] = struct{}{}
	}
	if len(a.allowed) == 0 {
		a.log.Warn().Msg("no allowed_measurements configured; any enclave measurement is trusted")
	}

	a.log.Info().
		Str("spid", string(a.spid)).
		Int("allowed_measurements", len(a.allowed)).
		Bool("require_attestation", a.requireAttestation).
		Uint64("revoke_after", a.revokeAfter).
		Msg("authority ready")
	return a, nil
}

// NewSessionHandlers returns a fresh handler set bound to one main-channel session.
func (a *Authority) NewSessionHandlers(sessionID string) broker.Handlers {
	s := newAttestationSession(a, sessionID)
	return broker.Handlers{Msg0: s, Msg1: s, Msg3: s, KeyRequest: s}
}

// NewHeartbeatStream returns a generator for one heartbeat connection.
func (a *Authority) NewHeartbeatStream(streamID string) broker.HeartbeatGenerator {
	return newHeartbeatGenerator(a, streamID)
}

// Revoke marks the authority revoked. It reports whether the state changed.
func (a *Authority) Revoke(reason string) bool {
	a.reason.Store(reason)
	changed := !a.revoked.Swap(true)
	a.log.Warn().Str("reason", reason).Bool("changed", changed).Msg("authority revoked")
	return changed
}

// Reinstate clears a revocation. Streams already ended stay ended.
func (a *Authority) Reinstate() bool {
	changed := a.revoked.Swap(false)
	a.reason.Store("")
	a.log.Info().Bool("changed", changed).Msg("authority reinstated")
	return changed
}

func (a *Authority) Revocation() (bool, string) {
	if !a.revoked.Load() {
		return false, ""
	}
	return true, a.reason.Load()
}

func (a *Authority) measurementAllowed(m []byte) bool {
	if len(a.allowed) == 0 {
		return true
	}
	_, ok := a.allowed[hex.EncodeToString(m)]
	return ok
}
