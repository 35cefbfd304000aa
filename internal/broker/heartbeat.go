package broker

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/danmuck/trustedbroker/internal/observability"
	"github.com/danmuck/trustedbroker/internal/protocol/session"
	"github.com/rs/zerolog"
)

// HeartbeatResult summarizes one finished heartbeat stream.
type HeartbeatResult struct {
	ID         string
	RemoteAddr string
	Sent       int
	Revoked    bool
	Err        error
}

func (r HeartbeatResult) Outcome() string {
	switch {
	case r.Err != nil:
		return "abandoned"
	case r.Revoked:
		return "revoked"
	default:
		return "stopped"
	}
}

// HeartbeatStream is the mutable state of one accepted heartbeat connection.
type HeartbeatStream struct {
	ID       string
	Finished bool

	conn     net.Conn
	gen      HeartbeatGenerator
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
	sent     int
}

func NewHeartbeatStream(id string, conn net.Conn, gen HeartbeatGenerator, cfg session.Config) *HeartbeatStream {
	return &HeartbeatStream{
		ID:       id,
		conn:     conn,
		gen:      gen,
		interval: cfg.HeartbeatInterval,
		timeout:  cfg.WriteTimeout,
		log: observability.ComponentLogger("broker.heartbeat").With().
			Str("stream_id", id).
			Str("remote", remoteAddr(conn)).
			Logger(),
	}
}

// Run sends heartbeats until the generator marks one final, an error occurs,
// or ctx ends. The terminal package is sent before the loop exits; nothing
// follows it. Run does not close the connection.
func (h *HeartbeatStream) Run(ctx context.Context) HeartbeatResult {
	err := h.loop(ctx)
	if err != nil {
		h.log.Error().Err(err).Int("sent", h.sent).Msg("heartbeat stream abandoned")
	} else if h.Finished {
		h.log.Warn().Int("sent", h.sent).Msg("heartbeat stream ended with revocation")
	} else {
		h.log.Info().Int("sent", h.sent).Msg("heartbeat stream stopped")
	}
	return HeartbeatResult{
		ID:         h.ID,
		RemoteAddr: remoteAddr(h.conn),
		Sent:       h.sent,
		Revoked:    h.Finished && err == nil,
		Err:        err,
	}
}

func (h *HeartbeatStream) loop(ctx context.Context) error {
	for !h.Finished {
		if h.gen == nil {
			return fmt.Errorf("%w: no generator", ErrGenerator)
		}
		pkg, final, err := h.gen.GenerateHeartbeat()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrGenerator, err)
		}
		if !pkg.Type.Known() {
			return fmt.Errorf("%w: heartbeat %s", ErrUnknownPackageType, pkg.Type)
		}
		if final {
			h.log.Warn().Msg("last heartbeat message (revocation)")
		}
		h.log.Trace().Str("body", hex.EncodeToString(pkg.Body)).Msg("heartbeat package body")
		if err := writePackage(h.conn, pkg, h.timeout); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSend, pkg.Type, err)
		}
		h.sent++
		observability.RecordPackage(ChannelHeartbeat, "out", pkg.Type.String())
		if final {
			h.Finished = true
			return nil
		}
		if err := sleepContext(ctx, h.interval); err != nil {
			return nil
		}
	}
	return nil
}

// sleepContext waits for d or until ctx ends, returning ctx.Err() in the latter case.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
