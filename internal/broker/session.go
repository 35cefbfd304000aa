package broker

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/danmuck/trustedbroker/internal/observability"
	"github.com/danmuck/trustedbroker/internal/protocol/frame"
	"github.com/danmuck/trustedbroker/internal/protocol/session"
	"github.com/rs/zerolog"
)

const (
	ChannelMain      = "main"
	ChannelHeartbeat = "heartbeat"
)

// SessionState is the main-channel state machine position.
type SessionState int

const (
	StateAwaitingPackage SessionState = iota
	StateComplete
	StateAbandoned
)

func (s SessionState) String() string {
	switch s {
	case StateAwaitingPackage:
		return "awaiting_package"
	case StateComplete:
		return "complete"
	case StateAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionResult summarizes one finished session.
type SessionResult struct {
	ID              string
	RemoteAddr      string
	State           SessionState
	AttestationDone bool
	KeyExchangeDone bool
	Received        int
	Sent            int
	Duration        time.Duration
	Err             error
}

// Session is the mutable state of one accepted main-channel connection.
// It is owned by the goroutine running it.
type Session struct {
	ID              string
	AttestationDone bool
	KeyExchangeDone bool

	conn     net.Conn
	handlers Handlers
	cfg      session.Config
	log      zerolog.Logger
	state    SessionState
	received int
	sent     int
}

func NewSession(id string, conn net.Conn, handlers Handlers, cfg session.Config) *Session {
	return &Session{
		ID:       id,
		conn:     conn,
		handlers: handlers,
		cfg:      cfg,
		state:    StateAwaitingPackage,
		log: observability.ComponentLogger("broker.session").With().
			Str("session_id", id).
			Str("remote", remoteAddr(conn)).
			Logger(),
	}
}

func (s *Session) State() SessionState {
	return s.state
}

// Complete reports whether both the attestation and key exchange finished.
func (s *Session) Complete() bool {
	return s.AttestationDone && s.KeyExchangeDone
}

// Run drives the session until it completes or is abandoned. It does not
// close the connection.
func (s *Session) Run() SessionResult {
	started := time.Now()
	var err error
	if err = s.handlers.Validate(); err != nil {
		s.state = StateAbandoned
	}
	for err == nil && !s.Complete() {
		err = s.step()
	}
	if err != nil {
		s.state = StateAbandoned
		if errors.Is(err, io.EOF) {
			s.log.Warn().Err(err).Msg("session peer closed before completion")
		} else {
			s.log.Error().Err(err).Msg("session abandoned")
		}
	} else {
		s.state = StateComplete
		s.log.Info().Int("received", s.received).Int("sent", s.sent).Msg("session complete")
	}
	return SessionResult{
		ID:              s.ID,
		RemoteAddr:      remoteAddr(s.conn),
		State:           s.state,
		AttestationDone: s.AttestationDone,
		KeyExchangeDone: s.KeyExchangeDone,
		Received:        s.received,
		Sent:            s.sent,
		Duration:        time.Since(started),
		Err:             err,
	}
}

// step receives one package and dispatches it.
func (s *Session) step() error {
	pkg, err := s.receive()
	if err != nil {
		return err
	}
	s.log.Debug().Stringer("type", pkg.Type).Uint32("size", pkg.Size()).Msg("session received package")
	s.log.Trace().Str("body", hex.EncodeToString(pkg.Body)).Msg("session package body")

	switch pkg.Type {
	case frame.TypeRAMsg0:
		if err := s.handlers.Msg0.ProcessMsg0(pkg.Body); err != nil {
			return &HandlerError{Type: pkg.Type, Err: err}
		}
		return nil
	case frame.TypeRAMsg1:
		resp, err := s.handlers.Msg1.ProcessMsg1(pkg.Body)
		if err != nil {
			return &HandlerError{Type: pkg.Type, Err: err}
		}
		return s.send(resp)
	case frame.TypeRAMsg3:
		resp, err := s.handlers.Msg3.ProcessMsg3(pkg.Body)
		if err != nil {
			return &HandlerError{Type: pkg.Type, Err: err}
		}
		if err := s.send(resp); err != nil {
			return err
		}
		s.AttestationDone = true
		return nil
	case frame.TypeKeyRequest:
		resp, err := s.handlers.KeyRequest.ProcessKeyRequest(pkg.Body)
		if err != nil {
			return &HandlerError{Type: pkg.Type, Err: err}
		}
		if err := s.send(resp); err != nil {
			return err
		}
		s.KeyExchangeDone = true
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownPackageType, pkg.Type)
	}
}

func (s *Session) receive() (frame.Package, error) {
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	pkg, err := frame.ReadPackage(s.conn)
	if err != nil {
		return frame.Package{}, fmt.Errorf("%w: %w", ErrReceive, err)
	}
	s.received++
	observability.RecordPackage(ChannelMain, "in", pkg.Type.String())
	return pkg, nil
}

func (s *Session) send(pkg frame.Package) error {
	if !pkg.Type.Known() {
		return fmt.Errorf("%w: response %s", ErrUnknownPackageType, pkg.Type)
	}
	if err := writePackage(s.conn, pkg, s.cfg.WriteTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSend, pkg.Type, err)
	}
	s.sent++
	observability.RecordPackage(ChannelMain, "out", pkg.Type.String())
	s.log.Debug().Stringer("type", pkg.Type).Uint32("size", pkg.Size()).Msg("session sent package")
	return nil
}

func writePackage(conn net.Conn, pkg frame.Package, timeout time.Duration) error {
	if timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return frame.WritePackage(conn, pkg)
}

func remoteAddr(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}
