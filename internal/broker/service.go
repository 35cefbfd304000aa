package broker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/trustedbroker/internal/observability"
	"github.com/danmuck/trustedbroker/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// ServiceConfig configures both broker channels and the optional admin surface.
type ServiceConfig struct {
	BrokerID            string
	MainListenAddr      string
	HeartbeatListenAddr string
	AdminListenAddr     string
	AdminCORSOrigins    []string
	AdminToken          string
	Session             session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		BrokerID:            "broker.local",
		MainListenAddr:      ":8001",
		HeartbeatListenAddr: ":8002",
		AdminListenAddr:     "",
		Session:             session.DefaultConfig(),
	}
}

// Service is the listener supervisor for the main and heartbeat channels.
type Service struct {
	cfg        ServiceConfig
	handlers   HandlerFactory
	heartbeats HeartbeatFactory
	revocation RevocationController
	log        zerolog.Logger
	startedAt  time.Time

	activeMu sync.Mutex
	active   map[string]net.Conn

	sessionsComplete  atomic.Int64
	sessionsAbandoned atomic.Int64
	streamsRevoked    atomic.Int64
	streamsAbandoned  atomic.Int64
	heartbeatsSent    atomic.Int64
	acceptErrors      atomic.Int64
	activeMain        atomic.String
	activeHeartbeat   atomic.String
}

func NewService(cfg ServiceConfig, handlers HandlerFactory, heartbeats HeartbeatFactory) *Service {
	if strings.TrimSpace(cfg.MainListenAddr) == "" {
		cfg.MainListenAddr = DefaultServiceConfig().MainListenAddr
	}
	if strings.TrimSpace(cfg.HeartbeatListenAddr) == "" {
		cfg.HeartbeatListenAddr = DefaultServiceConfig().HeartbeatListenAddr
	}
	if strings.TrimSpace(cfg.BrokerID) == "" {
		cfg.BrokerID = DefaultServiceConfig().BrokerID
	}
	cfg.Session = cfg.Session.WithDefaults()
	observability.RegisterMetrics()
	return &Service{
		cfg:        cfg,
		handlers:   handlers,
		heartbeats: heartbeats,
		log:        observability.ComponentLogger("broker.service").With().Str("broker_id", cfg.BrokerID).Logger(),
		startedAt:  time.Now(),
		active:     make(map[string]net.Conn),
	}
}

// SetRevocationController exposes revocation through the admin surface.
func (s *Service) SetRevocationController(rc RevocationController) {
	s.revocation = rc
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

// Run binds both listeners and serves until SIGINT/SIGTERM. Listener setup
// failures are returned to the caller, which treats them as fatal.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mainLn, hbLn, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, mainLn, hbLn)
}

// Listen binds the main and heartbeat listeners.
func (s *Service) Listen() (net.Listener, net.Listener, error) {
	mainLn, err := net.Listen("tcp4", s.cfg.MainListenAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("broker: listen %s channel on %s: %w", ChannelMain, s.cfg.MainListenAddr, err)
	}
	hbLn, err := net.Listen("tcp4", s.cfg.HeartbeatListenAddr)
	if err != nil {
		_ = mainLn.Close()
		return nil, nil, fmt.Errorf("broker: listen %s channel on %s: %w", ChannelHeartbeat, s.cfg.HeartbeatListenAddr, err)
	}
	return mainLn, hbLn, nil
}

// Serve runs both channel loops on existing listeners until ctx ends or a
// listener fails permanently. A configured admin listener is bound before
// either loop starts; a bind failure is fatal like any other listener setup
// failure. Both listeners are closed on return.
func (s *Service) Serve(ctx context.Context, mainLn, hbLn net.Listener) error {
	if err := s.validate(); err != nil {
		_ = mainLn.Close()
		_ = hbLn.Close()
		return err
	}
	var adminLn net.Listener
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			_ = mainLn.Close()
			_ = hbLn.Close()
			return fmt.Errorf("broker: listen admin on %s: %w", addr, err)
		}
		adminLn = ln
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log.Info().
		Str("main_addr", mainLn.Addr().String()).
		Str("heartbeat_addr", hbLn.Addr().String()).
		Dur("heartbeat_interval", s.cfg.Session.HeartbeatInterval).
		Msg("broker listening")

	adminErr := make(chan error, 1)
	if adminLn != nil {
		go func() {
			adminErr <- s.serveAdmin(ctx, adminLn)
		}()
	}
	hbErr := make(chan error, 1)
	go func() {
		hbErr <- s.acceptLoop(ctx, hbLn, ChannelHeartbeat, s.handleHeartbeatConn)
	}()
	mainErr := make(chan error, 1)
	go func() {
		mainErr <- s.acceptLoop(ctx, mainLn, ChannelMain, s.handleMainConn)
	}()

	var err error
	select {
	case err = <-mainErr:
		cancel()
		if hErr := <-hbErr; err == nil {
			err = hErr
		}
	case err = <-hbErr:
		cancel()
		if mErr := <-mainErr; err == nil {
			err = mErr
		}
	case err = <-adminErr:
		if err != nil {
			s.log.Error().Err(err).Msg("admin server failed; stopping broker channels")
		}
		cancel()
		mErr := <-mainErr
		hErr := <-hbErr
		if err == nil {
			err = errors.Join(mErr, hErr)
		}
	}
	s.log.Info().Err(err).Msg("broker stopped")
	return err
}

func (s *Service) validate() error {
	if s.handlers == nil {
		return fmt.Errorf("%w: nil handler factory", ErrInvalidConfig)
	}
	if s.heartbeats == nil {
		return fmt.Errorf("%w: nil heartbeat factory", ErrInvalidConfig)
	}
	if err := s.cfg.Session.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// acceptLoop serves one connection at a time on ln. Accept failures are
// logged and retried with backoff; ctx cancellation closes the listener and
// the connection in flight.
func (s *Service) acceptLoop(
	ctx context.Context,
	ln net.Listener,
	channel string,
	handle func(context.Context, net.Conn),
) error {
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.closeActive(channel)
	})
	defer stop()

	logger := s.log.With().Str("channel", channel).Logger()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0
	for {
		logger.Debug().Msg("waiting for connection")
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("broker: %s listener closed: %w", channel, err)
			}
			attempt++
			s.acceptErrors.Inc()
			observability.RecordAcceptError(channel)
			delay := s.cfg.Session.AcceptBackoff.Delay(attempt, rng)
			logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("accept failed")
			if sleepContext(ctx, delay) != nil {
				return nil
			}
			continue
		}
		attempt = 0
		if !s.trackActive(ctx, channel, conn) {
			_ = conn.Close()
			return nil
		}
		handle(ctx, conn)
		s.untrackActive(channel)
		_ = conn.Close()
		if sleepContext(ctx, s.cfg.Session.ReconnectPause) != nil {
			return nil
		}
	}
}

func (s *Service) handleMainConn(_ context.Context, conn net.Conn) {
	id := uuid.NewString()
	s.activeMain.Store(remoteAddr(conn))
	defer s.activeMain.Store("")

	sess := NewSession(id, conn, s.handlers.NewSessionHandlers(id), s.cfg.Session)
	res := sess.Run()
	observability.RecordSession(res.State.String(), res.Duration)
	if res.State == StateComplete {
		s.sessionsComplete.Inc()
	} else {
		s.sessionsAbandoned.Inc()
	}
}

func (s *Service) handleHeartbeatConn(ctx context.Context, conn net.Conn) {
	id := uuid.NewString()
	s.activeHeartbeat.Store(remoteAddr(conn))
	defer s.activeHeartbeat.Store("")

	stream := NewHeartbeatStream(id, conn, s.heartbeats.NewHeartbeatStream(id), s.cfg.Session)
	res := stream.Run(ctx)
	s.heartbeatsSent.Add(int64(res.Sent))
	observability.RecordHeartbeatStream(res.Outcome())
	switch res.Outcome() {
	case "revoked":
		s.streamsRevoked.Inc()
	case "abandoned":
		s.streamsAbandoned.Inc()
	}
}

// trackActive records the connection served on channel. It reports false
// when shutdown already started.
func (s *Service) trackActive(ctx context.Context, channel string, conn net.Conn) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	s.active[channel] = conn
	return true
}

func (s *Service) untrackActive(channel string) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	delete(s.active, channel)
}

func (s *Service) closeActive(channel string) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if conn, ok := s.active[channel]; ok {
		_ = conn.Close()
		delete(s.active, channel)
	}
}

// Status is a point-in-time view of the broker.
type Status struct {
	BrokerID          string `json:"broker_id"`
	Uptime            string `json:"uptime"`
	ActiveMain        string `json:"active_main,omitempty"`
	ActiveHeartbeat   string `json:"active_heartbeat,omitempty"`
	SessionsComplete  int64  `json:"sessions_complete"`
	SessionsAbandoned int64  `json:"sessions_abandoned"`
	StreamsRevoked    int64  `json:"streams_revoked"`
	StreamsAbandoned  int64  `json:"streams_abandoned"`
	HeartbeatsSent    int64  `json:"heartbeats_sent"`
	AcceptErrors      int64  `json:"accept_errors"`
	Revoked           bool   `json:"revoked"`
	RevocationReason  string `json:"revocation_reason,omitempty"`
}

func (s *Service) Snapshot() Status {
	st := Status{
		BrokerID:          s.cfg.BrokerID,
		Uptime:            time.Since(s.startedAt).Round(time.Second).String(),
		ActiveMain:        s.activeMain.Load(),
		ActiveHeartbeat:   s.activeHeartbeat.Load(),
		SessionsComplete:  s.sessionsComplete.Load(),
		SessionsAbandoned: s.sessionsAbandoned.Load(),
		StreamsRevoked:    s.streamsRevoked.Load(),
		StreamsAbandoned:  s.streamsAbandoned.Load(),
		HeartbeatsSent:    s.heartbeatsSent.Load(),
		AcceptErrors:      s.acceptErrors.Load(),
	}
	if s.revocation != nil {
		st.Revoked, st.RevocationReason = s.revocation.Revocation()
	}
	return st
}
