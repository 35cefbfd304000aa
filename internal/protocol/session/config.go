package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidHeartbeatInterval = errors.New("session: invalid heartbeat interval")
	ErrInvalidTimeout           = errors.New("session: invalid timeout")
	ErrInvalidBackoff           = errors.New("session: invalid backoff")
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config holds the read-only timing values handed to both channel loops.
// Zero read/write timeouts leave frame I/O unbounded.
type Config struct {
	HeartbeatInterval time.Duration
	ReconnectPause    time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	AcceptBackoff     BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 3 * time.Second,
		ReconnectPause:    3 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		AcceptBackoff: BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills unset durations from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ReconnectPause == 0 {
		c.ReconnectPause = d.ReconnectPause
	}
	if c.AcceptBackoff.InitialDelay == 0 && c.AcceptBackoff.MaxDelay == 0 {
		c.AcceptBackoff = d.AcceptBackoff
	}
	if c.AcceptBackoff.Multiplier == 0 {
		c.AcceptBackoff.Multiplier = d.AcceptBackoff.Multiplier
	}
	return c
}

func (c Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidHeartbeatInterval, c.HeartbeatInterval)
	}
	if c.ReconnectPause <= 0 {
		return fmt.Errorf("%w: reconnect_pause=%s", ErrInvalidTimeout, c.ReconnectPause)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("%w: read_timeout=%s", ErrInvalidTimeout, c.ReadTimeout)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("%w: write_timeout=%s", ErrInvalidTimeout, c.WriteTimeout)
	}
	if c.AcceptBackoff.InitialDelay < 0 || c.AcceptBackoff.MaxDelay < 0 {
		return fmt.Errorf("%w: negative delay", ErrInvalidBackoff)
	}
	if c.AcceptBackoff.MaxDelay > 0 && c.AcceptBackoff.InitialDelay > c.AcceptBackoff.MaxDelay {
		return fmt.Errorf("%w: initial_delay > max_delay", ErrInvalidBackoff)
	}
	return nil
}
