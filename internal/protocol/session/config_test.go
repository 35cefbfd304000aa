package session

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/trustedbroker/internal/testutil/testlog"
)

func TestWithDefaultsFillsUnsetValues(t *testing.T) {
	testlog.Start(t)
	cfg := Config{ReadTimeout: 2 * time.Second}.WithDefaults()
	if cfg.HeartbeatInterval != 3*time.Second {
		t.Fatalf("unexpected heartbeat interval: %s", cfg.HeartbeatInterval)
	}
	if cfg.ReconnectPause != 3*time.Second {
		t.Fatalf("unexpected reconnect pause: %s", cfg.ReconnectPause)
	}
	if cfg.ReadTimeout != 2*time.Second {
		t.Fatalf("read timeout overwritten: %s", cfg.ReadTimeout)
	}
	if cfg.AcceptBackoff.Multiplier != 2.0 {
		t.Fatalf("unexpected backoff multiplier: %v", cfg.AcceptBackoff.Multiplier)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate defaults: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = -time.Second
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidHeartbeatInterval) {
		t.Fatalf("expected ErrInvalidHeartbeatInterval, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.ReconnectPause = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidTimeout) {
		t.Fatalf("expected ErrInvalidTimeout for zero reconnect pause, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.WriteTimeout = -time.Second
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidTimeout) {
		t.Fatalf("expected ErrInvalidTimeout, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.AcceptBackoff.InitialDelay = 10 * time.Second
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidBackoff) {
		t.Fatalf("expected ErrInvalidBackoff, got %v", err)
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	if d := cfg.Delay(1, nil); d != 100*time.Millisecond {
		t.Fatalf("attempt 1 delay=%s", d)
	}
	if d := cfg.Delay(3, nil); d != 400*time.Millisecond {
		t.Fatalf("attempt 3 delay=%s", d)
	}
	if d := cfg.Delay(10, nil); d != time.Second {
		t.Fatalf("attempt 10 delay=%s", d)
	}
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second, Jitter: true}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		d := cfg.Delay(2, rng)
		if d < 100*time.Millisecond || d > 300*time.Millisecond {
			t.Fatalf("jittered delay out of bounds: %s", d)
		}
		if d := cfg.Delay(10, rng); d > time.Second {
			t.Fatalf("jittered delay above cap: %s", d)
		}
	}
	if d := (BackoffConfig{}).Delay(3, rng); d != 0 {
		t.Fatalf("zero config should not wait, got %s", d)
	}
}
