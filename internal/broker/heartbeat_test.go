package broker

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/trustedbroker/internal/protocol/frame"
	"github.com/danmuck/trustedbroker/internal/protocol/session"
	"github.com/danmuck/trustedbroker/internal/testutil/testlog"
)

func fastSessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.ReconnectPause = 10 * time.Millisecond
	cfg.AcceptBackoff.InitialDelay = 5 * time.Millisecond
	cfg.AcceptBackoff.MaxDelay = 20 * time.Millisecond
	return cfg
}

func startHeartbeat(t *testing.T, ctx context.Context, gen HeartbeatGenerator) (net.Conn, <-chan HeartbeatResult) {
	t.Helper()
	server, client := net.Pipe()
	done := make(chan HeartbeatResult, 1)
	go func() {
		res := NewHeartbeatStream("hb.test", server, gen, fastSessionConfig()).Run(ctx)
		_ = server.Close()
		done <- res
	}()
	t.Cleanup(func() { _ = client.Close() })
	return client, done
}

func waitHeartbeat(t *testing.T, done <-chan HeartbeatResult) HeartbeatResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(3 * time.Second):
		t.Fatalf("heartbeat stream did not finish")
		return HeartbeatResult{}
	}
}

func TestHeartbeatFinalBeatIsLast(t *testing.T) {
	testlog.Start(t)
	gen := &scriptedGenerator{steps: []heartbeatStep{{}, {}, {final: true}}}
	client, done := startHeartbeat(t, context.Background(), gen)

	for i := 0; i < 3; i++ {
		pkg := readPackage(t, client)
		if pkg.Type != frame.TypeHeartbeat {
			t.Fatalf("beat %d: expected HEARTBEAT, got %s", i, pkg.Type)
		}
	}
	expectClosed(t, client)

	res := waitHeartbeat(t, done)
	if res.Err != nil || !res.Revoked || res.Sent != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Outcome() != "revoked" {
		t.Fatalf("expected revoked outcome, got %s", res.Outcome())
	}
	if gen.Calls() != 3 {
		t.Fatalf("generator called after final beat: %d", gen.Calls())
	}
}

func TestHeartbeatFirstBeatFinal(t *testing.T) {
	testlog.Start(t)
	gen := &scriptedGenerator{steps: []heartbeatStep{{final: true}}}
	client, done := startHeartbeat(t, context.Background(), gen)

	readPackage(t, client)
	expectClosed(t, client)
	if res := waitHeartbeat(t, done); res.Sent != 1 || !res.Revoked {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestHeartbeatGeneratorErrorSendsNothing(t *testing.T) {
	testlog.Start(t)
	gen := &scriptedGenerator{steps: []heartbeatStep{{err: errRejected}}}
	client, done := startHeartbeat(t, context.Background(), gen)

	expectClosed(t, client)
	res := waitHeartbeat(t, done)
	if !errors.Is(res.Err, ErrGenerator) || !errors.Is(res.Err, errRejected) {
		t.Fatalf("expected generator error, got %v", res.Err)
	}
	if res.Sent != 0 || res.Outcome() != "abandoned" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestHeartbeatUnknownTypeNotSent(t *testing.T) {
	testlog.Start(t)
	gen := generatorFunc(func() (frame.Package, bool, error) {
		return frame.Package{Type: frame.Type(99)}, false, nil
	})
	client, done := startHeartbeat(t, context.Background(), gen)

	expectClosed(t, client)
	res := waitHeartbeat(t, done)
	if !errors.Is(res.Err, ErrUnknownPackageType) || res.Sent != 0 {
		t.Fatalf("expected unknown type rejection with nothing sent, got %+v", res)
	}
}

func TestHeartbeatSendFailureAbandons(t *testing.T) {
	testlog.Start(t)
	gen := &scriptedGenerator{}
	client, done := startHeartbeat(t, context.Background(), gen)

	readPackage(t, client)
	_ = client.Close()

	res := waitHeartbeat(t, done)
	if !errors.Is(res.Err, ErrSend) {
		t.Fatalf("expected send error, got %v", res.Err)
	}
}

func TestHeartbeatStopsOnContextCancel(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	gen := &scriptedGenerator{}
	client, done := startHeartbeat(t, ctx, gen)

	readPackage(t, client)
	readPackage(t, client)
	cancel()

	// Drain a beat that may already be in flight.
	go func() {
		_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, err := frame.ReadPackage(client); err != nil {
				return
			}
		}
	}()
	res := waitHeartbeat(t, done)
	if res.Err != nil || res.Revoked || res.Outcome() != "stopped" {
		t.Fatalf("expected clean stop, got %+v", res)
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
