package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/trustedbroker/internal/authority"
	"github.com/danmuck/trustedbroker/internal/broker"
)

// brokerctl config.toml key mapping to broker and authority settings.
type fileConfig struct {
	ID               string   `toml:"id"`
	MainAddr         string   `toml:"main_addr"`
	HeartbeatAddr    string   `toml:"heartbeat_addr"`
	AdminAddr        string   `toml:"admin_addr"`
	AdminCORSOrigins []string `toml:"admin_cors_origins"`
	AdminToken       string   `toml:"admin_token"`

	HeartbeatInterval string `toml:"heartbeat_interval"`
	ReconnectPause    string `toml:"reconnect_pause"`
	ReadTimeout       string `toml:"read_timeout"`
	WriteTimeout      string `toml:"write_timeout"`

	AcceptBackoff backoffFileConfig   `toml:"accept_backoff"`
	Authority     authorityFileConfig `toml:"authority"`
}

type backoffFileConfig struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

type authorityFileConfig struct {
	SPID                string   `toml:"spid"`
	MasterKey           string   `toml:"master_key"`
	AllowedMeasurements []string `toml:"allowed_measurements"`
	RequireAttestation  bool     `toml:"require_attestation"`
	RevokeAfter         uint64   `toml:"revoke_after"`
}

type runtimeConfig struct {
	Service   broker.ServiceConfig
	Authority authority.Config
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		Service:   broker.DefaultServiceConfig(),
		Authority: authority.DefaultConfig(),
	}
}

// brokerctl loader for TOML config with default overlay.
func loadRuntimeConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("load broker config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runtimeConfig{}, fmt.Errorf("load broker config: unknown key %q", undecoded[0].String())
	}

	svc := &cfg.Service
	if meta.IsDefined("id") {
		svc.BrokerID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("main_addr") {
		svc.MainListenAddr = strings.TrimSpace(raw.MainAddr)
	}
	if meta.IsDefined("heartbeat_addr") {
		svc.HeartbeatListenAddr = strings.TrimSpace(raw.HeartbeatAddr)
	}
	if meta.IsDefined("admin_addr") {
		svc.AdminListenAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_cors_origins") {
		svc.AdminCORSOrigins = raw.AdminCORSOrigins
	}
	if meta.IsDefined("admin_token") {
		svc.AdminToken = strings.TrimSpace(raw.AdminToken)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"heartbeat_interval", raw.HeartbeatInterval, &svc.Session.HeartbeatInterval},
		{"reconnect_pause", raw.ReconnectPause, &svc.Session.ReconnectPause},
		{"read_timeout", raw.ReadTimeout, &svc.Session.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &svc.Session.WriteTimeout},
		{"accept_backoff.initial_delay", raw.AcceptBackoff.InitialDelay, &svc.Session.AcceptBackoff.InitialDelay},
		{"accept_backoff.max_delay", raw.AcceptBackoff.MaxDelay, &svc.Session.AcceptBackoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(strings.Split(d.key, ".")...) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("load broker config: %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	if meta.IsDefined("accept_backoff", "multiplier") {
		svc.Session.AcceptBackoff.Multiplier = raw.AcceptBackoff.Multiplier
	}
	if meta.IsDefined("accept_backoff", "jitter") {
		svc.Session.AcceptBackoff.Jitter = raw.AcceptBackoff.Jitter
	}

	auth := &cfg.Authority
	if meta.IsDefined("authority", "spid") {
		auth.SPID = strings.TrimSpace(raw.Authority.SPID)
	}
	if meta.IsDefined("authority", "master_key") {
		auth.MasterKey = strings.TrimSpace(raw.Authority.MasterKey)
	}
	if meta.IsDefined("authority", "allowed_measurements") {
		auth.AllowedMeasurements = raw.Authority.AllowedMeasurements
	}
	if meta.IsDefined("authority", "require_attestation") {
		auth.RequireAttestation = raw.Authority.RequireAttestation
	}
	if meta.IsDefined("authority", "revoke_after") {
		auth.RevokeAfter = raw.Authority.RevokeAfter
	}

	// Validate before filling defaults so explicit zeros are rejected, not replaced.
	if err := svc.Session.Validate(); err != nil {
		return runtimeConfig{}, fmt.Errorf("load broker config: %w", err)
	}
	svc.Session = svc.Session.WithDefaults()
	return cfg, nil
}
