package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/trustedbroker/internal/authority"
	"github.com/danmuck/trustedbroker/internal/broker"
	"github.com/danmuck/trustedbroker/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

var flags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "",
		Usage:   "path to broker TOML config (defaults apply when empty)",
		EnvVars: []string{"BROKER_CONFIG"},
	},
	&cli.StringFlag{
		Name:  "main-addr",
		Usage: "override main channel listen address",
	},
	&cli.StringFlag{
		Name:  "heartbeat-addr",
		Usage: "override heartbeat channel listen address",
	},
	&cli.StringFlag{
		Name:  "admin-addr",
		Usage: "override admin HTTP listen address (empty disables)",
	},
	&cli.StringFlag{
		Name:  "log-level",
		Usage: "trace, debug, info, warn, or error",
	},
}

func main() {
	app := &cli.App{
		Name:  "brokerctl",
		Usage: "serve remote attestation, key provisioning, and heartbeat channels",
		Flags: flags,
		Commands: []*cli.Command{
			configCommand,
		},
		Action: func(cCtx *cli.Context) error {
			logging.ConfigureRuntime()
			if lvl := cCtx.String("log-level"); lvl != "" && !logging.SetLevel(lvl) {
				return fmt.Errorf("unknown log level %q", lvl)
			}

			cfg, err := resolveConfig(cCtx)
			if err != nil {
				return err
			}

			auth, err := authority.New(cfg.Authority)
			if err != nil {
				return err
			}
			svc := broker.NewService(cfg.Service, auth, auth)
			svc.SetRevocationController(auth)

			log.Info().
				Str("broker_id", svc.Config().BrokerID).
				Str("main_addr", svc.Config().MainListenAddr).
				Str("heartbeat_addr", svc.Config().HeartbeatListenAddr).
				Str("admin_addr", svc.Config().AdminListenAddr).
				Msg("starting broker")
			return svc.Run()
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "brokerctl: %v\n", err)
		os.Exit(1)
	}
}

var configCommand = &cli.Command{
	Name:  "config",
	Usage: "write or validate a broker config file",
	Subcommands: []*cli.Command{
		{
			Name:  "init",
			Usage: "write a config template",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "broker.toml", Usage: "output path"},
				&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file"},
			},
			Action: func(cCtx *cli.Context) error {
				target := cCtx.String("output")
				if err := writeTemplate(target, cCtx.Bool("force")); err != nil {
					return err
				}
				fmt.Fprintf(cCtx.App.Writer, "wrote broker config template to %s\n", target)
				return nil
			},
		},
		{
			Name:      "validate",
			Usage:     "load a config file and check the authority settings",
			ArgsUsage: "<path>",
			Action: func(cCtx *cli.Context) error {
				path := strings.TrimSpace(cCtx.Args().First())
				if path == "" {
					return fmt.Errorf("config validate: path required")
				}
				logging.ConfigureRuntime()
				cfg, err := loadRuntimeConfig(path)
				if err != nil {
					return err
				}
				if _, err := authority.New(cfg.Authority); err != nil {
					return err
				}
				fmt.Fprintf(cCtx.App.Writer, "validated broker config at %s\n", path)
				return nil
			},
		},
	},
}

// resolveConfig loads the TOML file when given and applies flag overrides.
func resolveConfig(cCtx *cli.Context) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()
	if path := strings.TrimSpace(cCtx.String("config")); path != "" {
		loaded, err := loadRuntimeConfig(path)
		if err != nil {
			return runtimeConfig{}, err
		}
		cfg = loaded
	}
	if cCtx.IsSet("main-addr") {
		cfg.Service.MainListenAddr = strings.TrimSpace(cCtx.String("main-addr"))
	}
	if cCtx.IsSet("heartbeat-addr") {
		cfg.Service.HeartbeatListenAddr = strings.TrimSpace(cCtx.String("heartbeat-addr"))
	}
	if cCtx.IsSet("admin-addr") {
		cfg.Service.AdminListenAddr = strings.TrimSpace(cCtx.String("admin-addr"))
	}
	return cfg, nil
}
