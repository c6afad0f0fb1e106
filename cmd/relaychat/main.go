// Command relaychat is a terminal client for Socket.IO chat relays.
//
// Subcommands:
//
//	chat     connect, register and chat from stdin
//	probe    run connectivity diagnostics against every endpoint
//	version  print build information
//
// A .env file in the working directory is loaded before flags are parsed.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/rickgao/relaychat/internal/config"
	"github.com/rickgao/relaychat/internal/socketio"
	"github.com/rickgao/relaychat/internal/version"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "relaychat",
		Usage:   "chat through a Socket.IO relay with automatic failover",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				Sources: cli.EnvVars("RELAYCHAT_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			chatCommand(),
			probeCommand(),
			versionCommand(),
		},
	}
}

// loadConfig reads --config when set, otherwise builds the config from
// defaults and the environment.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := cmd.String("config"); path != "" {
		cfg, err = config.LoadWithDefaults(path)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, err
	}

	if level := cmd.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger, nil
}

// transportOptions returns the configured socket options tagged with our
// user agent.
func transportOptions(cfg *config.Config) socketio.Options {
	opts := cfg.ManagerConfig().Sequencer.Transport
	opts.Header = http.Header{"User-Agent": []string{version.UserAgent()}}
	return opts
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print build information",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Bool("json") {
				return writeJSON(os.Stdout, version.Get())
			}
			fmt.Println("relaychat", version.String())
			return nil
		},
	}
}
