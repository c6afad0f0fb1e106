package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/relaychat/internal/connection"
)

func probeCommand() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "check which relay endpoints accept connections",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "endpoint",
				Aliases: []string{"e"},
				Usage:   "endpoint to probe instead of the configured list (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "per-endpoint probe timeout (default from config)",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "endpoints probed at once",
				Value: 4,
			},
		},
		Action: runProbe,
	}
}

func runProbe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}

	endpoints := cfg.Endpoints
	if eps := cmd.StringSlice("endpoint"); len(eps) > 0 {
		endpoints = eps
	}
	timeout := cfg.Connection.ProbeTimeout
	if d := cmd.Duration("timeout"); d > 0 {
		timeout = d
	}

	prober := connection.NewHTTPProber(connection.NewSocketIODialer(logger), transportOptions(cfg), timeout, logger)
	results := probeAll(ctx, prober, endpoints, int(cmd.Int("concurrency")))

	if err := writeJSON(os.Stdout, results); err != nil {
		return err
	}
	for _, d := range results {
		if d.CanConnect {
			return nil
		}
	}
	return cli.Exit("no endpoint reachable", 2)
}

// probeAll probes endpoints concurrently; results keep the input order.
func probeAll(ctx context.Context, prober connection.Prober, endpoints []string, limit int) []connection.Diagnostics {
	results := make([]connection.Diagnostics, len(endpoints))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, ep := range endpoints {
		g.Go(func() error {
			start := time.Now()
			results[i] = prober.Probe(gctx, ep)
			if results[i].CheckedAt.IsZero() {
				results[i].CheckedAt = start
			}
			return nil
		})
	}
	g.Wait()

	return results
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
