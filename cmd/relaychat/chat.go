package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/relaychat/internal/archive"
	"github.com/rickgao/relaychat/internal/config"
	"github.com/rickgao/relaychat/internal/connection"
	"github.com/rickgao/relaychat/internal/database"
	"github.com/rickgao/relaychat/internal/metrics"
	"github.com/rickgao/relaychat/internal/model"
	"github.com/rickgao/relaychat/internal/version"
)

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "connect to the relay and chat from stdin",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "username",
				Aliases: []string{"u"},
				Usage:   "name to register with (overrides client.username)",
			},
		},
		Action: runChat,
	}
}

func runChat(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if u := cmd.String("username"); u != "" {
		cfg.Client.Username = u
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}

	logger.Info("starting relaychat",
		"version", version.Version,
		"commit", version.Commit,
		"endpoints", len(cfg.Endpoints),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	con := &console{w: os.Stdout}
	mt := metrics.New()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return mt.Serve(gctx, fmt.Sprintf(":%d", cfg.Metrics.Port), cfg.Metrics.Path, logger)
		})
	}

	opts := []connection.Option{
		connection.WithLogger(logger),
		connection.WithMetrics(mt),
		connection.WithNotifier(connection.NotifierFunc(func(n connection.Notice) {
			con.Printf("* %s\n", n.Message)
		})),
	}

	var arch *archiveHandle
	if cfg.Archive.Enabled {
		writer, handle, err := startArchive(ctx, cfg, logger)
		if err != nil {
			return err
		}
		arch = handle
		opts = append(opts, connection.WithSink(writer))
	}

	mcfg := cfg.ManagerConfig()
	mcfg.Sequencer.Transport = transportOptions(cfg)
	m := connection.NewManager(mcfg, opts...)

	m.OnMessage(func(msg model.Message) { con.PrintMessage(msg) })
	m.On(connection.EventTyping, func(ev connection.Event) { con.PrintTyping(ev.Data) })

	profile := cfg.Profile()
	g.Go(func() error {
		err := m.KeepConnected(gctx, func(ctx context.Context) error {
			if profile.Username == "" {
				return nil
			}
			user, err := m.RegisterUser(ctx, profile)
			if err != nil {
				con.Printf("* registration failed: %v\n", err)
				return err
			}
			con.Printf("* registered as %s (%s)\n", user.Username, user.CanonicalID())
			return nil
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// stdin never unblocks on cancel, so the REPL is not part of the group.
	go func() {
		defer cancel()
		if err := runREPL(os.Stdin, con, m); err != nil {
			logger.Warn("input closed", "error", err)
		}
	}()

	runErr := g.Wait()
	cancel()

	shutdownErr := m.Disconnect()
	if arch != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		shutdownErr = multierr.Append(shutdownErr, arch.Close(stopCtx))
		stopCancel()
	}

	logger.Info("relaychat stopped")
	return multierr.Append(runErr, shutdownErr)
}

// archiveHandle owns the transcript writer and the pool it writes to.
type archiveHandle struct {
	writer interface{ Stop(context.Context) error }
	pool   interface{ Close() }
}

// Close flushes the writer, then releases the pool.
func (a *archiveHandle) Close(ctx context.Context) error {
	err := a.writer.Stop(ctx)
	a.pool.Close()
	return err
}

func startArchive(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*archive.Writer, *archiveHandle, error) {
	db := cfg.Archive.Database
	logger.Info("connecting to archive database",
		"host", db.Host,
		"port", db.Port,
		"database", db.Name,
	)

	pool, err := database.Connect(ctx, db)
	if err != nil {
		return nil, nil, fmt.Errorf("connect archive: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	w := archive.NewWriter(archive.Config{
		BatchSize:     cfg.Archive.BatchSize,
		FlushInterval: cfg.Archive.FlushInterval,
		BufferSize:    cfg.Archive.BufferSize,
	}, pool, logger)
	if err := w.Start(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return w, &archiveHandle{writer: w, pool: pool}, nil
}

// console serializes output from listeners and the REPL.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func (c *console) PrintMessage(msg model.Message) {
	name := msg.Sender
	if name == "" {
		name = msg.From
	}
	line := msg.Content
	if msg.HasImage() {
		line += " [image]"
	}
	c.Printf("[%s] %s: %s\n", msg.Timestamp.Local().Format("15:04:05"), name, line)
}

func (c *console) PrintTyping(data json.RawMessage) {
	var t struct {
		From     string `json:"from"`
		Username string `json:"username"`
		IsTyping bool   `json:"isTyping"`
	}
	if err := json.Unmarshal(data, &t); err != nil || !t.IsTyping {
		return
	}
	name := t.Username
	if name == "" {
		name = t.From
	}
	if name != "" {
		c.Printf("* %s is typing\n", name)
	}
}
