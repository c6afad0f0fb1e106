package socketio

import (
	"context"
	"log/slog"
	"sync"
)

// Dialer opens Clients. Unless Options.ForceNew is set, a live Client for the
// same URL is reused.
type Dialer struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Client
}

// NewDialer creates a Dialer.
func NewDialer(logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		logger:   logger,
		sessions: make(map[string]*Client),
	}
}

// Dial connects to url and joins its namespace. The returned Client reads in
// the background until it is closed or permanently disconnected.
func (d *Dialer) Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if !opts.ForceNew {
		d.mu.Lock()
		cached, ok := d.sessions[url]
		d.mu.Unlock()
		if ok && cached.Connected() {
			d.logger.Debug("reusing session", "endpoint", url, "sid", cached.ID())
			return cached, nil
		}
	}

	c, err := newClient(url, opts, d.logger)
	if err != nil {
		return nil, err
	}

	s, err := c.connect(ctx)
	if err != nil {
		c.cancel()
		return nil, err
	}
	if !c.install(s) {
		s.conn.discard()
		return nil, ErrClosed
	}
	go c.readLoop(s.conn, s.pending)

	d.mu.Lock()
	d.sessions[url] = c
	d.mu.Unlock()

	d.logger.Debug("socket connected", "endpoint", url, "transport", s.conn.name(), "sid", s.sid)
	return c, nil
}

// Dial connects with a throwaway Dialer.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	opts.ForceNew = true
	return NewDialer(nil).Dial(ctx, url, opts)
}
