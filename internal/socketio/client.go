package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// session is one established Engine.IO connection with its namespace joined.
type session struct {
	conn    engineConn
	hs      handshake
	sid     string
	pending []string // frames received during the namespace handshake
}

// Client is a Socket.IO connection to one relay endpoint.
type Client struct {
	url      string
	endpoint *Endpoint
	opts     Options
	logger   *slog.Logger

	// ctx lives until Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	conn       engineConn
	sid        string
	handlers   map[string]Handler
	connected  bool
	closed     bool
	err        error
	lastPingAt time.Time

	done     chan struct{}
	doneOnce sync.Once
}

func newClient(rawURL string, opts Options, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	ep, err := ParseEndpoint(rawURL, opts.Path)
	if err != nil {
		return nil, err
	}
	if opts.Namespace == "" {
		opts.Namespace = ep.Namespace
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:      rawURL,
		endpoint: ep,
		opts:     opts,
		logger:   logger.With("endpoint", rawURL),
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}, nil
}

// ID returns the Socket.IO session id, empty until connected.
func (c *Client) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sid
}

// URL returns the endpoint the client was dialed with.
func (c *Client) URL() string {
	return c.url
}

// Protocol returns the active transport name, empty when not connected.
func (c *Client) Protocol() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return ""
	}
	return c.conn.name()
}

// Connected reports whether the namespace is currently joined.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// LastPingAt returns when the server last pinged.
func (c *Client) LastPingAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPingAt
}

// Done is closed once the client has permanently stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the client stopped, nil while it is running.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// On sets the handler for event, replacing any previous one.
func (c *Client) On(event string, h Handler) {
	c.mu.Lock()
	c.handlers[event] = h
	c.mu.Unlock()
}

// Off removes the handler for event.
func (c *Client) Off(event string) {
	c.mu.Lock()
	delete(c.handlers, event)
	c.mu.Unlock()
}

// Emit sends a named event. A nil payload sends the event without arguments.
func (c *Client) Emit(event string, payload any) error {
	frame, err := encodeEvent(c.opts.Namespace, event, payload)
	if err != nil {
		return err
	}

	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}
	if err := conn.write(frame); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Close leaves the namespace and releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	if c.err == nil {
		c.err = ErrClosed
	}
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	c.doneOnce.Do(func() { close(c.done) })

	if conn == nil {
		return nil
	}
	conn.write(encodeSocketPacket(socketPacket{Type: sioDisconnect, Namespace: c.opts.Namespace}))
	return conn.close()
}

// connect performs one full handshake bounded by Options.Timeout.
func (c *Client) connect(ctx context.Context) (*session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	conn, hs, pending, err := c.open(ctx)
	if err != nil {
		return nil, err
	}

	sid, rest, err := c.joinNamespace(ctx, conn, pending)
	if err != nil {
		conn.discard()
		return nil, err
	}

	conn.setReadTimeout(hs.liveness())
	return &session{conn: conn, hs: hs, sid: sid, pending: rest}, nil
}

// install makes s the active session.
func (c *Client) install(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = s.conn
	c.sid = s.sid
	c.connected = true
	c.lastPingAt = time.Now()
	return true
}

// open negotiates the Engine.IO transport.
func (c *Client) open(ctx context.Context) (engineConn, handshake, []string, error) {
	if c.opts.Transports[0] == TransportWebSocket {
		return c.openWebSocket(ctx)
	}

	hs, pending, err := pollingHandshake(ctx, c.opts.HTTPClient, c.endpoint, c.opts.Header)
	if err != nil {
		return nil, handshake{}, nil, err
	}
	poll := newPollingConn(c.opts.HTTPClient, c.endpoint, hs.SID, c.opts.Header, c.opts.WriteTimeout)

	if len(pending) == 0 && c.opts.allows(TransportWebSocket) && hs.offers(TransportWebSocket) {
		ws, err := c.upgrade(ctx, hs.SID)
		if err == nil {
			poll.discard()
			return ws, hs, nil, nil
		}
		c.logger.Debug("websocket upgrade failed, staying on polling", "error", err)
	}

	return poll, hs, pending, nil
}

func (c *Client) openWebSocket(ctx context.Context) (engineConn, handshake, []string, error) {
	ws, err := dialWebSocket(ctx, c.endpoint.WebSocketURL(""), c.opts.Header, c.opts.WriteTimeout)
	if err != nil {
		return nil, handshake{}, nil, err
	}

	frames, err := ws.read(ctx)
	if err != nil {
		ws.discard()
		return nil, handshake{}, nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if len(frames) == 0 {
		ws.discard()
		return nil, handshake{}, nil, fmt.Errorf("%w: no open packet", ErrHandshake)
	}

	hs, err := decodeHandshake(frames[0])
	if err != nil {
		ws.discard()
		return nil, handshake{}, nil, err
	}
	return ws, hs, frames[1:], nil
}

// upgrade probes a WebSocket for an existing polling session.
func (c *Client) upgrade(ctx context.Context, sid string) (*wsConn, error) {
	ws, err := dialWebSocket(ctx, c.endpoint.WebSocketURL(sid), c.opts.Header, c.opts.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpgrade, err)
	}

	if err := ws.write(string(packetPing) + "probe"); err != nil {
		ws.discard()
		return nil, fmt.Errorf("%w: %w", ErrUpgrade, err)
	}

	frames, err := ws.read(ctx)
	if err != nil {
		ws.discard()
		return nil, fmt.Errorf("%w: %w", ErrUpgrade, err)
	}
	if len(frames) == 0 || frames[0] != string(packetPong)+"probe" {
		ws.discard()
		return nil, fmt.Errorf("%w: unexpected probe reply %q", ErrUpgrade, frames)
	}

	if err := ws.write(string(packetUpgrade)); err != nil {
		ws.discard()
		return nil, fmt.Errorf("%w: %w", ErrUpgrade, err)
	}
	return ws, nil
}

// joinNamespace sends CONNECT and waits for the server's answer. Frames that
// follow the answer are returned for the read loop.
func (c *Client) joinNamespace(ctx context.Context, conn engineConn, pending []string) (string, []string, error) {
	var auth string
	if c.opts.Auth != nil {
		data, err := json.Marshal(c.opts.Auth)
		if err != nil {
			return "", nil, fmt.Errorf("encode auth: %w", err)
		}
		auth = string(data)
	}

	connect := encodeSocketPacket(socketPacket{Type: sioConnect, Namespace: c.opts.Namespace, Data: auth})
	if err := conn.write(connect); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	frames := pending
	for {
		for i, f := range frames {
			if f == "" {
				continue
			}
			switch f[0] {
			case packetPing:
				if err := conn.write(string(packetPong)); err != nil {
					return "", nil, fmt.Errorf("%w: %w", ErrHandshake, err)
				}
			case packetClose:
				return "", nil, fmt.Errorf("%w: %w", ErrHandshake, ErrServerDisconnect)
			case packetMessage:
				p, err := decodeSocketPacket(f[1:])
				if err != nil || p.Namespace != c.namespace() {
					continue
				}
				switch p.Type {
				case sioConnect:
					var ack struct {
						SID string `json:"sid"`
					}
					if err := json.Unmarshal([]byte(p.Data), &ack); err != nil {
						return "", nil, fmt.Errorf("%w: connect ack: %v", ErrHandshake, err)
					}
					return ack.SID, frames[i+1:], nil
				case sioConnectError:
					return "", nil, decodeConnectError(p.Data)
				}
			}
		}

		var err error
		frames, err = conn.read(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %w", ErrHandshake, err)
		}
	}
}

func (c *Client) namespace() string {
	if c.opts.Namespace == "" {
		return "/"
	}
	return c.opts.Namespace
}

// readLoop reads frames until the connection drops.
func (c *Client) readLoop(conn engineConn, pending []string) {
	if err := c.handleFrames(conn, pending); err != nil {
		c.connectionLost(conn, err)
		return
	}

	for {
		frames, err := conn.read(c.ctx)
		if err == nil {
			err = c.handleFrames(conn, frames)
		}
		if err != nil {
			c.connectionLost(conn, err)
			return
		}
	}
}

func (c *Client) handleFrames(conn engineConn, frames []string) error {
	for _, f := range frames {
		if f == "" {
			continue
		}
		switch f[0] {
		case packetPing:
			c.mu.Lock()
			c.lastPingAt = time.Now()
			c.mu.Unlock()
			if err := conn.write(string(packetPong)); err != nil {
				return err
			}
		case packetClose:
			return ErrServerDisconnect
		case packetNoop, packetPong:
		case packetMessage:
			if err := c.handlePacket(f[1:]); err != nil {
				return err
			}
		default:
			c.logger.Debug("ignoring engine packet", "type", string(f[0]))
		}
	}
	return nil
}

func (c *Client) handlePacket(body string) error {
	p, err := decodeSocketPacket(body)
	if err != nil {
		c.logger.Debug("dropping malformed packet", "error", err)
		return nil
	}
	if p.Namespace != c.namespace() {
		return nil
	}

	switch p.Type {
	case sioEvent:
		name, arg, err := decodeEvent(p.Data)
		if err != nil {
			c.logger.Debug("dropping malformed event", "error", err)
			return nil
		}
		c.dispatch(name, arg)
	case sioDisconnect:
		return ErrServerDisconnect
	case sioConnectError:
		return decodeConnectError(p.Data)
	}
	return nil
}

func (c *Client) dispatch(event string, data json.RawMessage) {
	c.mu.RLock()
	h := c.handlers[event]
	c.mu.RUnlock()

	if h != nil {
		h(data)
	}
}

// connectionLost tears down conn and either reconnects or stops the client.
func (c *Client) connectionLost(conn engineConn, cause error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.mu.Unlock()

	conn.discard()

	var ce *ConnectError
	if errors.Is(cause, ErrServerDisconnect) || errors.As(cause, &ce) {
		c.logger.Info("server ended session", "reason", cause)
		c.finish(cause)
		return
	}

	c.logger.Warn("connection lost", "error", cause, "transport", conn.name())
	if s := c.reconnect(); s != nil {
		go c.readLoop(s.conn, s.pending)
		return
	}
	c.finish(cause)
}

// reconnect re-runs the handshake with exponential backoff.
func (c *Client) reconnect() *session {
	delay := c.opts.ReconnectionDelay
	for attempt := 1; attempt <= c.opts.ReconnectionAttempts; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		s, err := c.connect(c.ctx)
		if err != nil {
			c.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
			delay = min(delay*2, c.opts.ReconnectionDelayMax)
			continue
		}
		if !c.install(s) {
			s.conn.discard()
			return nil
		}

		c.logger.Info("reconnected", "attempt", attempt, "transport", s.conn.name())
		data, _ := json.Marshal(attempt)
		c.dispatch(EventReconnect, data)
		return s
	}
	return nil
}

// finish stops the client for good and notifies the disconnect handler.
func (c *Client) finish(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.connected = false
	c.err = cause
	c.mu.Unlock()

	c.cancel()
	c.doneOnce.Do(func() { close(c.done) })

	reason, _ := json.Marshal(cause.Error())
	c.dispatch(EventDisconnect, reason)
}
