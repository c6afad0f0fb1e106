package socketio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// engineConn is one Engine.IO transport.
type engineConn interface {
	name() string
	// read blocks until at least one frame arrives. A nil slice with a nil
	// error means nothing usable was received.
	read(ctx context.Context) ([]string, error)
	write(frames ...string) error
	setReadTimeout(d time.Duration)
	// close sends the Engine.IO close packet and releases the transport.
	close() error
	// discard releases the transport without notifying the server.
	discard()
}

// wsConn is an Engine.IO connection over a WebSocket.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu          sync.Mutex
	readTimeout time.Duration
	closed      bool
}

func dialWebSocket(ctx context.Context, url string, header http.Header, writeTimeout time.Duration) (*wsConn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("dial websocket: %w", &HTTPError{StatusCode: resp.StatusCode, Body: resp.Status})
		}
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	return &wsConn{conn: conn, writeTimeout: writeTimeout}, nil
}

func (c *wsConn) name() string { return TransportWebSocket }

func (c *wsConn) setReadTimeout(d time.Duration) {
	c.mu.Lock()
	c.readTimeout = d
	c.mu.Unlock()
}

func (c *wsConn) read(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	timeout := c.readTimeout
	c.mu.Unlock()

	var deadline time.Time
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	} else if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	c.conn.SetReadDeadline(deadline)

	// Unblock ReadMessage when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	typ, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if typ != websocket.TextMessage {
		return nil, nil
	}
	return []string{string(data)}, nil
}

func (c *wsConn) write(frames ...string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for _, f := range frames {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			return err
		}
	}
	return nil
}

func (c *wsConn) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.write(string(packetClose))

	c.writeMu.Lock()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return c.conn.Close()
}

func (c *wsConn) discard() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.conn.Close()
}

// pollingConn is an Engine.IO connection over HTTP long-polling.
type pollingConn struct {
	client       *http.Client
	endpoint     *Endpoint
	sid          string
	header       http.Header
	writeTimeout time.Duration

	// ctx aborts in-flight requests once the connection is released.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	readTimeout time.Duration
	closed      bool
}

func newPollingConn(client *http.Client, ep *Endpoint, sid string, header http.Header, writeTimeout time.Duration) *pollingConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &pollingConn{
		client:       client,
		endpoint:     ep,
		sid:          sid,
		header:       header,
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// pollingHandshake performs the initial GET that opens an Engine.IO session.
// Frames that arrived alongside the open packet are returned.
func pollingHandshake(ctx context.Context, client *http.Client, ep *Endpoint, header http.Header) (handshake, []string, error) {
	body, err := doPoll(ctx, client, http.MethodGet, pollURL(ep, ""), header, "")
	if err != nil {
		return handshake{}, nil, err
	}

	frames := splitPayload(body)
	if len(frames) == 0 {
		return handshake{}, nil, fmt.Errorf("%w: empty response", ErrHandshake)
	}
	hs, err := decodeHandshake(frames[0])
	if err != nil {
		return handshake{}, nil, err
	}
	return hs, frames[1:], nil
}

func (c *pollingConn) name() string { return TransportPolling }

func (c *pollingConn) setReadTimeout(d time.Duration) {
	c.mu.Lock()
	c.readTimeout = d
	c.mu.Unlock()
}

func (c *pollingConn) read(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	timeout := c.readTimeout
	c.mu.Unlock()

	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	if _, ok := ctx.Deadline(); !ok && timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}

	body, err := doPoll(ctx, c.client, http.MethodGet, pollURL(c.endpoint, c.sid), c.header, "")
	if err != nil {
		return nil, err
	}
	return splitPayload(body), nil
}

func (c *pollingConn) write(frames ...string) error {
	if len(frames) == 0 {
		return nil
	}

	ctx, cancel := c.requestContext(context.Background())
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, c.writeTimeout)
	defer cancelTimeout()

	_, err := doPoll(ctx, c.client, http.MethodPost, pollURL(c.endpoint, c.sid), c.header, strings.Join(frames, recordSeparator))
	return err
}

// requestContext derives a request context that also ends when the
// connection is released.
func (c *pollingConn) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *pollingConn) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.write(string(packetClose))
	c.cancel()
	return err
}

func (c *pollingConn) discard() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
}

// pollURL adds a cache-busting timestamp to the polling URL.
func pollURL(ep *Endpoint, sid string) string {
	return ep.PollingURL(sid) + "&t=" + strconv.FormatInt(time.Now().UnixNano(), 36)
}

func doPoll(ctx context.Context, client *http.Client, method, url string, header http.Header, body string) (string, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != "" {
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return "", ctxErr
		}
		return "", fmt.Errorf("%s polling: %w", strings.ToLower(method), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	return string(data), nil
}
