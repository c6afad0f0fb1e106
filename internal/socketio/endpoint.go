package socketio

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoint is a parsed relay URL.
type Endpoint struct {
	Secure    bool
	Host      string
	Path      string // Engine.IO path
	Namespace string
	Query     url.Values
}

// ParseEndpoint parses a relay URL. http, https, ws and wss schemes are
// accepted; a non-root URL path selects the namespace.
func ParseEndpoint(raw, path string) (*Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	ep := &Endpoint{Host: u.Host, Path: path, Namespace: "/", Query: u.Query()}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
	case "https", "wss":
		ep.Secure = true
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q in %q", ErrInvalidEndpoint, u.Scheme, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidEndpoint, raw)
	}

	if ep.Path == "" {
		ep.Path = "/socket.io/"
	}
	if p := strings.TrimRight(u.Path, "/"); p != "" {
		ep.Namespace = p
	}

	return ep, nil
}

// PollingURL returns the long-polling URL for sid (empty for the handshake).
func (e *Endpoint) PollingURL(sid string) string {
	scheme := "http"
	if e.Secure {
		scheme = "https"
	}
	return e.url(scheme, TransportPolling, sid)
}

// WebSocketURL returns the WebSocket URL for sid (empty for a direct
// WebSocket handshake).
func (e *Endpoint) WebSocketURL(sid string) string {
	scheme := "ws"
	if e.Secure {
		scheme = "wss"
	}
	return e.url(scheme, TransportWebSocket, sid)
}

// Origin returns the http(s) base URL.
func (e *Endpoint) Origin() string {
	scheme := "http"
	if e.Secure {
		scheme = "https"
	}
	return scheme + "://" + e.Host
}

func (e *Endpoint) url(scheme, transport, sid string) string {
	q := url.Values{}
	for k, v := range e.Query {
		q[k] = append([]string(nil), v...)
	}
	q.Set("EIO", "4")
	q.Set("transport", transport)
	if sid != "" {
		q.Set("sid", sid)
	}

	u := url.URL{Scheme: scheme, Host: e.Host, Path: e.Path, RawQuery: q.Encode()}
	return u.String()
}
