package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Errors
var (
	ErrInvalidEndpoint  = errors.New("invalid endpoint")
	ErrNotConnected     = errors.New("not connected")
	ErrClosed           = errors.New("client closed")
	ErrHandshake        = errors.New("handshake failed")
	ErrUpgrade          = errors.New("websocket upgrade failed")
	ErrServerDisconnect = errors.New("disconnected by server")
)

// Transport names, in the order they appear in Options.Transports.
const (
	TransportPolling   = "polling"
	TransportWebSocket = "websocket"
)

// Local pseudo-events dispatched to handlers registered with On.
const (
	EventDisconnect = "disconnect"
	EventReconnect  = "reconnect"
)

// Handler receives the first argument of an event, or nil when the event
// carried none.
type Handler func(data json.RawMessage)

// ConnectError is returned when the server refuses the namespace connection.
type ConnectError struct {
	Message string
	Data    json.RawMessage
}

func (e *ConnectError) Error() string {
	return "connect error: " + e.Message
}

// HTTPError is returned when a handshake or polling request gets a non-200
// response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// Options configures a Client.
type Options struct {
	Path                 string        // Engine.IO path (default /socket.io/)
	Namespace            string        // Socket.IO namespace; taken from the URL path when empty
	Transports           []string      // Negotiation order; polling first enables upgrade
	Timeout              time.Duration // Bound on one full handshake
	ReconnectionAttempts int           // Re-handshakes after a dropped connection
	ReconnectionDelay    time.Duration // First reconnection delay, doubled per attempt
	ReconnectionDelayMax time.Duration // Reconnection delay cap
	WriteTimeout         time.Duration // Per-frame write deadline
	ForceNew             bool          // Never reuse a cached session
	Auth                 map[string]any
	Header               http.Header
	HTTPClient           *http.Client
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Path:                 "/socket.io/",
		Transports:           []string{TransportPolling, TransportWebSocket},
		Timeout:              15 * time.Second,
		ReconnectionAttempts: 3,
		ReconnectionDelay:    1 * time.Second,
		ReconnectionDelayMax: 5 * time.Second,
		WriteTimeout:         5 * time.Second,
		ForceNew:             true,
	}
}

// withDefaults fills zero-valued fields from DefaultOptions. A zero
// ReconnectionAttempts is kept as-is.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Path == "" {
		o.Path = def.Path
	}
	if len(o.Transports) == 0 {
		o.Transports = def.Transports
	}
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.ReconnectionDelay <= 0 {
		o.ReconnectionDelay = def.ReconnectionDelay
	}
	if o.ReconnectionDelayMax < o.ReconnectionDelay {
		o.ReconnectionDelayMax = o.ReconnectionDelay
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	return o
}

func (o Options) allows(transport string) bool {
	for _, t := range o.Transports {
		if t == transport {
			return true
		}
	}
	return false
}

// handshake is the Engine.IO open packet payload.
type handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"` // milliseconds
	PingTimeout  int      `json:"pingTimeout"`  // milliseconds
	MaxPayload   int      `json:"maxPayload"`
}

// liveness is how long the connection may stay silent before it is
// considered dead.
func (h handshake) liveness() time.Duration {
	return time.Duration(h.PingInterval+h.PingTimeout) * time.Millisecond
}

func (h handshake) offers(transport string) bool {
	for _, u := range h.Upgrades {
		if u == transport {
			return true
		}
	}
	return false
}
