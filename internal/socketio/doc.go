// Package socketio implements a Socket.IO v5 client over Engine.IO v4.
//
// A Client performs the HTTP long-polling handshake, upgrades to WebSocket
// when the server offers it (2probe / 3probe / 5), and falls back to
// long-polling otherwise. Once the namespace CONNECT is acknowledged the
// client dispatches named events to at most one handler per event name and
// answers server pings. A dropped connection is re-established up to
// Options.ReconnectionAttempts times before the client reports a disconnect.
//
// Only text frames are supported; binary attachments and acknowledgements
// are ignored.
package socketio
