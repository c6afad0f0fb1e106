package socketio

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeRelay is a minimal Engine.IO v4 / Socket.IO v5 server.
type fakeRelay struct {
	server         *httptest.Server
	upgrades       []string
	rejectConnect  string
	emptyBeforeAck bool
	pollWait       time.Duration

	mu       sync.Mutex
	sessions map[string]*relaySession
	events   []relayEvent
	nextID   int
	sockets  map[*websocket.Conn]struct{}
	refuse   bool
	refused  int
}

type relaySession struct {
	id  string
	out chan string
}

type relayEvent struct {
	Name      string
	Data      json.RawMessage
	Transport string
}

type relayOption func(*fakeRelay)

func withUpgrades(upgrades ...string) relayOption {
	return func(r *fakeRelay) { r.upgrades = upgrades }
}

func withRejectConnect(reason string) relayOption {
	return func(r *fakeRelay) { r.rejectConnect = reason }
}

// withEmptyFrameBeforeAck makes the relay send an empty frame ahead of the
// namespace CONNECT reply.
func withEmptyFrameBeforeAck() relayOption {
	return func(r *fakeRelay) { r.emptyBeforeAck = true }
}

func newFakeRelay(t *testing.T, opts ...relayOption) *fakeRelay {
	t.Helper()

	r := &fakeRelay{
		upgrades: []string{TransportWebSocket},
		pollWait: 100 * time.Millisecond,
		sessions: make(map[string]*relaySession),
		sockets:  make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/socket.io/", r.handle)
	r.server = httptest.NewServer(mux)
	t.Cleanup(r.server.Close)
	return r
}

func (r *fakeRelay) URL() string {
	return r.server.URL
}

func (r *fakeRelay) handle(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	if q.Get("EIO") != "4" {
		http.Error(w, "unsupported protocol version", http.StatusBadRequest)
		return
	}

	if q.Get("sid") == "" {
		r.mu.Lock()
		refuse := r.refuse
		if refuse {
			r.refused++
		}
		r.mu.Unlock()
		if refuse {
			http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	switch q.Get("transport") {
	case TransportPolling:
		r.handlePolling(w, req, q.Get("sid"))
	case TransportWebSocket:
		r.handleWebSocket(w, req, q.Get("sid"))
	default:
		http.Error(w, "unknown transport", http.StatusBadRequest)
	}
}

func (r *fakeRelay) newSession() *relaySession {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s := &relaySession{id: fmt.Sprintf("eio-%d", r.nextID), out: make(chan string, 64)}
	r.sessions[s.id] = s
	return s
}

func (r *fakeRelay) session(sid string) *relaySession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sid]
}

func openPacket(sid string, upgrades []string) string {
	if upgrades == nil {
		upgrades = []string{}
	}
	data, _ := json.Marshal(map[string]any{
		"sid":          sid,
		"upgrades":     upgrades,
		"pingInterval": 25000,
		"pingTimeout":  20000,
		"maxPayload":   1000000,
	})
	return "0" + string(data)
}

func (r *fakeRelay) handlePolling(w http.ResponseWriter, req *http.Request, sid string) {
	if sid == "" {
		s := r.newSession()
		io.WriteString(w, openPacket(s.id, r.upgrades))
		return
	}

	s := r.session(sid)
	if s == nil {
		http.Error(w, "unknown sid", http.StatusBadRequest)
		return
	}

	switch req.Method {
	case http.MethodGet:
		select {
		case p := <-s.out:
			packets := []string{p}
		drain:
			for {
				select {
				case more := <-s.out:
					packets = append(packets, more)
				default:
					break drain
				}
			}
			io.WriteString(w, strings.Join(packets, recordSeparator))
		case <-time.After(r.pollWait):
			io.WriteString(w, "6")
		case <-req.Context().Done():
		}
	case http.MethodPost:
		body, _ := io.ReadAll(req.Body)
		for _, p := range strings.Split(string(body), recordSeparator) {
			r.handlePacket(s, p, TransportPolling)
		}
		io.WriteString(w, "ok")
	}
}

func (r *fakeRelay) handleWebSocket(w http.ResponseWriter, req *http.Request, sid string) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.sockets[conn] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.sockets, conn)
		r.mu.Unlock()
		conn.Close()
	}()

	var s *relaySession
	if sid == "" {
		s = r.newSession()
		conn.WriteMessage(websocket.TextMessage, []byte(openPacket(s.id, nil)))
	} else {
		if s = r.session(sid); s == nil {
			return
		}
		if _, data, err := conn.ReadMessage(); err != nil || string(data) != "2probe" {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte("3probe"))
		if _, data, err := conn.ReadMessage(); err != nil || string(data) != "5" {
			return
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case p := <-s.out:
				if err := conn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.handlePacket(s, string(data), TransportWebSocket)
	}
}

func (r *fakeRelay) handlePacket(s *relaySession, p, transport string) {
	switch {
	case strings.HasPrefix(p, "40"):
		if r.rejectConnect != "" {
			s.out <- `44{"message":"` + r.rejectConnect + `"}`
			return
		}
		if r.emptyBeforeAck {
			s.out <- ""
		}
		s.out <- `40{"sid":"sio-` + s.id + `"}`
	case strings.HasPrefix(p, "42"):
		name, data, err := decodeEvent(p[2:])
		if err != nil {
			return
		}
		r.mu.Lock()
		r.events = append(r.events, relayEvent{Name: name, Data: data, Transport: transport})
		r.mu.Unlock()
		if name == "echo" {
			s.out <- `42["echo",` + string(data) + `]`
		}
	}
}

// push sends a raw frame to every session.
func (r *fakeRelay) push(frame string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		s.out <- frame
	}
}

// dropSockets cuts every open WebSocket without a close packet.
func (r *fakeRelay) dropSockets() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.sockets {
		conn.Close()
	}
}

// refuseHandshakes makes new Engine.IO handshakes fail with 503.
func (r *fakeRelay) refuseHandshakes() {
	r.mu.Lock()
	r.refuse = true
	r.mu.Unlock()
}

func (r *fakeRelay) refusedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refused
}

func (r *fakeRelay) sessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *fakeRelay) recorded() []relayEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]relayEvent(nil), r.events...)
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
