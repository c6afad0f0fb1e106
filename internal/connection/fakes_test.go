package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/relaychat/internal/socketio"
)

// fakeTransport records subscriptions and emits.
type fakeTransport struct {
	url string

	mu        sync.Mutex
	handlers  map[string]socketio.Handler
	onCalls   map[string]int
	offCalls  map[string]int
	emitted   []emittedFrame
	connected bool
	closed    int
	err       error
	emitErr   error

	done     chan struct{}
	doneOnce sync.Once
}

type emittedFrame struct {
	Event   string
	Payload json.RawMessage
}

func newFakeTransport(url string) *fakeTransport {
	return &fakeTransport{
		url:       url,
		handlers:  make(map[string]socketio.Handler),
		onCalls:   make(map[string]int),
		offCalls:  make(map[string]int),
		connected: true,
		done:      make(chan struct{}),
	}
}

func (f *fakeTransport) ID() string       { return "sid-" + f.url }
func (f *fakeTransport) URL() string      { return f.url }
func (f *fakeTransport) Protocol() string { return socketio.TransportWebSocket }

func (f *fakeTransport) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return socketio.ErrNotConnected
	}
	if f.emitErr != nil {
		return f.emitErr
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.emitted = append(f.emitted, emittedFrame{Event: event, Payload: data})
	return nil
}

func (f *fakeTransport) On(event string, h socketio.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = h
	f.onCalls[event]++
}

func (f *fakeTransport) Off(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, event)
	f.offCalls[event]++
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeTransport) Close() error {
	f.stop(socketio.ErrClosed)
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

// stop ends the transport as if the server dropped it.
func (f *fakeTransport) stop(err error) {
	f.mu.Lock()
	f.connected = false
	if f.err == nil {
		f.err = err
	}
	f.mu.Unlock()
	f.doneOnce.Do(func() { close(f.done) })
}

// suspend drops the session without ending the transport, as an internal
// re-handshake does.
func (f *fakeTransport) suspend() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

// resume restores the session and raises the reconnect event.
func (f *fakeTransport) resume() {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.deliver(EventReconnect, "1")
}

// deliver simulates an inbound event.
func (f *fakeTransport) deliver(event, payload string) {
	f.mu.Lock()
	h := f.handlers[event]
	f.mu.Unlock()
	if h != nil {
		h(json.RawMessage(payload))
	}
}

func (f *fakeTransport) frames(event string) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []json.RawMessage
	for _, e := range f.emitted {
		if e.Event == event {
			out = append(out, e.Payload)
		}
	}
	return out
}

func (f *fakeTransport) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.emitted))
	for i, e := range f.emitted {
		out[i] = e.Event
	}
	return out
}

func (f *fakeTransport) subscriptions(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onCalls[event]
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// dialBehavior selects how fakeDialer treats an endpoint.
type dialBehavior int

const (
	dialOK dialBehavior = iota
	dialFail
	dialHang
)

// fakeDialer hands out fakeTransports.
type fakeDialer struct {
	mu         sync.Mutex
	behavior   map[string]dialBehavior
	calls      []string
	opts       []socketio.Options
	transports []*fakeTransport
}

func newFakeDialer(behavior map[string]dialBehavior) *fakeDialer {
	if behavior == nil {
		behavior = make(map[string]dialBehavior)
	}
	return &fakeDialer{behavior: behavior}
}

func (d *fakeDialer) Dial(ctx context.Context, url string, opts socketio.Options) (Transport, error) {
	d.mu.Lock()
	d.calls = append(d.calls, url)
	d.opts = append(d.opts, opts)
	b := d.behavior[url]
	d.mu.Unlock()

	switch b {
	case dialFail:
		return nil, errors.New("connect_error from " + url)
	case dialHang:
		<-ctx.Done()
		return nil, ctx.Err()
	}

	t := newFakeTransport(url)
	d.mu.Lock()
	d.transports = append(d.transports, t)
	d.mu.Unlock()
	return t, nil
}

func (d *fakeDialer) setBehavior(url string, b dialBehavior) {
	d.mu.Lock()
	d.behavior[url] = b
	d.mu.Unlock()
}

func (d *fakeDialer) callList() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDialer) lastOptions() socketio.Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts[len(d.opts)-1]
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// fakeProber returns canned diagnostics; unknown URLs probe fine.
type fakeProber struct {
	results map[string]Diagnostics
}

func (p *fakeProber) Probe(_ context.Context, url string) Diagnostics {
	if d, ok := p.results[url]; ok {
		d.URL = url
		return d
	}
	return Diagnostics{URL: url, CanConnect: true, Stage: StageOK, Protocol: socketio.TransportWebSocket}
}

// recordingNotifier collects notices.
type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(notice Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, notice)
	n.mu.Unlock()
}

func (n *recordingNotifier) count(kind NoticeKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, notice := range n.notices {
		if notice.Kind == kind {
			c++
		}
	}
	return c
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
