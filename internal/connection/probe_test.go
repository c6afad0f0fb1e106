package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rickgao/relaychat/internal/socketio"
)

func TestHTTPProber_InitFailure(t *testing.T) {
	dialer := newFakeDialer(nil)
	p := NewHTTPProber(dialer, socketio.DefaultOptions(), time.Second, nil)

	d := p.Probe(context.Background(), "not a url")

	if d.Stage != StageInit || !d.Skippable() || d.CanConnect {
		t.Errorf("got %+v, want skippable init failure", d)
	}
	if len(dialer.callList()) != 0 {
		t.Error("expected no handshake for a malformed URL")
	}
}

func TestHTTPProber_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	dialer := newFakeDialer(nil)
	p := NewHTTPProber(dialer, socketio.DefaultOptions(), time.Second, nil)

	d := p.Probe(context.Background(), url)

	if d.Stage != StageHTTP || !d.Skippable() {
		t.Errorf("got %+v, want skippable http failure", d)
	}
	if d.Error == "" {
		t.Error("expected error text")
	}
	if len(dialer.callList()) != 0 {
		t.Error("expected no handshake for an unreachable host")
	}
}

func TestHTTPProber_AnyHTTPResponseIsReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nothing here", http.StatusNotFound)
	}))
	defer server.Close()

	dialer := newFakeDialer(nil)
	p := NewHTTPProber(dialer, socketio.DefaultOptions(), 5*time.Second, nil)

	d := p.Probe(context.Background(), server.URL)

	if !d.CanConnect || d.Stage != StageOK {
		t.Fatalf("got %+v, want success", d)
	}
	if d.HTTPStatus != http.StatusNotFound {
		t.Errorf("HTTPStatus = %d, want 404", d.HTTPStatus)
	}
	if d.Protocol != socketio.TransportWebSocket {
		t.Errorf("Protocol = %q", d.Protocol)
	}
	if tr := dialer.last(); tr == nil || tr.closeCount() != 1 {
		t.Error("expected the probe transport to be closed")
	}

	opts := dialer.lastOptions()
	if opts.Timeout != 5*time.Second || opts.ReconnectionAttempts != 0 || !opts.ForceNew {
		t.Errorf("probe options = %+v", opts)
	}
}

func TestHTTPProber_HandshakeFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	dialer := newFakeDialer(map[string]dialBehavior{server.URL: dialFail})
	p := NewHTTPProber(dialer, socketio.DefaultOptions(), time.Second, nil)

	d := p.Probe(context.Background(), server.URL)

	if d.Stage != StageTransport || d.Skippable() || d.CanConnect {
		t.Errorf("got %+v, want non-skippable transport failure", d)
	}
}

func TestHTTPProber_GetsOrigin(t *testing.T) {
	paths := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case paths <- r.Method + " " + r.URL.Path:
		default:
		}
	}))
	defer server.Close()

	dialer := newFakeDialer(nil)
	p := NewHTTPProber(dialer, socketio.DefaultOptions(), time.Second, nil)

	url := server.URL + "/chat"
	if d := p.Probe(context.Background(), url); !d.CanConnect {
		t.Fatalf("got %+v, want success", d)
	}

	if got := <-paths; got != "GET /" {
		t.Errorf("request = %q, want %q", got, "GET /")
	}
	if calls := dialer.callList(); len(calls) != 1 || calls[0] != url {
		t.Errorf("dials = %v, want the full endpoint", calls)
	}
}
