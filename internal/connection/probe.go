package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/relaychat/internal/socketio"
)

// Prober checks whether an endpoint looks usable. It never fails; problems are
// reported in the returned Diagnostics.
type Prober interface {
	Probe(ctx context.Context, url string) Diagnostics
}

// HTTPProber runs a best-effort HTTP reachability check followed by a short
// transport handshake that is closed right away.
type HTTPProber struct {
	dialer  Dialer
	opts    socketio.Options
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPProber creates a prober. The handshake uses opts with timeout and no
// transport-internal reconnection.
func NewHTTPProber(dialer Dialer, opts socketio.Options, timeout time.Duration, logger *slog.Logger) *HTTPProber {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	opts.Timeout = timeout
	opts.ReconnectionAttempts = 0
	opts.ForceNew = true

	return &HTTPProber{
		dialer:  dialer,
		opts:    opts,
		timeout: timeout,
		client:  client,
		logger:  logger,
	}
}

// Probe checks url.
func (p *HTTPProber) Probe(ctx context.Context, url string) (d Diagnostics) {
	d = Diagnostics{URL: url, CheckedAt: time.Now()}

	defer func() {
		if r := recover(); r != nil {
			d.CanConnect = false
			d.Stage = StageTransport
			d.Error = fmt.Sprintf("probe panic: %v", r)
		}
	}()

	ep, err := socketio.ParseEndpoint(url, p.opts.Path)
	if err != nil {
		d.Stage = StageInit
		d.Error = err.Error()
		return d
	}

	status, err := p.reach(ctx, ep.Origin())
	if err != nil {
		d.Stage = StageHTTP
		d.Error = err.Error()
		p.logger.Debug("probe unreachable", "endpoint", url, "error", err)
		return d
	}
	d.HTTPStatus = status

	start := time.Now()
	t, err := p.dialer.Dial(ctx, url, p.opts)
	d.Latency = time.Since(start)
	if err != nil {
		d.Stage = StageTransport
		d.Error = err.Error()
		p.logger.Debug("probe handshake failed", "endpoint", url, "error", err)
		return d
	}

	d.CanConnect = true
	d.Stage = StageOK
	d.Protocol = t.Protocol()
	if err := t.Close(); err != nil {
		p.logger.Debug("probe close failed", "endpoint", url, "error", err)
	}
	return d
}

// reach issues a GET against the origin. Any HTTP response, whatever its
// status, counts as reachable.
func (p *HTTPProber) reach(ctx context.Context, origin string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	for k, v := range p.opts.Header {
		req.Header[k] = v
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
