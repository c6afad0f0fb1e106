package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"

	"github.com/rickgao/relaychat/internal/metrics"
)

const diagnosticsCacheSize = 64

// Sequencer tries candidate endpoints one at a time until one connects.
type Sequencer struct {
	cfg       SequencerConfig
	endpoints *Endpoints
	dialer    Dialer
	prober    Prober
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	onPhase   func(State)

	diag *lru.Cache[string, Diagnostics]

	mu       sync.Mutex
	inFlight bool
	attempts int
	index    int
	current  string
	cycle    []AttemptRecord
}

// NewSequencer creates a Sequencer. prober may be nil to disable probing.
func NewSequencer(cfg SequencerConfig, endpoints *Endpoints, dialer Dialer, prober Prober, clk clock.Clock, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	diag, _ := lru.New[string, Diagnostics](diagnosticsCacheSize)

	return &Sequencer{
		cfg:       cfg,
		endpoints: endpoints,
		dialer:    dialer,
		prober:    prober,
		clock:     clk,
		logger:    logger,
		diag:      diag,
	}
}

// Connect runs one connection cycle from the current candidate index.
func (s *Sequencer) Connect(ctx context.Context) (Transport, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrConnectInProgress
	}
	s.inFlight = true
	s.attempts++
	if s.attempts > s.cfg.MaxReconnectAttempts {
		s.logger.Info("reconnect attempts exceeded, restarting from first endpoint", "attempts", s.attempts-1)
		s.index = 0
		s.attempts = 1
	}
	start := s.index
	s.cycle = nil
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	candidates := s.endpoints.Snapshot()
	if len(candidates) == 0 {
		return nil, ErrNoEndpoints
	}

	var errs error
	for i := start; i < len(candidates); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		url := candidates[i]
		rec := AttemptRecord{Endpoint: url, Index: i, StartedAt: s.clock.Now()}
		s.logger.Info("trying relay endpoint", "endpoint", url, "index", i, "of", len(candidates))

		t, err := s.attempt(ctx, url, &rec)
		rec.Duration = s.clock.Since(rec.StartedAt)

		if err == nil {
			rec.Outcome = OutcomeConnected
			s.metrics.ObserveAttempt(metrics.ResultConnected, rec.Duration)

			s.mu.Lock()
			s.attempts = 0
			s.index = i
			s.current = url
			s.cycle = append(s.cycle, rec)
			s.mu.Unlock()

			s.logger.Info("relay connected", "endpoint", url, "transport", t.Protocol())
			return t, nil
		}

		rec.Error = err.Error()
		if ctx.Err() != nil {
			rec.Outcome = OutcomeCancelled
			s.mu.Lock()
			s.cycle = append(s.cycle, rec)
			s.mu.Unlock()
			return nil, ctx.Err()
		}

		s.metrics.ObserveAttempt(outcomeResult(rec.Outcome), rec.Duration)
		s.logger.Warn("relay endpoint failed", "endpoint", url, "outcome", rec.Outcome, "error", err)

		s.mu.Lock()
		s.index = i + 1
		s.cycle = append(s.cycle, rec)
		s.mu.Unlock()

		errs = multierr.Append(errs, fmt.Errorf("%s: %w", url, err))
	}

	if errs == nil {
		return nil, fmt.Errorf("%w: no candidates left after index %d", ErrEndpointsExhausted, start)
	}
	return nil, fmt.Errorf("%w: %w", ErrEndpointsExhausted, errs)
}

// attempt probes and dials one candidate.
func (s *Sequencer) attempt(ctx context.Context, url string, rec *AttemptRecord) (Transport, error) {
	if s.cfg.ProbeEnabled && s.prober != nil {
		s.phase(StateProbing)
		d := s.probe(ctx, url)
		rec.Diagnostics = &d
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if d.Skippable() {
			rec.Outcome = OutcomeSkipped
			return nil, fmt.Errorf("%w (%s): %s", ErrProbeFailed, d.Stage, d.Error)
		}
	}

	s.phase(StateConnecting)

	opts := s.cfg.Transport
	opts.Timeout = s.cfg.AttemptTimeout
	opts.ForceNew = true

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan dialResult, 1)

	watchdog := s.clock.Timer(s.cfg.WatchdogTimeout)
	defer watchdog.Stop()

	go func() {
		t, err := s.dialer.Dial(dialCtx, url, opts)
		results <- dialResult{t: t, err: err}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			rec.Outcome = OutcomeFailed
			return nil, r.err
		}
		return r.t, nil
	case <-watchdog.C:
		rec.Outcome = OutcomeTimeout
		go closeLate(results)
		return nil, ErrWatchdogTimeout
	case <-ctx.Done():
		go closeLate(results)
		return nil, ctx.Err()
	}
}

type dialResult struct {
	t   Transport
	err error
}

// closeLate closes a transport that finished connecting after its attempt was
// abandoned.
func closeLate(results <-chan dialResult) {
	if r := <-results; r.t != nil {
		r.t.Close()
	}
}

// probe runs the prober in the background. A probe outliving ctx still
// records its result in the cache.
func (s *Sequencer) probe(ctx context.Context, url string) Diagnostics {
	done := make(chan Diagnostics, 1)
	go func() {
		d := s.prober.Probe(context.WithoutCancel(ctx), url)
		s.diag.Add(url, d)
		done <- d
	}()

	select {
	case d := <-done:
		return d
	case <-ctx.Done():
		return Diagnostics{URL: url, Stage: StageTransport, Error: ctx.Err().Error(), CheckedAt: s.clock.Now()}
	}
}

func (s *Sequencer) phase(st State) {
	if s.onPhase != nil {
		s.onPhase(st)
	}
}

// Reset moves back to the first candidate with a fresh attempt counter.
func (s *Sequencer) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrConnectInProgress
	}
	s.index = 0
	s.attempts = 0
	return nil
}

// Retry resets and runs a new cycle.
func (s *Sequencer) Retry(ctx context.Context) (Transport, error) {
	if err := s.Reset(); err != nil {
		return nil, err
	}
	return s.Connect(ctx)
}

// InFlight reports whether a cycle is running.
func (s *Sequencer) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Attempts returns the reconnect-attempt counter.
func (s *Sequencer) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Index returns the candidate index the next cycle starts from.
func (s *Sequencer) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Current returns the endpoint that last connected.
func (s *Sequencer) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Cycle returns the attempts of the latest cycle.
func (s *Sequencer) Cycle() []AttemptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AttemptRecord(nil), s.cycle...)
}

// Diagnostics returns cached probe results in candidate order.
func (s *Sequencer) Diagnostics() []Diagnostics {
	var out []Diagnostics
	for _, url := range s.endpoints.Snapshot() {
		if d, ok := s.diag.Peek(url); ok {
			out = append(out, d)
		}
	}
	return out
}

// DiagnosticsFor returns the cached probe result for url.
func (s *Sequencer) DiagnosticsFor(url string) (Diagnostics, bool) {
	return s.diag.Peek(url)
}

func outcomeResult(o Outcome) string {
	switch o {
	case OutcomeSkipped:
		return metrics.ResultSkipped
	case OutcomeTimeout:
		return metrics.ResultTimeout
	default:
		return metrics.ResultFailed
	}
}
