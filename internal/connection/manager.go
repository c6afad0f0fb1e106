package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rickgao/relaychat/internal/metrics"
	"github.com/rickgao/relaychat/internal/model"
	"github.com/rickgao/relaychat/internal/router"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock sets the clock used for every timer.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) {
		if clk != nil {
			m.clock = clk
		}
	}
}

// WithDialer replaces the Socket.IO dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithProber replaces the endpoint prober. A nil prober disables probing.
func WithProber(p Prober) Option {
	return func(m *Manager) {
		m.prober = p
		m.proberSet = true
	}
}

// WithNotifier sets the receiver of local notices.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithSink sets the transcript sink.
func WithSink(s Sink) Option {
	return func(m *Manager) {
		m.sink = s
	}
}

// Manager is the public face of the relay connection.
type Manager struct {
	cfg      ManagerConfig
	logger   *slog.Logger
	clock    clock.Clock
	dialer   Dialer
	prober   Prober
	notifier Notifier
	metrics  *metrics.Metrics
	sink     Sink

	proberSet bool

	endpoints  *Endpoints
	seq        *Sequencer
	reg        *registry
	normalizer *router.Normalizer
	blocked    *BlockList
	typing     *typingScheduler
	aliases    aliasTable
	seen       *lru.Cache[string, struct{}]

	sessionID string
	localID   string

	mu          sync.RWMutex
	state       State
	transport   Transport
	connecting  bool
	cancelCycle context.CancelFunc
	generation  uint64
	receiving   bool
	user        *model.RegisteredUser
	profile     model.Profile
	users       []model.User
	connectedAt time.Time
	lastErr     error
}

// NewManager creates a Manager for cfg.Endpoints.
func NewManager(cfg ManagerConfig, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		logger:    slog.Default(),
		clock:     clock.New(),
		endpoints: NewEndpoints(cfg.Endpoints...),
		blocked:   NewBlockList(),
		aliases:   defaultAliases,
		sessionID: uuid.NewString(),
		localID:   uuid.NewString(),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.dialer == nil {
		m.dialer = NewSocketIODialer(m.logger)
	}
	if !m.proberSet && cfg.Sequencer.ProbeEnabled {
		m.prober = NewHTTPProber(m.dialer, cfg.Sequencer.Transport, cfg.Sequencer.ProbeTimeout, m.logger)
	}

	window := cfg.DedupWindow
	if window <= 0 {
		window = DefaultManagerConfig().DedupWindow
	}
	m.seen, _ = lru.New[string, struct{}](window)

	m.normalizer = router.NewNormalizer(m.logger, m.clock.Now)
	m.typing = newTypingScheduler(m.clock, cfg.TypingStopDelay)
	m.reg = newRegistry(m.prepare, m.logger)

	m.seq = NewSequencer(cfg.Sequencer, m.endpoints, m.dialer, m.prober, m.clock, m.logger)
	m.seq.metrics = m.metrics
	m.seq.onPhase = m.setState

	m.reg.add(EventUsersUpdate, m.handleUsersUpdate)
	m.reg.add(EventReconnect, m.handleReconnect)

	return m
}

// -----------------------------------------------------------------------------
// Connection lifecycle
// -----------------------------------------------------------------------------

// Connect runs one connection cycle. It returns nil right away when already
// connected and ErrConnectInProgress while another cycle runs or while the
// attached transport is re-handshaking on its own.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.connecting {
		m.mu.Unlock()
		return ErrConnectInProgress
	}
	if m.transport != nil {
		connected := m.transport.Connected()
		m.mu.Unlock()
		if connected {
			return nil
		}
		return ErrConnectInProgress
	}
	ctx, cancel := context.WithCancel(ctx)
	m.connecting = true
	m.cancelCycle = cancel
	gen := m.generation
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		m.connecting = false
		m.cancelCycle = nil
		m.mu.Unlock()
	}()

	t, err := m.seq.Connect(ctx)
	if err != nil {
		m.mu.Lock()
		m.lastErr = err
		if ctx.Err() != nil {
			m.state = StateDisconnected
		} else {
			m.state = StateFailed
		}
		m.mu.Unlock()

		if errors.Is(err, ErrEndpointsExhausted) || errors.Is(err, ErrNoEndpoints) {
			m.notify(NoticeOffline, "no relay reachable, using offline mode")
		}
		return err
	}

	return m.attach(t, gen)
}

// Retry restarts from the first endpoint with a fresh attempt counter.
func (m *Manager) Retry(ctx context.Context) error {
	m.mu.RLock()
	connecting := m.connecting
	m.mu.RUnlock()
	if connecting {
		return ErrConnectInProgress
	}

	if err := m.seq.Reset(); err != nil {
		return err
	}
	return m.Connect(ctx)
}

// attach makes t the live transport unless Disconnect ran meanwhile.
func (m *Manager) attach(t Transport, gen uint64) error {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		t.Close()
		return context.Canceled
	}
	old := m.transport
	m.transport = t
	m.state = StateConnected
	m.receiving = true
	m.connectedAt = m.clock.Now()
	m.lastErr = nil
	m.mu.Unlock()

	if old != nil {
		m.reg.unbind()
		old.Close()
	}

	m.reg.bind(t)
	m.metrics.SetConnected(true)
	go m.watch(t)

	m.notify(NoticeConnected, "connected to "+t.URL())
	return nil
}

// watch marks the manager disconnected once t stops for good.
func (m *Manager) watch(t Transport) {
	<-t.Done()

	m.mu.Lock()
	if m.transport != t {
		m.mu.Unlock()
		return
	}
	m.transport = nil
	m.receiving = false
	m.state = StateDisconnected
	m.lastErr = t.Err()
	m.mu.Unlock()

	m.reg.unbind()
	m.typing.stopAll()
	m.metrics.SetConnected(false)

	m.logger.Warn("relay connection lost", "endpoint", t.URL(), "error", t.Err())
	m.notify(NoticeDisconnected, "connection to relay lost")
}

// Disconnect tears down the live transport and abandons any running cycle.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.cancelCycle != nil {
		m.cancelCycle()
	}
	m.generation++
	t := m.transport
	m.transport = nil
	m.receiving = false
	m.state = StateDisconnected
	m.mu.Unlock()

	m.typing.stopAll()
	if t == nil {
		return nil
	}

	m.reg.unbind()
	m.metrics.SetConnected(false)
	m.logger.Info("disconnecting", "endpoint", t.URL())
	return t.Close()
}

// KeepConnected re-runs Connect every RetryInterval while not connected.
// onConnect, when set, runs after every successful cycle. It returns when ctx
// ends or after MaxRetryCycles consecutive failed cycles.
func (m *Manager) KeepConnected(ctx context.Context, onConnect func(context.Context) error) error {
	interval := m.cfg.RetryInterval
	if interval <= 0 {
		interval = DefaultManagerConfig().RetryInterval
	}

	failures := 0
	for {
		if !m.Connected() {
			err := m.Connect(ctx)
			switch {
			case err == nil:
				failures = 0
				if onConnect != nil {
					if err := onConnect(ctx); err != nil {
						m.logger.Warn("post-connect hook failed", "error", err)
					}
				}
			case errors.Is(err, ErrConnectInProgress):
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				failures++
				m.logger.Warn("connection cycle failed", "failures", failures, "error", err)
				if m.cfg.MaxRetryCycles > 0 && failures >= m.cfg.MaxRetryCycles {
					return fmt.Errorf("giving up after %d cycles: %w", failures, err)
				}
			}
		}

		timer := m.clock.Timer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// -----------------------------------------------------------------------------
// Listeners
// -----------------------------------------------------------------------------

// On registers fn for event. The transport sees one subscription per event
// name however many listeners there are.
func (m *Manager) On(event string, fn Listener) ListenerID {
	return m.reg.add(event, fn)
}

// Off removes one listener.
func (m *Manager) Off(event string, id ListenerID) bool {
	return m.reg.remove(event, id)
}

// OffAll removes every listener of event and its transport subscription.
func (m *Manager) OffAll(event string) int {
	return m.reg.removeAll(event)
}

// OnMessage delivers normalized chat messages arriving under any message
// event name, each message id once. The returned func unsubscribes.
func (m *Manager) OnMessage(fn func(model.Message)) func() {
	events := router.MessageEvents
	ids := make([]ListenerID, len(events))
	for i, event := range events {
		ids[i] = m.reg.add(event, func(ev Event) {
			if ev.Message == nil || ev.Duplicate {
				return
			}
			fn(*ev.Message)
		})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i, event := range events {
				m.reg.remove(event, ids[i])
			}
		})
	}
}

// prepare runs once per raw event. Chat messages are normalized, filtered
// and checked for duplicates; everything else passes through.
func (m *Manager) prepare(ev Event) (Event, bool) {
	if !router.IsMessageEvent(ev.Name) {
		return ev, true
	}

	msg := m.normalizer.Normalize(ev.Data)
	if msg.Empty() {
		m.metrics.MessageDropped(metrics.DropEmpty)
		return ev, false
	}

	m.mu.RLock()
	receiving := m.receiving
	endpoint := ""
	if m.transport != nil {
		endpoint = m.transport.URL()
	}
	m.mu.RUnlock()

	if !receiving {
		m.metrics.MessageDropped(metrics.DropNotReceiving)
		return ev, false
	}
	if m.blocked.Any(msg.From, msg.Sender, msg.To) {
		m.metrics.MessageDropped(metrics.DropBlocked)
		return ev, false
	}

	ev.Message = &msg
	if seen, _ := m.seen.ContainsOrAdd(msg.ID, struct{}{}); seen {
		ev.Duplicate = true
		m.metrics.MessageDropped(metrics.DropDuplicate)
		return ev, true
	}

	m.metrics.MessageReceived()
	m.record(model.Inbound, endpoint, msg)
	return ev, true
}

func (m *Manager) handleUsersUpdate(ev Event) {
	users, err := router.ParseRoster(ev.Data)
	if err != nil {
		m.logger.Debug("ignoring roster update", "error", err)
		return
	}
	m.mu.Lock()
	m.users = users
	m.mu.Unlock()
}

// handleReconnect runs after the transport re-established its session. The
// relay no longer knows the user, so the last registration is replayed.
func (m *Manager) handleReconnect(Event) {
	m.mu.Lock()
	registered := m.user != nil
	profile := m.profile
	m.user = nil
	m.connectedAt = m.clock.Now()
	m.mu.Unlock()

	m.logger.Info("transport re-established session", "reregister", registered)
	m.notify(NoticeReconnected, "reconnected to relay")
	if !registered {
		return
	}

	// The transport's read loop delivers the verdict, so wait elsewhere.
	go func() {
		if _, err := m.RegisterUser(context.Background(), profile); err != nil {
			m.logger.Warn("re-registration failed", "username", profile.Username, "error", err)
		}
	}()
}

// -----------------------------------------------------------------------------
// Registration
// -----------------------------------------------------------------------------

// RegisterUser announces profile and waits for the relay's verdict. On
// success the server id becomes canonical, receiving is enabled and the
// user subscribes to its own messages. There is no automatic retry.
func (m *Manager) RegisterUser(ctx context.Context, profile model.Profile) (model.RegisteredUser, error) {
	t := m.live()
	if t == nil {
		return model.RegisteredUser{}, ErrNotConnected
	}

	type verdict struct {
		user model.RegisteredUser
		err  error
	}
	verdicts := make(chan verdict, 1)
	deliver := func(v verdict) {
		select {
		case verdicts <- v:
		default:
		}
	}

	okID := m.reg.add(EventRegistrationSuccess, func(ev Event) {
		var reply registrationReply
		if err := json.Unmarshal(ev.Data, &reply); err != nil {
			m.logger.Warn("malformed registration_success, keeping local id", "error", err)
		} else if reply.ID == "" {
			m.logger.Warn("registration_success without server id, keeping local id")
		}
		username := reply.Username
		if username == "" {
			username = profile.Username
		}
		deliver(verdict{user: model.RegisteredUser{LocalID: m.localID, ServerID: reply.ID, Username: username}})
	})
	errID := m.reg.add(EventRegistrationError, func(ev Event) {
		deliver(verdict{err: &RegistrationError{Reason: registrationReason(ev.Data)}})
	})
	defer func() {
		m.reg.remove(EventRegistrationSuccess, okID)
		m.reg.remove(EventRegistrationError, errID)
	}()

	timer := m.clock.Timer(m.cfg.RegistrationTimeout)
	defer timer.Stop()

	if err := t.Emit(EventRegisterUser, registrationFrame(profile, m.sessionID, m.localID)); err != nil {
		return model.RegisteredUser{}, fmt.Errorf("register user: %w", err)
	}
	m.logger.Info("registering", "username", profile.Username)

	select {
	case v := <-verdicts:
		if v.err != nil {
			m.logger.Warn("registration rejected", "username", profile.Username, "error", v.err)
			return model.RegisteredUser{}, v.err
		}

		m.mu.Lock()
		user := v.user
		m.user = &user
		m.profile = profile
		m.receiving = true
		m.mu.Unlock()

		if err := t.Emit(EventSubscribe, subscribeFrame{UserID: user.CanonicalID(), Username: user.Username}); err != nil {
			m.logger.Warn("subscribe failed", "error", err)
		}
		m.logger.Info("registered", "username", user.Username, "id", user.CanonicalID())
		return user, nil

	case <-timer.C:
		return model.RegisteredUser{}, ErrRegistrationTimeout

	case <-ctx.Done():
		return model.RegisteredUser{}, ctx.Err()
	}
}

// -----------------------------------------------------------------------------
// Sending
// -----------------------------------------------------------------------------

// SendMessage stamps sender identity, id and timestamp onto out and emits it
// under the canonical event and its aliases.
func (m *Manager) SendMessage(out OutgoingMessage) (model.Message, error) {
	t := m.live()
	if t == nil {
		m.notify(NoticeNotConnected, "not connected, message not sent")
		return model.Message{}, ErrNotConnected
	}
	if m.blocked.Contains(out.To) {
		m.metrics.MessageDropped(metrics.DropBlocked)
		return model.Message{}, ErrUserBlocked
	}

	from, username := m.identity()
	msg := model.Message{
		ID:        uuid.NewString(),
		From:      from,
		Sender:    username,
		To:        out.To,
		Content:   out.Content,
		Image:     out.Image,
		Timestamp: m.clock.Now().UTC(),
	}
	if msg.Empty() {
		return model.Message{}, ErrEmptyMessage
	}

	if err := m.aliases.emit(t, EventSendMessage, newMessageFrame(msg)); err != nil {
		m.notify(NoticeSendFailed, "message could not be sent")
		return msg, fmt.Errorf("send message: %w", err)
	}

	m.metrics.MessageSent()
	m.record(model.Outbound, t.URL(), msg)
	return msg, nil
}

// SendTyping emits a typing update. A start schedules an automatic stop
// after TypingStopDelay, pushed back by every further start.
func (m *Manager) SendTyping(u TypingUpdate) error {
	if m.blocked.Contains(u.To) {
		return ErrUserBlocked
	}
	t := m.live()
	if t == nil {
		return ErrNotConnected
	}

	_, username := m.identity()
	if err := t.Emit(EventTyping, typingFrame{To: u.To, IsTyping: u.IsTyping, Username: username}); err != nil {
		return fmt.Errorf("send typing: %w", err)
	}

	if !u.IsTyping {
		m.typing.cancel(u.To)
		return nil
	}

	m.typing.schedule(u.To, func() {
		t := m.live()
		if t == nil {
			return
		}
		if err := t.Emit(EventTyping, typingFrame{To: u.To, IsTyping: false, Username: username}); err != nil {
			m.logger.Debug("auto stop typing failed", "to", u.To, "error", err)
		}
	})
	return nil
}

// -----------------------------------------------------------------------------
// Blocking
// -----------------------------------------------------------------------------

// BlockUser blocks userID locally and tells the relay. The local block
// applies even when the relay cannot be told.
func (m *Manager) BlockUser(userID string) error {
	m.blocked.Add(userID)
	m.typing.cancel(userID)

	t := m.live()
	if t == nil {
		return nil
	}
	if err := t.Emit(EventBlockUser, userID); err != nil {
		return fmt.Errorf("block user: %w", err)
	}
	return nil
}

// AddBlockedUser blocks userID locally only.
func (m *Manager) AddBlockedUser(userID string) bool {
	return m.blocked.Add(userID)
}

// RemoveBlockedUser unblocks userID.
func (m *Manager) RemoveBlockedUser(userID string) bool {
	return m.blocked.Remove(userID)
}

// IsUserBlocked reports whether userID is blocked.
func (m *Manager) IsUserBlocked(userID string) bool {
	return m.blocked.Contains(userID)
}

// BlockedUsers returns the blocked ids.
func (m *Manager) BlockedUsers() []string {
	return m.blocked.List()
}

// -----------------------------------------------------------------------------
// Introspection
// -----------------------------------------------------------------------------

// State returns the connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Connected reports whether a live transport is attached.
func (m *Manager) Connected() bool {
	return m.live() != nil
}

// ConnectionDetails returns a snapshot of the connection.
func (m *Manager) ConnectionDetails() ConnectionDetails {
	m.mu.RLock()
	d := ConnectionDetails{
		State:     m.state,
		StateName: m.state.String(),
		Receiving: m.receiving,
	}
	if m.transport != nil {
		d.Endpoint = m.transport.URL()
		d.Protocol = m.transport.Protocol()
		d.SessionID = m.transport.ID()
		d.ConnectedAt = m.connectedAt
	}
	if m.user != nil {
		user := *m.user
		d.User = &user
	}
	if m.lastErr != nil {
		d.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	d.Attempts = m.seq.Attempts()
	d.Index = m.seq.Index()
	return d
}

// Diagnostics returns the cached probe results in candidate order.
func (m *Manager) Diagnostics() []Diagnostics {
	return m.seq.Diagnostics()
}

// AttemptedServers returns the attempts of the latest cycle.
func (m *Manager) AttemptedServers() []AttemptRecord {
	return m.seq.Cycle()
}

// Endpoints returns the candidate list; changes apply from the next cycle.
func (m *Manager) Endpoints() *Endpoints {
	return m.endpoints
}

// Users returns the latest roster from users_update.
func (m *Manager) Users() []model.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.User(nil), m.users...)
}

// User returns the registered user, if any.
func (m *Manager) User() (model.RegisteredUser, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return model.RegisteredUser{}, false
	}
	return *m.user, true
}

// NormalizerStats returns inbound normalization counters.
func (m *Manager) NormalizerStats() router.Stats {
	return m.normalizer.Stats()
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// live returns the attached transport while it is connected.
func (m *Manager) live() Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.transport == nil || !m.transport.Connected() {
		return nil
	}
	return m.transport
}

// identity returns the id and display name outbound frames carry.
func (m *Manager) identity() (string, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user != nil {
		return m.user.CanonicalID(), m.user.Username
	}
	return m.localID, m.profile.Username
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) notify(kind NoticeKind, msg string) {
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(Notice{Kind: kind, Message: msg, At: m.clock.Now()})
}

func (m *Manager) record(dir model.Direction, endpoint string, msg model.Message) {
	if m.sink == nil {
		return
	}
	m.sink.Record(model.TranscriptEntry{
		Direction:  dir,
		Endpoint:   endpoint,
		Message:    msg,
		RecordedAt: m.clock.Now().UTC(),
	})
}
