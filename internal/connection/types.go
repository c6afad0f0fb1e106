package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/relaychat/internal/model"
	"github.com/rickgao/relaychat/internal/socketio"
)

// Errors
var (
	ErrConnectInProgress   = errors.New("connection attempt already in progress")
	ErrEndpointsExhausted  = errors.New("all relay endpoints failed")
	ErrNoEndpoints         = errors.New("no relay endpoints configured")
	ErrWatchdogTimeout     = errors.New("connection watchdog expired")
	ErrProbeFailed         = errors.New("endpoint probe failed")
	ErrNotConnected        = errors.New("not connected")
	ErrUserBlocked         = errors.New("user is blocked")
	ErrEmptyMessage        = errors.New("message has no content")
	ErrRegistrationTimeout = errors.New("registration timed out")
)

// RegistrationError carries the relay's reason for refusing a registration.
type RegistrationError struct {
	Reason string
}

func (e *RegistrationError) Error() string {
	return "registration rejected: " + e.Reason
}

// Relay event names.
const (
	EventRegisterUser        = "register_user"
	EventRegistrationSuccess = "registration_success"
	EventRegistrationError   = "registration_error"
	EventUsersUpdate         = "users_update"
	EventSendMessage         = "send_message"
	EventDirectMessage       = "direct_message"
	EventMessage             = "message"
	EventTyping              = "typing"
	EventBlockUser           = "block_user"
	EventSubscribe           = "subscribe"

	// EventReconnect is raised by the transport after it re-handshook on
	// its own. The relay sees a new session and has forgotten the user.
	EventReconnect = "reconnect"
)

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

// State is the manager's connection state.
type State int

const (
	StateIdle State = iota
	StateProbing
	StateConnecting
	StateConnected
	StateFailed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// -----------------------------------------------------------------------------
// Diagnostics
// -----------------------------------------------------------------------------

// Stage identifies where a probe failed.
type Stage string

const (
	StageOK        Stage = "ok"
	StageInit      Stage = "init"      // URL could not be used at all
	StageHTTP      Stage = "http"      // Host unreachable over HTTP
	StageTransport Stage = "transport" // Reachable, but the handshake failed
)

// Diagnostics is the result of probing one endpoint.
type Diagnostics struct {
	URL        string        `json:"url"`
	CanConnect bool          `json:"canConnect"`
	Protocol   string        `json:"protocol,omitempty"`
	Latency    time.Duration `json:"latency,omitempty"`
	HTTPStatus int           `json:"httpStatus,omitempty"`
	Stage      Stage         `json:"stage"`
	Error      string        `json:"error,omitempty"`
	CheckedAt  time.Time     `json:"checkedAt"`
}

// Skippable reports whether the sequencer may skip the endpoint without a
// full attempt.
func (d Diagnostics) Skippable() bool {
	return d.Stage == StageInit || d.Stage == StageHTTP
}

// Outcome is how one candidate attempt ended.
type Outcome string

const (
	OutcomeConnected Outcome = "connected"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

// AttemptRecord describes one candidate attempt within a cycle.
type AttemptRecord struct {
	Endpoint    string        `json:"endpoint"`
	Index       int           `json:"index"`
	StartedAt   time.Time     `json:"startedAt"`
	Duration    time.Duration `json:"duration"`
	Outcome     Outcome       `json:"outcome"`
	Diagnostics *Diagnostics  `json:"diagnostics,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// ConnectionDetails is a snapshot of the manager for display.
type ConnectionDetails struct {
	State       State                 `json:"-"`
	StateName   string                `json:"state"`
	Endpoint    string                `json:"endpoint,omitempty"`
	Protocol    string                `json:"protocol,omitempty"`
	SessionID   string                `json:"sessionId,omitempty"`
	ConnectedAt time.Time             `json:"connectedAt,omitempty"`
	Attempts    int                   `json:"attempts"`
	Index       int                   `json:"index"`
	Receiving   bool                  `json:"receiving"`
	User        *model.RegisteredUser `json:"user,omitempty"`
	LastError   string                `json:"lastError,omitempty"`
}

// -----------------------------------------------------------------------------
// Events and listeners
// -----------------------------------------------------------------------------

// Event is one inbound relay event as seen by listeners.
type Event struct {
	Name string
	Data json.RawMessage
	// Message is the normalized payload for chat message events.
	Message *model.Message
	// Duplicate is set when the message id was already delivered under
	// another event name.
	Duplicate bool
}

// Listener receives relay events.
type Listener func(Event)

// ListenerID identifies a registered listener.
type ListenerID uint64

// -----------------------------------------------------------------------------
// Outbound
// -----------------------------------------------------------------------------

// OutgoingMessage is what the application asks to send.
type OutgoingMessage struct {
	To      string
	Content string
	Image   json.RawMessage
}

// TypingUpdate toggles the typing indicator towards one user.
type TypingUpdate struct {
	To       string
	IsTyping bool
}

// -----------------------------------------------------------------------------
// Notices
// -----------------------------------------------------------------------------

// NoticeKind classifies a local, user-facing notice.
type NoticeKind string

const (
	NoticeConnected    NoticeKind = "connected"
	NoticeDisconnected NoticeKind = "disconnected"
	NoticeOffline      NoticeKind = "offline"
	NoticeNotConnected NoticeKind = "not_connected"
	NoticeSendFailed   NoticeKind = "send_failed"
	NoticeReconnected  NoticeKind = "reconnected"
)

// Notice is a local notification for the UI.
type Notice struct {
	Kind    NoticeKind
	Message string
	At      time.Time
}

// Notifier receives local notices.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// Sink receives sent and received messages, e.g. for archiving.
type Sink interface {
	Record(entry model.TranscriptEntry)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// SequencerConfig configures candidate iteration.
type SequencerConfig struct {
	MaxReconnectAttempts int              // Cycles before the index wraps to 0
	AttemptTimeout       time.Duration    // Transport handshake timeout
	WatchdogTimeout      time.Duration    // Independent bound on one attempt
	ProbeTimeout         time.Duration    // Probe handshake timeout
	ProbeEnabled         bool             // Run the probe before each attempt
	Transport            socketio.Options // Base transport options
}

// DefaultSequencerConfig returns sensible defaults.
func DefaultSequencerConfig() SequencerConfig {
	opts := socketio.DefaultOptions()
	opts.ReconnectionAttempts = 3
	return SequencerConfig{
		MaxReconnectAttempts: 7,
		AttemptTimeout:       15 * time.Second,
		WatchdogTimeout:      15 * time.Second,
		ProbeTimeout:         5 * time.Second,
		ProbeEnabled:         true,
		Transport:            opts,
	}
}

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	Endpoints           []string        // Candidate relay URLs in trial order
	Sequencer           SequencerConfig // Candidate iteration
	RegistrationTimeout time.Duration   // Wait for registration_success/error
	TypingStopDelay     time.Duration   // Auto "stop typing" delay
	DedupWindow         int             // Message ids remembered for de-duplication
	RetryInterval       time.Duration   // KeepConnected polling interval
	MaxRetryCycles      int             // KeepConnected failed cycles before giving up (0 = never)
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Sequencer:           DefaultSequencerConfig(),
		RegistrationTimeout: 15 * time.Second,
		TypingStopDelay:     5 * time.Second,
		DedupWindow:         1024,
		RetryInterval:       10 * time.Second,
	}
}
