package connection

import (
	"encoding/json"

	"go.uber.org/multierr"

	"github.com/rickgao/relaychat/internal/model"
)

// aliasTable maps a canonical outbound event to the legacy names it is also
// emitted under.
type aliasTable map[string][]string

var defaultAliases = aliasTable{
	EventSendMessage: {EventDirectMessage, EventMessage},
}

// names returns the canonical event followed by its aliases.
func (a aliasTable) names(event string) []string {
	return append([]string{event}, a[event]...)
}

// emit sends payload under event and every alias of it.
func (a aliasTable) emit(t Transport, event string, payload any) error {
	var errs error
	for _, name := range a.names(event) {
		errs = multierr.Append(errs, t.Emit(name, payload))
	}
	return errs
}

// messageFrame is the outbound chat message. Several relays read different
// spellings of the same field, so each identity is sent under all of them.
type messageFrame struct {
	From        string          `json:"from"`
	SenderID    string          `json:"senderId"`
	Sender      string          `json:"sender"`
	Username    string          `json:"username"`
	To          string          `json:"to"`
	RecipientID string          `json:"recipientId"`
	Content     string          `json:"content"`
	Image       json.RawMessage `json:"image,omitempty"`
	MessageID   string          `json:"messageId"`
	Timestamp   string          `json:"timestamp"`
}

func newMessageFrame(msg model.Message) messageFrame {
	f := messageFrame{
		From:        msg.From,
		SenderID:    msg.From,
		Sender:      msg.Sender,
		Username:    msg.Sender,
		To:          msg.To,
		RecipientID: msg.To,
		Content:     msg.Content,
		MessageID:   msg.ID,
		Timestamp:   msg.Timestamp.UTC().Format(model.WireTimeFormat),
	}
	if msg.HasImage() {
		f.Image = msg.Image
	}
	return f
}

type typingFrame struct {
	To       string `json:"to"`
	IsTyping bool   `json:"isTyping"`
	Username string `json:"username"`
}

type subscribeFrame struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// registrationFrame flattens the profile and adds session correlation ids.
func registrationFrame(p model.Profile, sessionID, localID string) map[string]any {
	f := p.Fields()
	f["sessionId"] = sessionID
	f["originalId"] = localID
	return f
}

// registrationReply decodes registration_success.
type registrationReply struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// registrationReason extracts the reason from registration_error, which
// relays send as {reason}, {message} or a bare string.
func registrationReason(data json.RawMessage) string {
	var obj struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		if obj.Reason != "" {
			return obj.Reason
		}
		if obj.Message != "" {
			return obj.Message
		}
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil && s != "" {
		return s
	}
	return "registration failed"
}
