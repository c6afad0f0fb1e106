package router

// Inbound event names carrying chat messages.
const (
	EventMessage        = "message"
	EventDirectMessage  = "direct_message"
	EventChatMessage    = "chat_message"
	EventReceiveMessage = "receive_message"
)

// MessageEvents lists every inbound alias a chat message may arrive under.
var MessageEvents = []string{
	EventMessage,
	EventDirectMessage,
	EventChatMessage,
	EventReceiveMessage,
}

// IsMessageEvent reports whether an event name carries a chat message.
func IsMessageEvent(name string) bool {
	for _, ev := range MessageEvents {
		if ev == name {
			return true
		}
	}
	return false
}

// Field candidates, in priority order.
var (
	idFields        = []string{"id", "messageId", "_id"}
	fromFields      = []string{"from", "senderId", "userId", "sender", "username"}
	senderFields    = []string{"sender", "username", "from", "senderName"}
	toFields        = []string{"to", "recipientId"}
	contentFields   = []string{"content", "message", "text", "body"}
	timestampFields = []string{"timestamp", "time", "createdAt", "sentAt"}
)

// Keys tried when an identity field holds an object instead of a string.
var identityKeys = []string{"id", "username", "name"}

// Stats contains normalizer counters.
type Stats struct {
	Received   int64 // Payloads handed to Normalize
	Normalized int64 // Payloads that produced content or an image
	Malformed  int64 // Payloads that could not be decoded at all
	Empty      int64 // Payloads decoded but without content
}
