package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rickgao/relaychat/internal/model"
)

// maxDepth bounds recursion through string-encoded and nested payloads.
const maxDepth = 4

// Normalizer converts raw inbound payloads into canonical messages.
type Normalizer struct {
	logger *slog.Logger
	now    func() time.Time

	received   atomic.Int64
	normalized atomic.Int64
	malformed  atomic.Int64
	empty      atomic.Int64
}

// NewNormalizer creates a Normalizer. A nil now uses time.Now.
func NewNormalizer(logger *slog.Logger, now func() time.Time) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{logger: logger, now: now}
}

var defaultNormalizer = NewNormalizer(nil, nil)

// Normalize converts a payload with the package default Normalizer.
func Normalize(raw []byte) model.Message {
	return defaultNormalizer.Normalize(raw)
}

// NormalizeValue converts an already-decoded payload, such as a map or a
// string handed over by a transport callback.
func (n *Normalizer) NormalizeValue(v any) model.Message {
	switch val := v.(type) {
	case []byte:
		return n.Normalize(val)
	case json.RawMessage:
		return n.Normalize(val)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		n.logger.Debug("payload not encodable", "error", err)
		raw = nil
	}
	return n.Normalize(raw)
}

// Normalize converts one inbound payload. It never fails; undecodable input
// yields a message with empty content.
func (n *Normalizer) Normalize(raw []byte) model.Message {
	n.received.Add(1)
	now := n.now().UTC()

	var msg model.Message
	fields, ok := decode(raw, 0)
	if ok {
		msg = resolve(fields, 0)
	} else {
		n.malformed.Add(1)
		n.logger.Debug("dropping undecodable payload", "size", len(raw))
	}

	if msg.ID == "" {
		msg.ID = pseudoID(now)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}

	if ok {
		if msg.Empty() {
			n.empty.Add(1)
		} else {
			n.normalized.Add(1)
		}
	}

	return msg
}

// Stats returns normalizer counters.
func (n *Normalizer) Stats() Stats {
	return Stats{
		Received:   n.received.Load(),
		Normalized: n.normalized.Load(),
		Malformed:  n.malformed.Load(),
		Empty:      n.empty.Load(),
	}
}

// ParseRoster decodes a users_update payload: either a bare array of users or
// an object wrapping it under "users".
func ParseRoster(raw []byte) ([]model.User, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	if raw[0] == '{' {
		var wrapper struct {
			Users []model.User `json:"users"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil, fmt.Errorf("decode roster: %w", err)
		}
		return wrapper.Users, nil
	}

	var users []model.User
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	return users, nil
}

// decode turns a payload into a field map. Strings that look like JSON are
// parsed again; any other string becomes the message content.
func decode(raw []byte, depth int) (map[string]json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || depth > maxDepth {
		return nil, false
	}

	if !json.Valid(raw) {
		if raw[0] == '{' || raw[0] == '[' {
			return nil, false
		}
		return textFields(string(raw)), true
	}

	switch raw[0] {
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, false
		}
		return fields, true

	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
			return nil, false
		}
		return decode(items[0], depth+1)

	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, false
		}
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			if fields, ok := decode([]byte(trimmed), depth+1); ok {
				return fields, true
			}
		}
		return textFields(s), true
	}

	// Numbers, booleans and null carry no message.
	return nil, false
}

// textFields wraps a plain string as the content field.
func textFields(s string) map[string]json.RawMessage {
	if strings.TrimSpace(s) == "" {
		return map[string]json.RawMessage{}
	}
	content, _ := json.Marshal(s)
	return map[string]json.RawMessage{"content": content}
}

// resolve maps field spellings onto the canonical message.
func resolve(fields map[string]json.RawMessage, depth int) model.Message {
	msg := model.Message{
		ID:        firstText(fields, idFields),
		From:      firstIdentity(fields, fromFields),
		Sender:    firstIdentity(fields, senderFields),
		To:        firstIdentity(fields, toFields),
		Content:   firstText(fields, contentFields),
		Timestamp: firstTime(fields, timestampFields),
	}

	if img, ok := fields["image"]; ok && !isNull(img) {
		msg.Image = append(json.RawMessage(nil), img...)
	}

	// Some relays wrap the whole message under "message".
	if inner, ok := fields["message"]; ok && depth < maxDepth {
		inner = bytes.TrimSpace(inner)
		if len(inner) > 0 && inner[0] == '{' {
			if nestedFields, ok := decode(inner, depth+1); ok {
				fill(&msg, resolve(nestedFields, depth+1))
			}
		}
	}

	return msg
}

// fill copies fields missing from dst out of src.
func fill(dst *model.Message, src model.Message) {
	if dst.ID == "" {
		dst.ID = src.ID
	}
	if dst.From == "" {
		dst.From = src.From
	}
	if dst.Sender == "" {
		dst.Sender = src.Sender
	}
	if dst.To == "" {
		dst.To = src.To
	}
	if dst.Content == "" {
		dst.Content = src.Content
	}
	if dst.Timestamp.IsZero() {
		dst.Timestamp = src.Timestamp
	}
	if !dst.HasImage() {
		dst.Image = src.Image
	}
}

// firstText returns the first candidate holding a string or number.
func firstText(fields map[string]json.RawMessage, candidates []string) string {
	for _, name := range candidates {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		if s, ok := scalarString(raw); ok && s != "" {
			return s
		}
	}
	return ""
}

// firstIdentity is firstText that also accepts {id|username|name} objects.
func firstIdentity(fields map[string]json.RawMessage, candidates []string) string {
	for _, name := range candidates {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		if s, ok := scalarString(raw); ok && s != "" {
			return s
		}

		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			continue
		}
		if s := firstText(obj, identityKeys); s != "" {
			return s
		}
	}
	return ""
}

// firstTime returns the first candidate that parses as a timestamp.
func firstTime(fields map[string]json.RawMessage, candidates []string) time.Time {
	for _, name := range candidates {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		if ts, ok := parseTime(raw); ok {
			return ts
		}
	}
	return time.Time{}
}

// scalarString reads a JSON string or number as text.
func scalarString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}

	var num json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&num); err == nil {
		return num.String(), true
	}

	return "", false
}

// parseTime accepts RFC 3339 strings and epoch numbers (seconds or
// milliseconds), also when the number is quoted.
func parseTime(raw json.RawMessage) (time.Time, bool) {
	s, ok := scalarString(raw)
	if !ok || s == "" {
		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return time.Time{}, false
	}
	if v < 1e11 {
		return time.UnixMilli(int64(v * 1000)).UTC(), true
	}
	return time.UnixMilli(int64(v)).UTC(), true
}

func isNull(raw json.RawMessage) bool {
	s := string(bytes.TrimSpace(raw))
	return s == "" || s == "null"
}

// pseudoID builds a UI key for messages that arrived without one. Collisions
// are acceptable.
func pseudoID(now time.Time) string {
	return "msg_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + strconv.FormatUint(rand.Uint64N(1<<40), 36)
}
