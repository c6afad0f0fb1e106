package router

import (
	"strings"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
}

func TestNormalize_FieldSpellingsAgree(t *testing.T) {
	n := NewNormalizer(nil, fixedNow)

	a := n.Normalize([]byte(`{"sender":"A","message":"hi"}`))
	b := n.Normalize([]byte(`{"from":"A","content":"hi"}`))

	if a.Content != "hi" || b.Content != "hi" {
		t.Errorf("Content = %q / %q, want hi / hi", a.Content, b.Content)
	}
	if a.From != b.From {
		t.Errorf("From = %q / %q, want equal", a.From, b.From)
	}
	if a.Sender != b.Sender {
		t.Errorf("Sender = %q / %q, want equal", a.Sender, b.Sender)
	}
	if a.From != "A" || a.Sender != "A" {
		t.Errorf("identity = %q/%q, want A/A", a.From, a.Sender)
	}
}

func TestNormalize_EmptyObject(t *testing.T) {
	n := NewNormalizer(nil, fixedNow)

	msg := n.Normalize([]byte(`{}`))

	if msg.Content != "" {
		t.Errorf("Content = %q, want empty", msg.Content)
	}
	if !msg.Empty() {
		t.Error("expected Empty() to be true")
	}
	if msg.ID == "" {
		t.Error("expected generated ID")
	}
	if !msg.Timestamp.Equal(fixedNow()) {
		t.Errorf("Timestamp = %v, want %v", msg.Timestamp, fixedNow())
	}
}

func TestNormalize_Priority(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantFrom    string
		wantSender  string
		wantContent string
	}{
		{
			name:        "content beats message and text",
			payload:     `{"from":"u1","content":"c","message":"m","text":"t"}`,
			wantFrom:    "u1",
			wantSender:  "u1",
			wantContent: "c",
		},
		{
			name:        "message beats text",
			payload:     `{"username":"bob","message":"m","text":"t"}`,
			wantFrom:    "bob",
			wantSender:  "bob",
			wantContent: "m",
		},
		{
			name:        "text only",
			payload:     `{"senderId":"u2","senderName":"carol","text":"t"}`,
			wantFrom:    "u2",
			wantSender:  "carol",
			wantContent: "t",
		},
		{
			name:        "sender object",
			payload:     `{"sender":{"id":"u3","username":"dave"},"content":"x"}`,
			wantFrom:    "u3",
			wantSender:  "u3",
			wantContent: "x",
		},
		{
			name:        "from id and sender name",
			payload:     `{"from":"u4","sender":"erin","content":"y"}`,
			wantFrom:    "u4",
			wantSender:  "erin",
			wantContent: "y",
		},
	}

	n := NewNormalizer(nil, fixedNow)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := n.Normalize([]byte(tt.payload))
			if msg.From != tt.wantFrom {
				t.Errorf("From = %q, want %q", msg.From, tt.wantFrom)
			}
			if msg.Sender != tt.wantSender {
				t.Errorf("Sender = %q, want %q", msg.Sender, tt.wantSender)
			}
			if msg.Content != tt.wantContent {
				t.Errorf("Content = %q, want %q", msg.Content, tt.wantContent)
			}
		})
	}
}

func TestNormalize_StringPayloads(t *testing.T) {
	n := NewNormalizer(nil, fixedNow)

	t.Run("json string holding an object", func(t *testing.T) {
		msg := n.Normalize([]byte(`"{\"from\":\"A\",\"text\":\"hello\"}"`))
		if msg.Content != "hello" || msg.From != "A" {
			t.Errorf("got %+v, want content hello from A", msg)
		}
	})

	t.Run("json string of plain text", func(t *testing.T) {
		msg := n.Normalize([]byte(`"just words"`))
		if msg.Content != "just words" {
			t.Errorf("Content = %q, want %q", msg.Content, "just words")
		}
	})

	t.Run("string that only looks like json", func(t *testing.T) {
		msg := n.Normalize([]byte(`"{not json"`))
		if msg.Content != "{not json" {
			t.Errorf("Content = %q, want raw string", msg.Content)
		}
	})

	t.Run("non-json bytes", func(t *testing.T) {
		msg := n.Normalize([]byte(`hello there`))
		if msg.Content != "hello there" {
			t.Errorf("Content = %q, want %q", msg.Content, "hello there")
		}
	})

	t.Run("array takes first element", func(t *testing.T) {
		msg := n.Normalize([]byte(`[{"from":"A","content":"first"},{"content":"second"}]`))
		if msg.Content != "first" {
			t.Errorf("Content = %q, want first", msg.Content)
		}
	})
}

func TestNormalize_Malformed(t *testing.T) {
	n := NewNormalizer(nil, fixedNow)

	for _, payload := range []string{``, `null`, `42`, `true`, `[]`, `{"content":`} {
		msg := n.Normalize([]byte(payload))
		if !msg.Empty() {
			t.Errorf("Normalize(%q) = %+v, want empty message", payload, msg)
		}
	}
}

func TestNormalize_Timestamp(t *testing.T) {
	n := NewNormalizer(nil, fixedNow)
	want := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		payload string
		want    time.Time
	}{
		{"rfc3339", `{"content":"x","timestamp":"2024-03-01T08:30:00Z"}`, want},
		{"rfc3339 millis", `{"content":"x","timestamp":"2024-03-01T08:30:00.000Z"}`, want},
		{"epoch millis", `{"content":"x","timestamp":1709281800000}`, want},
		{"epoch seconds", `{"content":"x","time":1709281800}`, want},
		{"quoted millis", `{"content":"x","createdAt":"1709281800000"}`, want},
		{"garbage", `{"content":"x","timestamp":"yesterday"}`, fixedNow()},
		{"missing", `{"content":"x"}`, fixedNow()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := n.Normalize([]byte(tt.payload))
			if !msg.Timestamp.Equal(tt.want) {
				t.Errorf("Timestamp = %v, want %v", msg.Timestamp, tt.want)
			}
		})
	}
}

func TestNormalize_IDs(t *testing.T) {
	n := NewNormalizer(nil, fixedNow)

	msg := n.Normalize([]byte(`{"messageId":"m-1","content":"x"}`))
	if msg.ID != "m-1" {
		t.Errorf("ID = %q, want m-1", msg.ID)
	}

	generated := n.Normalize([]byte(`{"content":"x"}`))
	if !strings.HasPrefix(generated.ID, "msg_") {
		t.Errorf("ID = %q, want msg_ prefix", generated.ID)
	}
}

func TestNormalize_ImagePassthrough(t *testing.T) {
	n := NewNormalizer(nil, fixedNow)

	raw := `{"url": "javascript:alert(1)", "w": 10}`
	msg := n.Normalize([]byte(`{"from":"A","image":` + raw + `}`))

	if string(msg.Image) != raw {
		t.Errorf("Image = %s, want %s", msg.Image, raw)
	}
	if msg.Empty() {
		t.Error("image-only message should not be empty")
	}
}

func TestNormalize_NestedMessage(t *testing.T) {
	n := NewNormalizer(nil, fixedNow)

	msg := n.Normalize([]byte(`{"to":"me","message":{"id":"n1","sender":"A","text":"inner"}}`))

	if msg.Content != "inner" {
		t.Errorf("Content = %q, want inner", msg.Content)
	}
	if msg.ID != "n1" {
		t.Errorf("ID = %q, want n1", msg.ID)
	}
	if msg.From != "A" {
		t.Errorf("From = %q, want A", msg.From)
	}
	if msg.To != "me" {
		t.Errorf("To = %q, want me", msg.To)
	}
}

func TestNormalizer_Stats(t *testing.T) {
	n := NewNormalizer(nil, fixedNow)

	n.Normalize([]byte(`{"content":"a"}`))
	n.Normalize([]byte(`{}`))
	n.Normalize([]byte(`42`))

	stats := n.Stats()
	if stats.Received != 3 {
		t.Errorf("Received = %d, want 3", stats.Received)
	}
	if stats.Normalized != 1 {
		t.Errorf("Normalized = %d, want 1", stats.Normalized)
	}
	if stats.Empty != 1 {
		t.Errorf("Empty = %d, want 1", stats.Empty)
	}
	if stats.Malformed != 1 {
		t.Errorf("Malformed = %d, want 1", stats.Malformed)
	}
}

func TestIsMessageEvent(t *testing.T) {
	for _, ev := range []string{"message", "direct_message", "chat_message", "receive_message"} {
		if !IsMessageEvent(ev) {
			t.Errorf("IsMessageEvent(%q) = false, want true", ev)
		}
	}
	for _, ev := range []string{"typing", "users_update", "send_message", ""} {
		if IsMessageEvent(ev) {
			t.Errorf("IsMessageEvent(%q) = true, want false", ev)
		}
	}
}

func TestParseRoster(t *testing.T) {
	users, err := ParseRoster([]byte(`[{"id":"u1","username":"alice","isOnline":true},{"id":"u2","username":"bob"}]`))
	if err != nil {
		t.Fatalf("ParseRoster failed: %v", err)
	}
	if len(users) != 2 || users[0].Username != "alice" || !users[0].IsOnline {
		t.Errorf("unexpected roster: %+v", users)
	}

	wrapped, err := ParseRoster([]byte(`{"users":[{"id":"u3","username":"carol"}]}`))
	if err != nil {
		t.Fatalf("ParseRoster(wrapped) failed: %v", err)
	}
	if len(wrapped) != 1 || wrapped[0].ID != "u3" {
		t.Errorf("unexpected wrapped roster: %+v", wrapped)
	}

	if _, err := ParseRoster([]byte(`"nope"`)); err == nil {
		t.Error("expected error for string roster")
	}
}

func TestNormalizeValue(t *testing.T) {
	n := NewNormalizer(nil, fixedNow)

	msg := n.NormalizeValue(map[string]any{"username": "A", "text": "hi"})
	if msg.Content != "hi" || msg.From != "A" {
		t.Errorf("got %+v, want content hi from A", msg)
	}

	plain := n.NormalizeValue("plain words")
	if plain.Content != "plain words" {
		t.Errorf("Content = %q, want plain words", plain.Content)
	}

	if bad := n.NormalizeValue(make(chan int)); !bad.Empty() {
		t.Errorf("unencodable value = %+v, want empty", bad)
	}
}
