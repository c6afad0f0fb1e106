package socketio

import (
	"errors"
	"testing"
)

func TestEncodeSocketPacket(t *testing.T) {
	tests := []struct {
		name   string
		packet socketPacket
		want   string
	}{
		{"root connect", socketPacket{Type: sioConnect, Namespace: "/"}, "40"},
		{"namespaced connect", socketPacket{Type: sioConnect, Namespace: "/chat", Data: `{"token":"x"}`}, `40/chat,{"token":"x"}`},
		{"event with ack", socketPacket{Type: sioEvent, AckID: 12, HasAck: true, Data: `["hi"]`}, `4212["hi"]`},
		{"disconnect", socketPacket{Type: sioDisconnect}, "41"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := encodeSocketPacket(tt.packet); got != tt.want {
				t.Errorf("encodeSocketPacket() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeSocketPacket(t *testing.T) {
	p, err := decodeSocketPacket(`2/chat,7["message",{"content":"hi"}]`)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if p.Type != sioEvent || p.Namespace != "/chat" || !p.HasAck || p.AckID != 7 {
		t.Errorf("unexpected packet: %+v", p)
	}
	if p.Data != `["message",{"content":"hi"}]` {
		t.Errorf("Data = %q", p.Data)
	}

	root, err := decodeSocketPacket(`0{"sid":"abc"}`)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if root.Namespace != "/" || root.Data != `{"sid":"abc"}` {
		t.Errorf("unexpected packet: %+v", root)
	}

	for _, bad := range []string{"", "9", `51-["x"]`} {
		if _, err := decodeSocketPacket(bad); !errors.Is(err, errMalformedPacket) {
			t.Errorf("decodeSocketPacket(%q) error = %v, want errMalformedPacket", bad, err)
		}
	}
}

func TestEncodeEvent(t *testing.T) {
	got, err := encodeEvent("/", "send_message", map[string]string{"to": "bob"})
	if err != nil {
		t.Fatalf("encodeEvent failed: %v", err)
	}
	if want := `42["send_message",{"to":"bob"}]`; got != want {
		t.Errorf("encodeEvent() = %q, want %q", got, want)
	}

	bare, err := encodeEvent("/", "ping_me", nil)
	if err != nil {
		t.Fatalf("encodeEvent failed: %v", err)
	}
	if bare != `42["ping_me"]` {
		t.Errorf("encodeEvent() = %q", bare)
	}
}

func TestDecodeEvent(t *testing.T) {
	name, arg, err := decodeEvent(`["message",{"content":"hi"},"extra"]`)
	if err != nil {
		t.Fatalf("decodeEvent failed: %v", err)
	}
	if name != "message" || string(arg) != `{"content":"hi"}` {
		t.Errorf("decodeEvent() = %q, %s", name, arg)
	}

	name, arg, err = decodeEvent(`["tick"]`)
	if err != nil || name != "tick" || arg != nil {
		t.Errorf("decodeEvent(tick) = %q, %s, %v", name, arg, err)
	}

	for _, bad := range []string{`[]`, `{}`, `[1,2]`} {
		if _, _, err := decodeEvent(bad); err == nil {
			t.Errorf("decodeEvent(%q) expected error", bad)
		}
	}
}

func TestDecodeConnectError(t *testing.T) {
	if ce := decodeConnectError(`{"message":"unauthorized"}`); ce.Message != "unauthorized" {
		t.Errorf("Message = %q", ce.Message)
	}
	if ce := decodeConnectError(`"bad namespace"`); ce.Message != "bad namespace" {
		t.Errorf("Message = %q", ce.Message)
	}
	if ce := decodeConnectError(``); ce.Message == "" {
		t.Error("expected fallback message")
	}
}

func TestDecodeHandshake(t *testing.T) {
	hs, err := decodeHandshake(`0{"sid":"s1","upgrades":["websocket"],"pingInterval":25000,"pingTimeout":20000}`)
	if err != nil {
		t.Fatalf("decodeHandshake failed: %v", err)
	}
	if hs.SID != "s1" || !hs.offers(TransportWebSocket) {
		t.Errorf("unexpected handshake: %+v", hs)
	}
	if hs.liveness().Seconds() != 45 {
		t.Errorf("liveness = %v, want 45s", hs.liveness())
	}

	for _, bad := range []string{"", "4hello", `0{}`, `0nope`} {
		if _, err := decodeHandshake(bad); !errors.Is(err, ErrHandshake) {
			t.Errorf("decodeHandshake(%q) error = %v, want ErrHandshake", bad, err)
		}
	}
}

func TestSplitPayload(t *testing.T) {
	frames := splitPayload("40{\"sid\":\"a\"}\x1e42[\"x\"]\x1e")
	if len(frames) != 2 || frames[1] != `42["x"]` {
		t.Errorf("splitPayload() = %q", frames)
	}
}
