package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Engine.IO v4 packet types.
const (
	packetOpen    byte = '0'
	packetClose   byte = '1'
	packetPing    byte = '2'
	packetPong    byte = '3'
	packetMessage byte = '4'
	packetUpgrade byte = '5'
	packetNoop    byte = '6'
)

// Socket.IO v5 packet types, carried inside Engine.IO message packets.
const (
	sioConnect      byte = '0'
	sioDisconnect   byte = '1'
	sioEvent        byte = '2'
	sioAck          byte = '3'
	sioConnectError byte = '4'
	sioBinaryEvent  byte = '5'
	sioBinaryAck    byte = '6'
)

// recordSeparator joins packets in a long-polling payload.
const recordSeparator = "\x1e"

var errMalformedPacket = errors.New("malformed packet")

// socketPacket is a decoded Socket.IO packet.
type socketPacket struct {
	Type      byte
	Namespace string
	AckID     int64
	HasAck    bool
	Data      string // raw JSON, possibly empty
}

// encodeSocketPacket renders p as an Engine.IO message frame.
func encodeSocketPacket(p socketPacket) string {
	var b strings.Builder
	b.WriteByte(packetMessage)
	b.WriteByte(p.Type)
	if p.Namespace != "" && p.Namespace != "/" {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.HasAck {
		b.WriteString(strconv.FormatInt(p.AckID, 10))
	}
	b.WriteString(p.Data)
	return b.String()
}

// decodeSocketPacket parses the body of an Engine.IO message frame, without
// the leading '4'.
func decodeSocketPacket(s string) (socketPacket, error) {
	if s == "" {
		return socketPacket{}, errMalformedPacket
	}

	p := socketPacket{Type: s[0], Namespace: "/"}
	if p.Type < sioConnect || p.Type > sioBinaryAck {
		return socketPacket{}, fmt.Errorf("%w: type %q", errMalformedPacket, p.Type)
	}
	if p.Type == sioBinaryEvent || p.Type == sioBinaryAck {
		return socketPacket{}, fmt.Errorf("%w: binary packets unsupported", errMalformedPacket)
	}

	rest := s[1:]
	if strings.HasPrefix(rest, "/") {
		if idx := strings.IndexByte(rest, ','); idx >= 0 {
			p.Namespace = rest[:idx]
			rest = rest[idx+1:]
		} else {
			p.Namespace = rest
			rest = ""
		}
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		id, err := strconv.ParseInt(rest[:i], 10, 64)
		if err != nil {
			return socketPacket{}, fmt.Errorf("%w: ack id: %v", errMalformedPacket, err)
		}
		p.AckID = id
		p.HasAck = true
		rest = rest[i:]
	}

	p.Data = rest
	return p, nil
}

// encodeEvent renders a named event with an optional payload.
func encodeEvent(namespace, event string, payload any) (string, error) {
	args := []any{event}
	if payload != nil {
		args = append(args, payload)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", event, err)
	}
	return encodeSocketPacket(socketPacket{Type: sioEvent, Namespace: namespace, Data: string(data)}), nil
}

// decodeEvent splits an EVENT payload into its name and first argument.
func decodeEvent(data string) (string, json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal([]byte(data), &args); err != nil {
		return "", nil, fmt.Errorf("%w: %v", errMalformedPacket, err)
	}
	if len(args) == 0 {
		return "", nil, fmt.Errorf("%w: empty event", errMalformedPacket)
	}

	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, fmt.Errorf("%w: event name: %v", errMalformedPacket, err)
	}
	if len(args) == 1 {
		return name, nil, nil
	}
	return name, args[1], nil
}

// decodeConnectError accepts both {"message": ...} and bare-string reasons.
func decodeConnectError(data string) *ConnectError {
	ce := &ConnectError{Data: json.RawMessage(data)}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(data), &obj); err == nil && obj.Message != "" {
		ce.Message = obj.Message
		return ce
	}

	var s string
	if err := json.Unmarshal([]byte(data), &s); err == nil {
		ce.Message = s
		return ce
	}

	ce.Message = "namespace connection refused"
	return ce
}

// decodeHandshake parses an Engine.IO open packet.
func decodeHandshake(frame string) (handshake, error) {
	if frame == "" || frame[0] != packetOpen {
		return handshake{}, fmt.Errorf("%w: expected open packet", ErrHandshake)
	}
	var hs handshake
	if err := json.Unmarshal([]byte(frame[1:]), &hs); err != nil {
		return handshake{}, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if hs.SID == "" {
		return handshake{}, fmt.Errorf("%w: missing sid", ErrHandshake)
	}
	return hs, nil
}

// splitPayload splits a long-polling body into frames.
func splitPayload(body string) []string {
	parts := strings.Split(body, recordSeparator)
	frames := parts[:0]
	for _, p := range parts {
		if p != "" {
			frames = append(frames, p)
		}
	}
	return frames
}
