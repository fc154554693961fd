package radio

import (
	"bytes"
	"encoding/json"
)

// Control literals exchanged between satellites and the gateway.
const (
	TokenBootAnnounce = "SATELLITE_BOOT_OK"
	TokenBootAck      = "MM_ACK_BOOT"
	TokenDataAck      = "MM_ACK_DATA"
)

type MessageKind int

const (
	MessageUnknown MessageKind = iota
	MessageBootAnnounce
	MessageBootAck
	MessageDataAck
	MessageTelemetry
)

func (k MessageKind) String() string {
	switch k {
	case MessageBootAnnounce:
		return "boot_announce"
	case MessageBootAck:
		return "boot_ack"
	case MessageDataAck:
		return "data_ack"
	case MessageTelemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}

// Message is a classified frame payload.
type Message struct {
	Kind    MessageKind
	Payload []byte
}

func (m Message) IsControl() bool {
	switch m.Kind {
	case MessageBootAnnounce, MessageBootAck, MessageDataAck:
		return true
	default:
		return false
	}
}

// Classify matches control literals exactly before falling back to JSON.
func Classify(payload []byte) Message {
	msg := Message{Kind: MessageUnknown, Payload: payload}
	switch string(bytes.TrimSpace(payload)) {
	case TokenBootAnnounce:
		msg.Kind = MessageBootAnnounce
	case TokenBootAck:
		msg.Kind = MessageBootAck
	case TokenDataAck:
		msg.Kind = MessageDataAck
	default:
		if IsJSONObject(payload) {
			msg.Kind = MessageTelemetry
		}
	}

	return msg
}

// IsJSONObject reports whether payload is a single valid JSON object, the only
// shape telemetry takes on the wire.
func IsJSONObject(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

// MatchesToken reports whether payload acknowledges token. An exact literal
// always matches; JSON payloads never do, so telemetry mentioning the token
// cannot satisfy a wait. Anything else falls back to substring containment.
func MatchesToken(payload []byte, token string) bool {
	if token == "" {
		return false
	}
	if string(bytes.TrimSpace(payload)) == token {
		return true
	}
	if json.Valid(payload) {
		return false
	}

	return bytes.Contains(payload, []byte(token))
}
