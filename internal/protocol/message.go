package protocol

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message types carried in header.type. The first three are client
// messages relayed between peers; the rest are server-originated.
const (
	TypeData    = "data"
	TypeAck     = "ack"
	TypeControl = "control"
	TypeReady   = "ready"
	TypePeer    = "peer"
	TypeError   = "error"
)

// Peer event values for TypePeer notifications.
const (
	EventJoined = "joined"
	EventLeft   = "left"
)

// Ack status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Content types accepted in data payloads.
const (
	ContentText   = "text"
	ContentBinary = "binary"
)

// Limits on caller-supplied identifiers.
const (
	ChannelIDLength = 8
	MaxPeerIDLength = 64
)

var channelIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{8}$`)

// Header is the common frame header. The id is a UUID and the timestamp
// is ISO-8601 (RFC 3339).
type Header struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
}

// Envelope is one wire frame. Payload stays raw until the type-specific
// schema check; relayed frames are forwarded from the original bytes,
// never re-serialized.
type Envelope struct {
	Header  Header          `json:"header"`
	Payload json.RawMessage `json:"payload"`
}

// DataPayload carries opaque application content.
type DataPayload struct {
	ContentType string         `json:"contentType"`
	Data        string         `json:"data"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AckPayload acknowledges a previously relayed message.
type AckPayload struct {
	MessageID string         `json:"messageId"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ControlPayload carries an application-level command.
type ControlPayload struct {
	Command  string         `json:"command"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ValidateChannelID checks the 8-character alphanumeric channel id
// format.
func ValidateChannelID(id string) *Error {
	if !channelIDPattern.MatchString(id) {
		return ErrInvalidChannel
	}
	return nil
}

// ValidatePeerID trims the peer id and checks it is non-empty and at
// most MaxPeerIDLength characters. The trimmed id is returned; it is
// the canonical form used everywhere downstream.
func ValidatePeerID(id string) (string, *Error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" || len(trimmed) > MaxPeerIDLength {
		return "", ErrInvalidPeerID
	}
	return trimmed, nil
}

// Parse validates an inbound frame through the schema layers: JSON,
// envelope shape, then the payload schema for the declared type. The
// size gate runs before Parse, on the raw bytes.
func Parse(raw []byte) (*Envelope, *Error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrInvalidMessage.WithMessage("Message is not valid JSON")
	}
	if perr := validateHeader(&env.Header); perr != nil {
		return nil, perr
	}
	if perr := validatePayload(env.Header.Type, env.Payload); perr != nil {
		return nil, perr
	}
	return &env, nil
}

func validateHeader(h *Header) *Error {
	switch h.Type {
	case TypeData, TypeAck, TypeControl:
	default:
		return ErrInvalidMessage.WithMessage("header.type must be one of data, ack, control")
	}
	if _, err := uuid.Parse(h.ID); err != nil {
		return ErrInvalidMessage.WithMessage("header.id must be a UUID")
	}
	if _, err := time.Parse(time.RFC3339, h.Timestamp); err != nil {
		return ErrInvalidMessage.WithMessage("header.timestamp must be an ISO-8601 timestamp")
	}
	return nil
}

func validatePayload(msgType string, raw json.RawMessage) *Error {
	if len(raw) == 0 {
		return ErrInvalidMessage.WithMessage("payload is required")
	}
	switch msgType {
	case TypeData:
		var p DataPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return ErrInvalidMessage.WithMessage("payload does not match the data schema")
		}
		if p.ContentType != ContentText && p.ContentType != ContentBinary {
			return ErrInvalidMessage.WithMessage("payload.contentType must be text or binary")
		}
		if p.Data == "" {
			return ErrInvalidMessage.WithMessage("payload.data must be a non-empty string")
		}
		if p.ContentType == ContentBinary {
			if _, err := base64.StdEncoding.DecodeString(p.Data); err != nil {
				return ErrInvalidMessage.WithMessage("payload.data must be valid Base64 for binary content")
			}
		}
	case TypeAck:
		var p AckPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return ErrInvalidMessage.WithMessage("payload does not match the ack schema")
		}
		if _, err := uuid.Parse(p.MessageID); err != nil {
			return ErrInvalidMessage.WithMessage("payload.messageId must be a UUID")
		}
		if p.Status != StatusSuccess && p.Status != StatusError {
			return ErrInvalidMessage.WithMessage("payload.status must be success or error")
		}
	case TypeControl:
		var p ControlPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return ErrInvalidMessage.WithMessage("payload does not match the control schema")
		}
		if strings.TrimSpace(p.Command) == "" {
			return ErrInvalidMessage.WithMessage("payload.command must be a non-empty string")
		}
	}
	return nil
}
