package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PeerSummary identifies a peer in ready frames and joined
// notifications. Metadata carries the peer's optional client info.
type PeerSummary struct {
	PeerID   string         `json:"peerId"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ReadyPayload is sent to a peer once, immediately after admission.
// Peer is the other side if one is already present, null otherwise.
type ReadyPayload struct {
	PeerID    string       `json:"peerId"`
	ChannelID string       `json:"channelId"`
	Peer      *PeerSummary `json:"peer"`
}

// PeerEventPayload notifies the remaining side that its peer joined or
// left.
type PeerEventPayload struct {
	PeerID   string         `json:"peerId"`
	Event    string         `json:"event"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ErrorPayload reports a validation or relay failure to the client.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	MessageID string `json:"messageId,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// newFrame wraps a payload in an envelope with a fresh UUID id and the
// current RFC 3339 timestamp, and marshals it to wire bytes. Payloads
// are plain structs; marshaling cannot fail.
func newFrame(msgType string, payload any) []byte {
	raw, _ := json.Marshal(payload)
	frame, _ := json.Marshal(Envelope{
		Header: Header{
			Type:      msgType,
			ID:        uuid.NewString(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Payload: raw,
	})
	return frame
}

// ReadyFrame builds the ready frame for a freshly admitted peer.
func ReadyFrame(peerID, channelID string, existing *PeerSummary) []byte {
	return newFrame(TypeReady, ReadyPayload{
		PeerID:    peerID,
		ChannelID: channelID,
		Peer:      existing,
	})
}

// JoinedFrame builds the peer(joined) notification carrying the new
// peer's client info.
func JoinedFrame(peerID string, metadata map[string]any) []byte {
	return newFrame(TypePeer, PeerEventPayload{
		PeerID:   peerID,
		Event:    EventJoined,
		Metadata: metadata,
	})
}

// LeftFrame builds the peer(left) notification.
func LeftFrame(peerID, reason string) []byte {
	return newFrame(TypePeer, PeerEventPayload{
		PeerID:   peerID,
		Event:    EventLeft,
		Metadata: map[string]any{"reason": reason},
	})
}

// ErrorFrame builds an error frame from a catalog entry. messageID is
// the offending client message id when known, empty otherwise.
func ErrorFrame(perr *Error, messageID string, details any) []byte {
	return newFrame(TypeError, ErrorPayload{
		Code:      perr.Code,
		Message:   perr.Message,
		MessageID: messageID,
		Details:   details,
	})
}
