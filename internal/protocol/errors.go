// Package protocol defines the wire format of the relay: the
// {header, payload} envelope, per-type payload schemas and their
// validation, the error catalog, and builders for server-originated
// frames.
package protocol

import "net/http"

// Error is a catalog entry for a relay protocol failure. It carries
// everything both error surfaces need: the WebSocket close code for
// post-upgrade failures and the HTTP status for upgrade-time rejections.
// Recoverable errors are reported with an error frame and leave the
// connection open; non-recoverable ones are followed by a close.
type Error struct {
	Code        string
	Message     string
	CloseCode   int
	HTTPStatus  int
	Recoverable bool
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// WithMessage returns a copy of the catalog entry with a more specific
// message. The original entry is never mutated.
func (e *Error) WithMessage(msg string) *Error {
	c := *e
	c.Message = msg
	return &c
}

// Close codes use the 4xxx application range: 40xx message-level,
// 41xx authentication, 42xx capacity, 4900 internal.
var (
	ErrInvalidMessage = &Error{
		Code: "INVALID_MESSAGE", Message: "Message is not valid JSON or does not match the expected schema",
		CloseCode: 4001, HTTPStatus: http.StatusBadRequest, Recoverable: true,
	}
	ErrMessageTooLarge = &Error{
		Code: "MESSAGE_TOO_LARGE", Message: "Message exceeds the maximum allowed size",
		CloseCode: 4002, HTTPStatus: http.StatusBadRequest, Recoverable: true,
	}
	ErrNoPeerConnected = &Error{
		Code: "NO_PEER_CONNECTED", Message: "No peer is connected to the channel",
		CloseCode: 4003, HTTPStatus: http.StatusBadRequest, Recoverable: true,
	}
	ErrInvalidSecret = &Error{
		Code: "INVALID_SECRET", Message: "Authentication secret is missing or invalid",
		CloseCode: 4100, HTTPStatus: http.StatusUnauthorized,
	}
	ErrInvalidChannel = &Error{
		Code: "INVALID_CHANNEL", Message: "Channel id must be exactly 8 alphanumeric characters",
		CloseCode: 4101, HTTPStatus: http.StatusBadRequest,
	}
	ErrInvalidPeerID = &Error{
		Code: "INVALID_PEER_ID", Message: "Peer id must be a non-empty string of at most 64 characters",
		CloseCode: 4102, HTTPStatus: http.StatusBadRequest,
	}
	ErrChannelFull = &Error{
		Code: "CHANNEL_FULL", Message: "Channel already has the maximum number of peers",
		CloseCode: 4200, HTTPStatus: http.StatusServiceUnavailable,
	}
	ErrDuplicatePeerID = &Error{
		Code: "DUPLICATE_PEER_ID", Message: "A peer with this id is already connected to the channel",
		CloseCode: 4201, HTTPStatus: http.StatusConflict,
	}
	ErrRateLimitExceeded = &Error{
		Code: "RATE_LIMIT_EXCEEDED", Message: "Too many connection attempts, try again later",
		CloseCode: 4202, HTTPStatus: http.StatusTooManyRequests,
	}
	ErrMaxChannelsReached = &Error{
		Code: "MAX_CHANNELS_REACHED", Message: "Server has reached the maximum number of channels",
		CloseCode: 4203, HTTPStatus: http.StatusServiceUnavailable,
	}
	ErrUpgradeFailed = &Error{
		Code: "UPGRADE_FAILED", Message: "WebSocket upgrade failed",
		CloseCode: 4900, HTTPStatus: http.StatusInternalServerError,
	}
	ErrInternal = &Error{
		Code: "INTERNAL_ERROR", Message: "Internal server error",
		CloseCode: 4900, HTTPStatus: http.StatusInternalServerError,
	}
)
