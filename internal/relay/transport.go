// Package relay implements the core of the server: the channel
// registry with its at-most-two-peers invariant, the per-connection
// state machine, the message validation pipeline, and peer
// notification fan-out. It is transport-agnostic; the WebSocket
// adapter lives in websocket.go.
package relay

// SendStatus is the tri-state result of a transport send. The
// distinction matters for backpressure policy: a queued send is still a
// success and must not drop the connection.
type SendStatus int

const (
	// SendSent means the frame was written to the wire.
	SendSent SendStatus = iota
	// SendQueued means the transport accepted the frame but its send
	// buffer is not drained yet.
	SendQueued
	// SendDropped means the frame was not delivered and will not be.
	SendDropped
)

func (s SendStatus) String() string {
	switch s {
	case SendSent:
		return "sent"
	case SendQueued:
		return "queued"
	case SendDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Conn is one live client connection as seen by the relay core.
// Implementations must allow Send, Close, and ReadMessage to be called
// from different goroutines; Send may be called concurrently by the
// peer's event handlers and must serialize writes internally.
type Conn interface {
	// ReadMessage blocks for the next inbound frame. It returns an
	// error when the connection is closed or the idle timeout fires.
	ReadMessage() ([]byte, error)

	// Send writes one text frame, best effort, and reports the
	// tri-state outcome.
	Send(frame []byte) SendStatus

	// Close closes the connection with an application close code and
	// reason. Subsequent calls are no-ops.
	Close(code int, reason string) error

	// RemoteAddr identifies the connection for logging.
	RemoteAddr() string
}
