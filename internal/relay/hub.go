package relay

import (
	"log/slog"
	"time"

	"github.com/bxacosta/wsclip/internal/protocol"
)

// Phase is the per-connection state. Transitions:
// admitted -> ready on successful registry insert, ready -> closing on
// socket close. Phase is only mutated from the connection's own event
// goroutine.
type Phase int

const (
	PhaseAdmitted Phase = iota
	PhaseReady
	PhaseClosing
)

// closeNormal is the RFC 6455 normal closure code, used when the
// server tears down an already-drained connection.
const closeNormal = 1000

// ConnState is the data attached to each socket at upgrade time.
type ConnState struct {
	ChannelID   string
	PeerID      string
	ConnectedAt time.Time
	Phase       Phase
	ClientInfo  map[string]any
}

// Hub drives the lifecycle of admitted connections: registry insert,
// ready/joined fan-out, the inbound message pipeline, and teardown with
// the left notification.
type Hub struct {
	registry       *Registry
	maxMessageSize int64
	log            *slog.Logger
}

// NewHub wires the hub to its registry.
func NewHub(registry *Registry, maxMessageSize int64, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		registry:       registry,
		maxMessageSize: maxMessageSize,
		log:            log.With("component", "hub"),
	}
}

// Run owns the connection from admission to teardown. It blocks until
// the connection closes. The caller has already authenticated the
// upgrade and attached state with Phase == PhaseAdmitted.
func (h *Hub) Run(conn Conn, state *ConnState) {
	if !h.admit(conn, state) {
		return
	}

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			h.log.Debug("read loop ended",
				"channel", state.ChannelID, "peer", state.PeerID, "reason", err)
			break
		}
		h.handleMessage(conn, state, raw)
	}

	h.teardown(conn, state)
}

// admit inserts the connection into the registry and fans out the
// ready and joined frames. The ready frame goes out first so it
// precedes every other server-originated frame on this connection; the
// joined notification reaches the existing peer before this
// connection's read loop starts, so it precedes any relayed frame.
func (h *Hub) admit(conn Conn, state *ConnState) bool {
	res, perr := h.registry.AddPeer(state.ChannelID, state.PeerID, conn, state.ClientInfo)
	if perr != nil {
		h.registry.IncrementError(perr.Code)
		h.log.Warn("admission rejected",
			"channel", state.ChannelID, "peer", state.PeerID, "code", perr.Code)
		conn.Send(protocol.ErrorFrame(perr, "", nil))
		conn.Close(perr.CloseCode, perr.Message)
		return false
	}
	state.Phase = PhaseReady

	var existing *protocol.PeerSummary
	if res.Existing != nil {
		existing = &protocol.PeerSummary{
			PeerID:   res.Existing.ID,
			Metadata: res.Existing.ClientInfo,
		}
	}
	conn.Send(protocol.ReadyFrame(state.PeerID, state.ChannelID, existing))

	if res.Existing != nil {
		res.Existing.Conn.Send(protocol.JoinedFrame(state.PeerID, state.ClientInfo))
	}
	return true
}

// teardown removes the peer and notifies the survivor. The tombstone
// check inside RemovePeer makes this a no-op for connections that were
// rejected at admission.
func (h *Hub) teardown(conn Conn, state *ConnState) {
	state.Phase = PhaseClosing

	survivor, removed := h.registry.RemovePeer(state.ChannelID, state.PeerID, conn)
	if removed && survivor != nil {
		survivor.Conn.Send(protocol.LeftFrame(state.PeerID, "connection_closed"))
	}
	conn.Close(closeNormal, "")
}

// handleMessage runs one inbound frame through the pipeline: phase
// check, size gate, parse/validate, route. Validation failures are
// recoverable; the connection stays open.
func (h *Hub) handleMessage(conn Conn, state *ConnState, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("panic in message handler",
				"channel", state.ChannelID, "peer", state.PeerID, "panic", rec)
			h.registry.IncrementError(protocol.ErrInternal.Code)
			conn.Send(protocol.ErrorFrame(protocol.ErrInternal, "", nil))
			conn.Close(protocol.ErrInternal.CloseCode, protocol.ErrInternal.Message)
		}
	}()

	switch state.Phase {
	case PhaseClosing:
		return
	case PhaseAdmitted:
		// Admission runs synchronously before the read loop, so a
		// frame in this phase means the state machine was violated.
		h.registry.IncrementError(protocol.ErrInvalidMessage.Code)
		perr := protocol.ErrInvalidMessage.WithMessage("Connection is not ready")
		conn.Send(protocol.ErrorFrame(perr, "", nil))
		conn.Close(perr.CloseCode, perr.Message)
		return
	}

	if int64(len(raw)) > h.maxMessageSize {
		h.registry.IncrementError(protocol.ErrMessageTooLarge.Code)
		conn.Send(protocol.ErrorFrame(protocol.ErrMessageTooLarge, "", map[string]any{
			"size":  len(raw),
			"limit": h.maxMessageSize,
		}))
		return
	}

	env, perr := protocol.Parse(raw)
	if perr != nil {
		h.registry.IncrementError(perr.Code)
		conn.Send(protocol.ErrorFrame(perr, "", nil))
		return
	}

	switch env.Header.Type {
	case protocol.TypeData, protocol.TypeControl:
		h.relay(conn, state, env, raw)
	case protocol.TypeAck:
		// Acks for a departed peer are dropped silently; surfacing
		// NO_PEER_CONNECTED here would storm the survivor after every
		// disconnect.
		res := h.registry.RelayToPeer(state.ChannelID, state.PeerID, raw)
		if !res.PeerPresent || !res.Sent {
			h.log.Debug("ack dropped, no peer",
				"channel", state.ChannelID, "peer", state.PeerID, "message_id", env.Header.ID)
		}
	}
}

// relay forwards a data or control frame and surfaces relay failures
// as recoverable NO_PEER_CONNECTED errors.
func (h *Hub) relay(conn Conn, state *ConnState, env *protocol.Envelope, raw []byte) {
	res := h.registry.RelayToPeer(state.ChannelID, state.PeerID, raw)
	if !res.PeerPresent {
		h.registry.IncrementError(protocol.ErrNoPeerConnected.Code)
		conn.Send(protocol.ErrorFrame(protocol.ErrNoPeerConnected, env.Header.ID, nil))
		return
	}
	if !res.Sent {
		h.registry.IncrementError(protocol.ErrNoPeerConnected.Code)
		perr := protocol.ErrNoPeerConnected.WithMessage("Peer disconnected")
		conn.Send(protocol.ErrorFrame(perr, env.Header.ID, nil))
	}
}
