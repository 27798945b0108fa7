package relay

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bxacosta/wsclip/internal/protocol"
)

// PeersPerChannel is the hard cap on peers in one channel. The whole
// relay model is a pair: sender and receiver.
const PeersPerChannel = 2

// Peer is one live connection inside a channel.
type Peer struct {
	ID          string
	Conn        Conn
	ConnectedAt time.Time
	ClientInfo  map[string]any
}

// channel is a pairing room. Created lazily on first admission,
// destroyed as soon as it has no peers.
type channel struct {
	id        string
	createdAt time.Time
	peers     map[string]*Peer
}

// otherPeer returns the peer whose id differs from exclude, nil if the
// channel only holds the excluded peer.
func (c *channel) otherPeer(exclude string) *Peer {
	for id, p := range c.peers {
		if id != exclude {
			return p
		}
	}
	return nil
}

// AddResult reports a successful admission. Existing is the peer that
// was already in the channel, nil for the first arrival.
type AddResult struct {
	TotalPeers int
	Existing   *Peer
}

// RelayResult is the outcome of a relay attempt. PeerPresent is false
// when the channel had no other peer; the caller decides whether that
// is an error (data, control) or silence (ack).
type RelayResult struct {
	Sent        bool
	Status      SendStatus
	PeerPresent bool
}

// Counters is a snapshot of the registry's monotone counters.
type Counters struct {
	MessagesRelayed  uint64            `json:"messages_relayed"`
	BytesTransferred uint64            `json:"bytes_transferred"`
	MessagesQueued   uint64            `json:"messages_queued"`
	MessagesDropped  uint64            `json:"messages_dropped"`
	Errors           map[string]uint64 `json:"errors"`
}

// ChannelInfo is a per-channel view for the stats endpoint.
type ChannelInfo struct {
	ChannelID string   `json:"channel_id"`
	PeerIDs   []string `json:"peer_ids"`
	CreatedAt string   `json:"created_at"`
}

// Stats is the registry snapshot served by /stats.
type Stats struct {
	ActiveChannels int           `json:"active_channels"`
	ActivePeers    int           `json:"active_peers"`
	Counters       Counters      `json:"counters"`
	Channels       []ChannelInfo `json:"channels"`
}

// Registry maps channel ids to their peer pairs and owns the peer
// lifecycle. All state is guarded by one mutex; sends never happen
// under it. Callers get connections back and do their own I/O.
type Registry struct {
	maxChannels int
	log         *slog.Logger
	metrics     *Metrics // nil-safe

	mu       sync.Mutex
	channels map[string]*channel

	// Monotone counters, guarded by mu.
	messagesRelayed  uint64
	bytesTransferred uint64
	messagesQueued   uint64
	messagesDropped  uint64
	errorCounts      map[string]uint64
}

// NewRegistry creates an empty registry with the given channel ceiling.
func NewRegistry(maxChannels int, log *slog.Logger, metrics *Metrics) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		maxChannels: maxChannels,
		log:         log.With("component", "registry"),
		metrics:     metrics,
		channels:    make(map[string]*channel),
		errorCounts: make(map[string]uint64),
	}
}

// CheckAdmission is a read-only preview of AddPeer, used by the
// upgrade gate to reject doomed requests with an HTTP status instead
// of upgrading first. The authoritative check still happens in AddPeer;
// a connection can lose the race between the two and is then rejected
// post-open with a close code.
func (r *Registry) CheckAdmission(channelID, peerID string) *protocol.Error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[channelID]
	if !ok {
		if len(r.channels) >= r.maxChannels {
			return protocol.ErrMaxChannelsReached
		}
		return nil
	}
	if _, exists := ch.peers[peerID]; exists {
		return protocol.ErrDuplicatePeerID
	}
	if len(ch.peers) >= PeersPerChannel {
		return protocol.ErrChannelFull
	}
	return nil
}

// AddPeer admits a connection into a channel. The channel is created if
// absent (subject to the server-wide ceiling). On success the result
// carries the already-present peer, if any, so the caller can fan out
// notifications outside the lock.
func (r *Registry) AddPeer(channelID, peerID string, conn Conn, clientInfo map[string]any) (AddResult, *protocol.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[channelID]
	if !ok {
		if len(r.channels) >= r.maxChannels {
			return AddResult{}, protocol.ErrMaxChannelsReached
		}
		ch = &channel{
			id:        channelID,
			createdAt: time.Now(),
			peers:     make(map[string]*Peer, PeersPerChannel),
		}
		r.channels[channelID] = ch
		if r.metrics != nil {
			r.metrics.ActiveChannels.Set(float64(len(r.channels)))
		}
	}

	if len(ch.peers) >= PeersPerChannel {
		return AddResult{}, protocol.ErrChannelFull
	}
	if _, exists := ch.peers[peerID]; exists {
		return AddResult{}, protocol.ErrDuplicatePeerID
	}

	existing := ch.otherPeer(peerID)
	ch.peers[peerID] = &Peer{
		ID:          peerID,
		Conn:        conn,
		ConnectedAt: time.Now(),
		ClientInfo:  clientInfo,
	}
	if r.metrics != nil {
		r.metrics.ActiveConnections.Inc()
	}

	r.log.Info("peer joined",
		"channel", channelID, "peer", peerID, "total_peers", len(ch.peers))

	return AddResult{TotalPeers: len(ch.peers), Existing: existing}, nil
}

// RemovePeer removes a peer on connection close. The conn argument is a
// tombstone check: if the stored peer's connection is not the same
// instance, the close event belongs to a rejected duplicate attempt and
// the legitimate peer's record must stay untouched. Returns the
// surviving peer (for the left notification) and whether anything was
// removed.
func (r *Registry) RemovePeer(channelID, peerID string, conn Conn) (survivor *Peer, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[channelID]
	if !ok {
		return nil, false
	}
	p, ok := ch.peers[peerID]
	if !ok {
		return nil, false
	}
	if p.Conn != conn {
		r.log.Debug("ignoring close from stale connection",
			"channel", channelID, "peer", peerID)
		return nil, false
	}

	delete(ch.peers, peerID)
	if r.metrics != nil {
		r.metrics.ActiveConnections.Dec()
	}
	r.log.Info("peer left",
		"channel", channelID, "peer", peerID, "remaining", len(ch.peers))

	survivor = ch.otherPeer(peerID)
	r.dropChannelIfEmpty(ch)
	return survivor, true
}

// dropChannelIfEmpty deletes a channel with no peers. Must be called
// with r.mu held.
func (r *Registry) dropChannelIfEmpty(ch *channel) {
	if len(ch.peers) != 0 {
		return
	}
	delete(r.channels, ch.id)
	if r.metrics != nil {
		r.metrics.ActiveChannels.Set(float64(len(r.channels)))
	}
	r.log.Debug("channel destroyed", "channel", ch.id)
}

// GetPeer returns the peer in channelID whose id differs from
// excludePeerID.
func (r *Registry) GetPeer(channelID, excludePeerID string) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[channelID]
	if !ok {
		return nil, false
	}
	p := ch.otherPeer(excludePeerID)
	return p, p != nil
}

// HasPeer reports whether the channel holds a peer other than
// excludePeerID.
func (r *Registry) HasPeer(channelID, excludePeerID string) bool {
	_, ok := r.GetPeer(channelID, excludePeerID)
	return ok
}

// RelayToPeer forwards a raw frame to the sender's counterpart. The
// frame is forwarded byte-identical, never re-serialized. Counter
// updates follow the backpressure policy: queued counts as delivered.
func (r *Registry) RelayToPeer(channelID, senderID string, frame []byte) RelayResult {
	r.mu.Lock()
	ch, ok := r.channels[channelID]
	var target Conn
	if ok {
		if p := ch.otherPeer(senderID); p != nil {
			target = p.Conn
		}
	}
	r.mu.Unlock()

	if target == nil {
		return RelayResult{}
	}

	// Send happens outside the lock; it may block on slow consumers.
	status := target.Send(frame)

	r.mu.Lock()
	defer r.mu.Unlock()
	switch status {
	case SendSent:
		r.messagesRelayed++
		r.bytesTransferred += uint64(len(frame))
	case SendQueued:
		r.messagesRelayed++
		r.messagesQueued++
		r.bytesTransferred += uint64(len(frame))
		r.log.Warn("relay backpressure, frame queued",
			"channel", channelID, "sender", senderID, "bytes", len(frame))
	case SendDropped:
		r.messagesDropped++
	}
	if r.metrics != nil {
		r.metrics.MessagesRelayedTotal.WithLabelValues(status.String()).Inc()
		if status != SendDropped {
			r.metrics.BytesRelayedTotal.Add(float64(len(frame)))
		}
	}

	return RelayResult{
		Sent:        status != SendDropped,
		Status:      status,
		PeerPresent: true,
	}
}

// BroadcastToAll sends a raw frame to every connected peer and returns
// the recipient count. Send failures are logged, not surfaced.
func (r *Registry) BroadcastToAll(frame []byte) int {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.channels)*PeersPerChannel)
	for _, ch := range r.channels {
		for _, p := range ch.peers {
			conns = append(conns, p.Conn)
		}
	}
	r.mu.Unlock()

	for _, c := range conns {
		if status := c.Send(frame); status == SendDropped {
			r.log.Warn("broadcast frame dropped", "remote", c.RemoteAddr())
		}
	}
	return len(conns)
}

// CloseAll closes every connection with the given code and reason.
// Used on shutdown. Per-connection errors are collected; they never
// block the remaining closes.
func (r *Registry) CloseAll(code int, reason string) (closed int, errs []error) {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.channels)*PeersPerChannel)
	for _, ch := range r.channels {
		for _, p := range ch.peers {
			conns = append(conns, p.Conn)
		}
	}
	r.mu.Unlock()

	for _, c := range conns {
		if err := c.Close(code, reason); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.RemoteAddr(), err))
			continue
		}
		closed++
	}
	return closed, errs
}

// IncrementError bumps the per-code error counter.
func (r *Registry) IncrementError(code string) {
	r.mu.Lock()
	r.errorCounts[code]++
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ErrorsTotal.WithLabelValues(code).Inc()
	}
}

// GetStats copies the registry state under the lock.
func (r *Registry) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		ActiveChannels: len(r.channels),
		Counters: Counters{
			MessagesRelayed:  r.messagesRelayed,
			BytesTransferred: r.bytesTransferred,
			MessagesQueued:   r.messagesQueued,
			MessagesDropped:  r.messagesDropped,
			Errors:           make(map[string]uint64, len(r.errorCounts)),
		},
	}
	for code, n := range r.errorCounts {
		s.Counters.Errors[code] = n
	}
	for id, ch := range r.channels {
		info := ChannelInfo{
			ChannelID: id,
			CreatedAt: ch.createdAt.UTC().Format(time.RFC3339),
		}
		for pid := range ch.peers {
			info.PeerIDs = append(info.PeerIDs, pid)
		}
		s.ActivePeers += len(ch.peers)
		s.Channels = append(s.Channels, info)
	}
	return s
}
