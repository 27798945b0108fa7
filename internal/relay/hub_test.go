package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/bxacosta/wsclip/internal/protocol"
)

type hubFixture struct {
	registry *Registry
	hub      *Hub
	wg       sync.WaitGroup
}

func newHubFixture(maxMessageSize int64) *hubFixture {
	r := NewRegistry(4, nil, nil)
	return &hubFixture{
		registry: r,
		hub:      NewHub(r, maxMessageSize, nil),
	}
}

// connect runs a connection through the hub on its own goroutine, the
// way the server does after a successful upgrade.
func (f *hubFixture) connect(channelID, peerID string, conn *fakeConn, clientInfo map[string]any) {
	state := &ConnState{ChannelID: channelID, PeerID: peerID, ClientInfo: clientInfo}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.hub.Run(conn, state)
	}()
}

func (f *hubFixture) shutdown(t *testing.T, conns ...*fakeConn) {
	t.Helper()
	for _, c := range conns {
		if ok, _ := c.isClosed(); !ok {
			c.finish()
		}
	}
	f.wg.Wait()
}

func decodeFrame(t *testing.T, raw []byte) (protocol.Header, json.RawMessage) {
	t.Helper()
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("frame is not a valid envelope: %v\n%s", err, raw)
	}
	return env.Header, env.Payload
}

func dataFrame(data string) []byte {
	return []byte(fmt.Sprintf(
		`{"header":{"type":"data","id":%q,"timestamp":"2026-08-24T12:00:00Z"},"payload":{"contentType":"text","data":%q}}`,
		uuid.NewString(), data))
}

func ackFrame() []byte {
	return []byte(fmt.Sprintf(
		`{"header":{"type":"ack","id":%q,"timestamp":"2026-08-24T12:00:00Z"},"payload":{"messageId":%q,"status":"success"}}`,
		uuid.NewString(), uuid.NewString()))
}

func TestHub_HappyPair(t *testing.T) {
	f := newHubFixture(1 << 20)
	connA := newFakeConn("a")
	connB := newFakeConn("b")

	f.connect("AAAA1111", "a", connA, nil)
	framesA := waitFrames(connA, 1)
	if len(framesA) != 1 {
		t.Fatalf("a frames = %d, want ready", len(framesA))
	}
	hdr, payload := decodeFrame(t, framesA[0])
	if hdr.Type != protocol.TypeReady {
		t.Fatalf("first frame type = %q, want ready", hdr.Type)
	}
	var readyA protocol.ReadyPayload
	json.Unmarshal(payload, &readyA)
	if readyA.Peer != nil {
		t.Errorf("first peer's ready.peer = %+v, want null", readyA.Peer)
	}

	f.connect("AAAA1111", "b", connB, map[string]any{"platform": "web"})

	// b gets ready naming a; a gets peer(joined) naming b.
	framesB := waitFrames(connB, 1)
	hdr, payload = decodeFrame(t, framesB[0])
	if hdr.Type != protocol.TypeReady {
		t.Fatalf("b first frame = %q, want ready", hdr.Type)
	}
	var readyB protocol.ReadyPayload
	json.Unmarshal(payload, &readyB)
	if readyB.Peer == nil || readyB.Peer.PeerID != "a" {
		t.Errorf("b ready.peer = %+v, want a", readyB.Peer)
	}

	framesA = waitFrames(connA, 2)
	hdr, payload = decodeFrame(t, framesA[1])
	if hdr.Type != protocol.TypePeer {
		t.Fatalf("a second frame = %q, want peer", hdr.Type)
	}
	var ev protocol.PeerEventPayload
	json.Unmarshal(payload, &ev)
	if ev.PeerID != "b" || ev.Event != protocol.EventJoined {
		t.Errorf("event = %+v", ev)
	}
	if ev.Metadata["platform"] != "web" {
		t.Errorf("joined metadata = %v, want b's client info", ev.Metadata)
	}

	// b relays a data frame; a receives it byte-identical.
	sent := dataFrame("hi")
	connB.push(sent)
	framesA = waitFrames(connA, 3)
	if string(framesA[2]) != string(sent) {
		t.Fatalf("relayed frame differs:\n got %s\nwant %s", framesA[2], sent)
	}

	// b leaves; a gets peer(left) with connection_closed.
	connB.finish()
	framesA = waitFrames(connA, 4)
	hdr, payload = decodeFrame(t, framesA[3])
	if hdr.Type != protocol.TypePeer {
		t.Fatalf("a fourth frame = %q, want peer", hdr.Type)
	}
	json.Unmarshal(payload, &ev)
	if ev.Event != protocol.EventLeft || ev.Metadata["reason"] != "connection_closed" {
		t.Errorf("left event = %+v", ev)
	}

	f.shutdown(t, connA)
}

func TestHub_AdmissionRejected_ChannelFull(t *testing.T) {
	f := newHubFixture(1 << 20)
	connA := newFakeConn("a")
	connB := newFakeConn("b")
	f.connect("AAAA1111", "a", connA, nil)
	waitFrames(connA, 1)
	f.connect("AAAA1111", "b", connB, nil)
	waitFrames(connB, 1)

	connC := newFakeConn("c")
	state := &ConnState{ChannelID: "AAAA1111", PeerID: "c"}
	f.hub.Run(connC, state) // returns synchronously on rejection

	frames := connC.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("c frames = %d, want one error frame", len(frames))
	}
	hdr, payload := decodeFrame(t, frames[0])
	if hdr.Type != protocol.TypeError {
		t.Fatalf("c frame type = %q", hdr.Type)
	}
	var ep protocol.ErrorPayload
	json.Unmarshal(payload, &ep)
	if ep.Code != "CHANNEL_FULL" {
		t.Errorf("code = %s", ep.Code)
	}
	if ok, code := connC.isClosed(); !ok || code != 4200 {
		t.Errorf("c closed = %v code = %d, want 4200", ok, code)
	}

	// Pair is untouched.
	if got := f.registry.GetStats().ActivePeers; got != 2 {
		t.Errorf("ActivePeers = %d", got)
	}

	f.shutdown(t, connA, connB)
}

func TestHub_DuplicatePeer_DoesNotEvictLegit(t *testing.T) {
	f := newHubFixture(1 << 20)
	connA := newFakeConn("a-legit")
	f.connect("AAAA1111", "a", connA, nil)
	waitFrames(connA, 1)

	dup := newFakeConn("a-dup")
	f.hub.Run(dup, &ConnState{ChannelID: "AAAA1111", PeerID: "a"})

	if ok, code := dup.isClosed(); !ok || code != 4201 {
		t.Errorf("dup closed = %v code = %d, want 4201", ok, code)
	}
	if ok, _ := connA.isClosed(); ok {
		t.Error("legitimate connection was closed")
	}
	if p, ok := f.registry.GetPeer("AAAA1111", ""); !ok || p.Conn != Conn(connA) {
		t.Error("legitimate peer record was disturbed")
	}

	f.shutdown(t, connA)
}

func TestHub_DataWithoutPeer(t *testing.T) {
	f := newHubFixture(1 << 20)
	connA := newFakeConn("a")
	f.connect("AAAA1111", "a", connA, nil)
	waitFrames(connA, 1)

	sent := dataFrame("nobody home")
	connA.push(sent)

	frames := waitFrames(connA, 2)
	hdr, payload := decodeFrame(t, frames[1])
	if hdr.Type != protocol.TypeError {
		t.Fatalf("frame type = %q, want error", hdr.Type)
	}
	var ep protocol.ErrorPayload
	json.Unmarshal(payload, &ep)
	if ep.Code != "NO_PEER_CONNECTED" {
		t.Errorf("code = %s", ep.Code)
	}
	if ep.MessageID == "" {
		t.Error("error frame should carry the offending messageId")
	}
	if ok, _ := connA.isClosed(); ok {
		t.Error("NO_PEER_CONNECTED is recoverable; connection must stay open")
	}

	f.shutdown(t, connA)
}

func TestHub_AckWithoutPeer_Silent(t *testing.T) {
	f := newHubFixture(1 << 20)
	connA := newFakeConn("a")
	f.connect("AAAA1111", "a", connA, nil)
	waitFrames(connA, 1)

	connA.push(ackFrame())
	// Push a data frame afterwards as a sync point: its error frame
	// proves the ack was already processed.
	connA.push(dataFrame("sync"))

	frames := waitFrames(connA, 2)
	if len(frames) != 2 {
		t.Fatalf("frames = %d", len(frames))
	}
	var ep protocol.ErrorPayload
	_, payload := decodeFrame(t, frames[1])
	json.Unmarshal(payload, &ep)
	if ep.Code != "NO_PEER_CONNECTED" {
		t.Fatalf("sync frame error = %s", ep.Code)
	}

	// The ack itself produced neither a frame nor an error count.
	if n := f.registry.GetStats().Counters.Errors["NO_PEER_CONNECTED"]; n != 1 {
		t.Errorf("NO_PEER_CONNECTED count = %d, want 1 (data only)", n)
	}

	f.shutdown(t, connA)
}

func TestHub_OversizeFrame(t *testing.T) {
	f := newHubFixture(1024)
	connA := newFakeConn("a")
	connB := newFakeConn("b")
	f.connect("AAAA1111", "a", connA, nil)
	waitFrames(connA, 1)
	f.connect("AAAA1111", "b", connB, nil)
	waitFrames(connA, 2)
	waitFrames(connB, 1)

	big := dataFrame(string(make([]byte, 2048)))
	connA.push(big)

	frames := waitFrames(connA, 3)
	_, payload := decodeFrame(t, frames[2])
	var ep protocol.ErrorPayload
	json.Unmarshal(payload, &ep)
	if ep.Code != "MESSAGE_TOO_LARGE" {
		t.Fatalf("code = %s", ep.Code)
	}
	if ok, _ := connA.isClosed(); ok {
		t.Error("MESSAGE_TOO_LARGE is recoverable; connection must stay open")
	}

	// b saw only its ready frame, nothing relayed.
	if got := connB.sentFrames(); len(got) != 1 {
		t.Errorf("b frames = %d, oversize frame must not be relayed", len(got))
	}

	f.shutdown(t, connA, connB)
}

func TestHub_BackpressureQueued(t *testing.T) {
	f := newHubFixture(1 << 20)
	connA := newFakeConn("a")
	connB := newFakeConn("b")
	connB.status = SendQueued
	f.connect("AAAA1111", "a", connA, nil)
	waitFrames(connA, 1)
	f.connect("AAAA1111", "b", connB, nil)
	waitFrames(connA, 2)
	waitFrames(connB, 1)

	connA.push(dataFrame("slow consumer"))

	// b eventually records the frame (queued still delivers to the
	// transport); a gets no error frame and stays open.
	framesB := waitFrames(connB, 2)
	if len(framesB) != 2 {
		t.Fatalf("b frames = %d", len(framesB))
	}

	f.shutdown(t, connA, connB)

	for _, raw := range connA.sentFrames() {
		hdr, _ := decodeFrame(t, raw)
		if hdr.Type == protocol.TypeError {
			t.Errorf("backpressure must not surface an error frame: %s", raw)
		}
	}
	c := f.registry.GetStats().Counters
	if c.MessagesRelayed != 1 || c.MessagesQueued != 1 {
		t.Errorf("counters = %+v", c)
	}
}

func TestHub_PeerDisconnectedDuringRelay(t *testing.T) {
	f := newHubFixture(1 << 20)
	connA := newFakeConn("a")
	connB := newFakeConn("b")
	connB.status = SendDropped
	f.connect("AAAA1111", "a", connA, nil)
	waitFrames(connA, 1)
	f.connect("AAAA1111", "b", connB, nil)
	waitFrames(connA, 2)

	connA.push(dataFrame("into the void"))

	frames := waitFrames(connA, 3)
	_, payload := decodeFrame(t, frames[2])
	var ep protocol.ErrorPayload
	json.Unmarshal(payload, &ep)
	if ep.Code != "NO_PEER_CONNECTED" {
		t.Fatalf("code = %s, want NO_PEER_CONNECTED on dropped relay", ep.Code)
	}

	f.shutdown(t, connA, connB)
}

func TestHub_InvalidMessage(t *testing.T) {
	f := newHubFixture(1 << 20)
	connA := newFakeConn("a")
	f.connect("AAAA1111", "a", connA, nil)
	waitFrames(connA, 1)

	connA.push([]byte(`{not json`))

	frames := waitFrames(connA, 2)
	_, payload := decodeFrame(t, frames[1])
	var ep protocol.ErrorPayload
	json.Unmarshal(payload, &ep)
	if ep.Code != "INVALID_MESSAGE" {
		t.Fatalf("code = %s", ep.Code)
	}
	if ok, _ := connA.isClosed(); ok {
		t.Error("INVALID_MESSAGE is recoverable; connection must stay open")
	}
	if n := f.registry.GetStats().Counters.Errors["INVALID_MESSAGE"]; n != 1 {
		t.Errorf("INVALID_MESSAGE count = %d", n)
	}

	f.shutdown(t, connA)
}

func TestHub_TeardownRemovesPeer(t *testing.T) {
	f := newHubFixture(1 << 20)
	connA := newFakeConn("a")
	f.connect("AAAA1111", "a", connA, nil)
	waitFrames(connA, 1)

	connA.finish()
	f.wg.Wait()

	stats := f.registry.GetStats()
	if stats.ActiveChannels != 0 || stats.ActivePeers != 0 {
		t.Errorf("stats after disconnect = %+v", stats)
	}
	if ok, _ := connA.isClosed(); !ok {
		t.Error("connection not closed on teardown")
	}
}
