package relay

import (
	"errors"
	"sync"
	"time"
)

var errConnFinished = errors.New("connection finished")

// fakeConn is an in-memory Conn for hub and registry tests. Inbound
// frames are pushed through a channel; outbound frames are recorded.
type fakeConn struct {
	addr   string
	inbox  chan []byte
	status SendStatus // returned by Send; default SendSent

	mu          sync.Mutex
	frames      [][]byte
	closed      bool
	closeCode   int
	closeReason string
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{addr: addr, inbox: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	raw, ok := <-c.inbox
	if !ok {
		return nil, errConnFinished
	}
	return raw, nil
}

func (c *fakeConn) Send(frame []byte) SendStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return SendDropped
	}
	if c.status == SendDropped {
		return SendDropped
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	c.frames = append(c.frames, buf)
	return c.status
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	return nil
}

func (c *fakeConn) RemoteAddr() string { return c.addr }

// push delivers an inbound frame to the connection's read loop.
func (c *fakeConn) push(frame []byte) { c.inbox <- frame }

// finish ends the read loop, simulating a client disconnect.
func (c *fakeConn) finish() { close(c.inbox) }

func (c *fakeConn) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) isClosed() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode
}

// waitFrames polls until the connection has at least n outbound frames
// or the deadline passes. Returns the frames either way; the caller
// asserts on the contents.
func waitFrames(c *fakeConn, n int) [][]byte {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frames := c.sentFrames()
		if len(frames) >= n {
			return frames
		}
		time.Sleep(time.Millisecond)
	}
	return c.sentFrames()
}
