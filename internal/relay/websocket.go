package relay

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// writeTimeout bounds a single frame write. A consumer that cannot
// drain within this budget is treated as backpressured, not dead.
const writeTimeout = 10 * time.Second

// WSConn adapts a gorilla connection to the relay Conn interface.
// gorilla allows one concurrent reader and one concurrent writer; the
// hub is the single reader, and writeMu serializes writers (relay
// sends, notifications, the ping loop).
type WSConn struct {
	ws          *websocket.Conn
	idleTimeout time.Duration
	log         *slog.Logger

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewWSConn wraps an upgraded connection. The hard read limit sits
// above the application's size gate so oversized frames are still read
// and answered with a recoverable error instead of a transport close.
// Idle enforcement uses read deadlines refreshed by pongs and inbound
// frames, with a ping loop at half the timeout.
func NewWSConn(ws *websocket.Conn, idleTimeout time.Duration, maxMessageSize int64, log *slog.Logger) *WSConn {
	if log == nil {
		log = slog.Default()
	}
	c := &WSConn{
		ws:          ws,
		idleTimeout: idleTimeout,
		log:         log.With("component", "wsconn", "remote", ws.RemoteAddr().String()),
		done:        make(chan struct{}),
	}

	ws.SetReadLimit(2*maxMessageSize + 1024)
	ws.SetReadDeadline(time.Now().Add(idleTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	go c.pingLoop()
	return c
}

// ReadMessage blocks for the next data frame. Each inbound frame
// refreshes the idle deadline.
func (c *WSConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	c.ws.SetReadDeadline(time.Now().Add(c.idleTimeout))
	return data, nil
}

// Send writes one text frame. A write deadline expiry maps to
// SendQueued (backpressure: the peer is slow, not gone); any other
// failure marks the connection dead and maps to SendDropped.
func (c *WSConn) Send(frame []byte) SendStatus {
	if c.closed.Load() {
		return SendDropped
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := c.ws.WriteMessage(websocket.TextMessage, frame)
	if err == nil {
		return SendSent
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return SendQueued
	}

	c.closed.Store(true)
	return SendDropped
}

// Close sends a close frame with the given application code and tears
// the connection down. Safe to call multiple times.
func (c *WSConn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)

		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		writeErr := c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason))
		c.writeMu.Unlock()

		closeErr := c.ws.Close()
		if writeErr != nil && !errors.Is(writeErr, websocket.ErrCloseSent) {
			err = writeErr
		} else {
			err = closeErr
		}
	})
	return err
}

// RemoteAddr identifies the connection for logging.
func (c *WSConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// pingLoop keeps idle-but-alive connections open by soliciting pongs.
// Exits when the connection closes.
func (c *WSConn) pingLoop() {
	interval := c.idleTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.log.Debug("ping failed", "error", err)
				return
			}
		}
	}
}
