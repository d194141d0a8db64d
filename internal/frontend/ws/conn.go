// Package ws provides the WebSocket acceptor and connection wrapper that carry
// the text frame protocol.
package ws

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("connection closed")

// Conn wraps a WebSocket connection with serialized writes, per-write
// deadlines, and keepalive pings.
type Conn struct {
	raw *websocket.Conn

	mu     sync.Mutex // serializes writes and guards closed
	closed bool

	writeTimeout time.Duration
	pingInterval time.Duration
	pongWait     time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// NewConn wraps raw.
//
// Precondition: raw must be an open connection; readLimit > 0.
// Postcondition: Inbound frames larger than readLimit end the connection. When
// pongWait > 0 the connection is dropped after pongWait without inbound
// traffic; pings are sent every pingInterval once StartKeepalive is called.
func NewConn(raw *websocket.Conn, readLimit int64, writeTimeout, pingInterval, pongWait time.Duration) *Conn {
	c := &Conn{
		raw:          raw,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		pongWait:     pongWait,
		done:         make(chan struct{}),
	}
	raw.SetReadLimit(readLimit)
	if pongWait > 0 {
		_ = raw.SetReadDeadline(time.Now().Add(pongWait))
		raw.SetPongHandler(func(string) error {
			return raw.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	return c
}

// ReadFrame blocks until the next complete data frame arrives.
//
// Postcondition: Returns the frame payload, or an error once the peer closes,
// the read deadline passes, or Close is called.
func (c *Conn) ReadFrame() ([]byte, error) {
	_, data, err := c.raw.ReadMessage()
	if err != nil {
		return nil, err
	}
	if c.pongWait > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.pongWait))
	}
	return data, nil
}

// WriteFrame writes one text frame. Safe for concurrent use.
func (c *Conn) WriteFrame(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.raw.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// StartKeepalive pings the peer every pingInterval until the connection
// closes. It is a no-op when pingInterval is zero.
func (c *Conn) StartKeepalive() {
	if c.pingInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				if err := c.ping(); err != nil {
					return
				}
			}
		}
	}()
}

func (c *Conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	deadline := time.Now().Add(time.Second)
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	return c.raw.WriteControl(websocket.PingMessage, nil, deadline)
}

// CloseWithReason sends a close frame with code and reason, then closes.
func (c *Conn) CloseWithReason(code int, reason string) error {
	c.mu.Lock()
	if !c.closed {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.raw.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	c.mu.Unlock()
	return c.Close()
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		err = c.raw.Close()
	})
	return err
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// IsNormalClose reports whether err is a clean close initiated by the peer.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
