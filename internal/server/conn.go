// Package server adapts gorilla WebSocket connections to the Conn handle
// used by the Manager, handling read/write pumps and keepalive for each one.
package server

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
)

var (
	// ErrConnClosed is returned when sending on or closing a connection that
	// is already closed.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when a peer is too slow to drain its
	// outgoing queue.
	ErrSendBufferFull = errors.New("send buffer full")
)

// wsConn is a WebSocket-backed Conn. Send only enqueues; the write pump owns
// the socket for writing and closes it once the queue is closed and drained.
type wsConn struct {
	conn           *websocket.Conn
	send           chan []byte
	addr           string
	maxMessageSize int64
	logger         *log.Logger

	mu     sync.Mutex
	closed bool
}

func newWSConn(conn *websocket.Conn, addr string, maxMessageSize int64, logger *log.Logger) *wsConn {
	if conn != nil {
		conn.SetReadLimit(maxMessageSize)
	}
	if logger == nil {
		logger = log.Default()
	}

	return &wsConn{
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		addr:           addr,
		maxMessageSize: maxMessageSize,
		logger:         logger,
	}
}

// Send queues payload as one text frame.
func (c *wsConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops accepting payloads. Frames already queued are still written
// before the close frame.
func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	c.closed = true
	close(c.send)
	return nil
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *wsConn) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Printf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type.
func (c *wsConn) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Printf("Message from %s exceeded maximum size of %d bytes", c.addr, c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Printf("Client %s disconnected: %v", c.addr, err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Printf("Client %s connection closed: %v", c.addr, err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Printf("Unexpected WebSocket error from %s: %v", c.addr, err)
	default:
		c.logger.Printf("WebSocket read error from %s: %v", c.addr, err)
	}
}

// readPump feeds every frame to the manager and reports the close once the
// socket stops delivering.
func (c *wsConn) readPump(m *Manager) {
	defer func() {
		m.Disconnect(c)
		_ = c.Close()
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		m.HandleMessage(c, rawMessage)
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *wsConn) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection closes the socket, ignoring errors from a peer that already left.
func (c *wsConn) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Printf("Error closing connection to %s: %v", c.addr, err)
		}
	}
}

// handleMessage writes one queued envelope, or the close frame once the
// queue is closed, and returns false if the pump should stop.
func (c *wsConn) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Printf("Error setting write deadline for %s: %v", c.addr, err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Printf("Error writing message to %s: %v", c.addr, err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close frame to the client.
func (c *wsConn) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Printf("Error writing close message to %s: %v", c.addr, err)
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *wsConn) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Printf("Error setting write deadline for ping to %s: %v", c.addr, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Printf("Error writing ping message to %s: %v", c.addr, err)
		return false
	}
	return true
}
