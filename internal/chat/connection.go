package chat

import (
	"sync/atomic"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
)

// ConnState tracks the lifecycle of a Connection. Transitions are one-way:
// Open -> Closing -> Closed.
type ConnState int32

const (
	StateOpen ConnState = iota
	StateClosing
	StateClosed
)

// Transport abstracts the underlying websocket connection for testability.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

const writeWait = 10 * time.Second

// Connection is one live transport session owned by a single user identity.
// It is created on a successful handshake and destroyed by the hub on close,
// error, or idle timeout.
type Connection struct {
	ID              string
	UserID          string
	AuthenticatedAt time.Time

	transport   Transport
	send        chan []byte
	state       atomic.Int32
	idleTimeout time.Duration
}

func newConnection(id, userID string, transport Transport, sendBuffer int, idleTimeout time.Duration) *Connection {
	return &Connection{
		ID:              id,
		UserID:          userID,
		AuthenticatedAt: time.Now(),
		transport:       transport,
		send:            make(chan []byte, sendBuffer),
		idleTimeout:     idleTimeout,
	}
}

func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Connection) markClosing() {
	c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
}

func (c *Connection) markClosed() {
	c.state.Store(int32(StateClosed))
}

// trySend enqueues a frame without blocking. It returns false when the
// connection is no longer open or its buffer is full; the caller treats
// either as a delivery failure and tears the connection down. Callers must
// hold the hub lock so trySend never races the channel close in teardown.
func (c *Connection) trySend(data []byte) bool {
	if c.State() != StateOpen {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump drains the send channel onto the transport and keeps the
// connection alive with periodic pings. It exits when the send channel is
// closed or a write fails.
func (c *Connection) writePump() {
	pingPeriod := c.idleTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.transport.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.transport.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.transport.WriteMessage(gorillawebsocket.CloseMessage,
					gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""))
				return
			}
			if err := c.transport.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.transport.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.transport.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// gorillaTransport wraps a gorilla/websocket.Conn to satisfy Transport.
type gorillaTransport struct {
	conn *gorillawebsocket.Conn
}

func (t *gorillaTransport) ReadMessage() (int, []byte, error) {
	return t.conn.ReadMessage()
}

func (t *gorillaTransport) WriteMessage(messageType int, data []byte) error {
	return t.conn.WriteMessage(messageType, data)
}

func (t *gorillaTransport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

func (t *gorillaTransport) SetWriteDeadline(deadline time.Time) error {
	return t.conn.SetWriteDeadline(deadline)
}

func (t *gorillaTransport) SetPongHandler(h func(string) error) {
	t.conn.SetPongHandler(h)
}

func (t *gorillaTransport) Close() error {
	return t.conn.Close()
}
