package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned by Send once the connection has been closed.
var ErrConnectionClosed = errors.New("connection closed")

// ErrSendBufferFull is returned when a slow client exhausted its outbound buffer.
var ErrSendBufferFull = errors.New("connection send buffer exceeded")

// Conn is a live connection handle as seen by the registry.
type Conn interface {
	ID() string
	Send(payload []byte) error
	Close(code int, reason string)
}

// Options tunes the outbound side of a Connection.
type Options struct {
	SendBuffer   int
	WriteWait    time.Duration
	PingInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 128
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	return o
}

// Connection wraps a websocket and serializes outbound writes through a
// buffered channel drained by a single write loop. Send and Close are safe for
// concurrent use.
type Connection struct {
	id   string
	ws   *websocket.Conn
	opts Options

	send   chan []byte
	once   sync.Once
	closed chan struct{}
}

// NewConnection wraps ws. Start must be called before any payload is delivered.
func NewConnection(ws *websocket.Conn, opts Options) *Connection {
	opts = opts.withDefaults()
	return &Connection{
		id:     uuid.NewString(),
		ws:     ws,
		opts:   opts,
		send:   make(chan []byte, opts.SendBuffer),
		closed: make(chan struct{}),
	}
}

// ID returns the unique handle of this connection.
func (c *Connection) ID() string { return c.id }

// Start launches the write loop. It must be called exactly once.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} { return c.closed }

// Send enqueues payload for delivery. A full buffer closes the connection so a
// stalled client cannot hold up anyone else.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.closed:
		return ErrConnectionClosed
	default:
		c.Close(websocket.CloseTryAgainLater, "send buffer full")
		return ErrSendBufferFull
	}
}

// Close sends a close frame and tears down the socket. Subsequent calls are no-ops.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(c.opts.WriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
