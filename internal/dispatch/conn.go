package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	messageBufferSize = 16
	maxInboundBytes   = 8 << 20
)

// InboundHandler receives frames read from a Conn.
type InboundHandler func(ctx context.Context, env Envelope)

// Conn is a Session over a gorilla WebSocket. One goroutine owns writes; the
// caller runs ReadLoop on its own goroutine.
type Conn struct {
	id          string
	connection  *websocket.Conn
	clock       clockwork.Clock
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

var _ Session = (*Conn)(nil)

func NewConn(connection *websocket.Conn, clock clockwork.Clock) *Conn {
	c := &Conn{
		id:          uuid.NewString(),
		connection:  connection,
		clock:       clock,
		sendChannel: make(chan []byte, messageBufferSize),
		doneChannel: make(chan struct{}),
	}
	c.connection.SetReadLimit(maxInboundBytes)
	c.configurePongHandler()
	c.wg.Add(1)
	go c.writeLoop()
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(frame []byte) bool {
	select {
	case <-c.doneChannel:
		return false
	default:
	}
	select {
	case c.sendChannel <- frame:
		return true
	default:
		return false
	}
}

// Close writes a close frame with the reason once the writer has exited.
func (c *Conn) Close(reason string) {
	c.stopOnce.Do(func() {
		close(c.doneChannel)
		c.wg.Wait()

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		c.updateWriteDeadline()
		_ = c.connection.WriteMessage(websocket.CloseMessage, msg)
		_ = c.connection.Close()
	})
}

// Done is closed when the connection has been closed from our side.
func (c *Conn) Done() <-chan struct{} {
	return c.doneChannel
}

// ReadLoop reads frames until the peer goes away or the connection is closed.
// Malformed frames are logged and skipped.
func (c *Conn) ReadLoop(ctx context.Context, handle InboundHandler) {
	for {
		_, data, err := c.connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket read ended", "session_id", c.id, "error", err)
			}
			return
		}
		c.updateReadDeadline()

		env, err := Decode(data)
		if err != nil || env.Event == "" {
			slog.Warn("Discarding malformed frame", "session_id", c.id)
			continue
		}
		handle(ctx, env)
	}
}

func (c *Conn) writeLoop() {
	ticker := c.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.wg.Done()

	for {
		select {
		case msg := <-c.sendChannel:
			c.updateWriteDeadline()
			if err := c.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = c.connection.Close()
				return
			}
		case <-ticker.Chan():
			c.updateWriteDeadline()
			if err := c.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.connection.Close()
				return
			}
		case <-c.doneChannel:
			return
		}
	}
}

func (c *Conn) configurePongHandler() {
	c.updateReadDeadline()
	c.connection.SetPongHandler(func(string) error {
		c.updateReadDeadline()
		return nil
	})
}

func (c *Conn) updateWriteDeadline() {
	_ = c.connection.SetWriteDeadline(c.clock.Now().Add(writeDeadline))
}

func (c *Conn) updateReadDeadline() {
	_ = c.connection.SetReadDeadline(c.clock.Now().Add(pongDeadline))
}
