package hub

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ClientState is the lifecycle of a stream connection.
type ClientState int32

const (
	StateConnecting ClientState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Close reasons reported to metrics and the journal.
const (
	ReasonClientClosed = "client_closed"
	ReasonQueueFull    = "queue_full"
	ReasonWriteFailed  = "write_failed"
	ReasonIdle         = "idle_timeout"
	ReasonShutdown     = "shutdown"
)

var (
	ErrClientClosed = errors.New("client closed")
	ErrQueueFull    = errors.New("client send queue full")
)

// Conn is the transport a client writes to. *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// controlWriter is implemented by connections that can send close and ping frames.
type controlWriter interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// Client is one stream connection. Outbound frames go through a bounded
// queue drained by a dedicated writer goroutine, so a slow client never
// blocks the broadcaster.
type Client struct {
	ID       string
	Encoding Encoding

	conn         Conn
	send         chan []byte
	done         chan struct{}
	writeTimeout time.Duration
	pingInterval time.Duration
	log          *zap.Logger
	onClose      func(c *Client, reason string)

	state     atomic.Int32
	lastSeen  atomic.Int64
	closeOnce sync.Once
}

func newClient(conn Conn, enc Encoding, queue int, writeTimeout, pingInterval time.Duration, log *zap.Logger) *Client {
	c := &Client{
		ID:           uuid.NewString(),
		Encoding:     enc,
		conn:         conn,
		send:         make(chan []byte, queue),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
	}
	c.log = log.With(zap.String("client", c.ID))
	c.Touch()
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() ClientState { return ClientState(c.state.Load()) }

// Done is closed once the client starts closing.
func (c *Client) Done() <-chan struct{} { return c.done }

// Touch records inbound activity for the idle timeout.
func (c *Client) Touch() { c.lastSeen.Store(time.Now().UnixNano()) }

// LastSeen returns the time of the last inbound activity.
func (c *Client) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()) }

// Enqueue queues a pre-encoded frame without blocking.
func (c *Client) Enqueue(frame []byte) error {
	if s := c.State(); s == StateClosing || s == StateClosed {
		return ErrClientClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Send encodes v in the client's encoding and queues it. A full queue
// closes the client.
func (c *Client) Send(v any) error {
	frame, err := Encode(c.Encoding, v)
	if err != nil {
		return err
	}
	if err := c.Enqueue(frame); err != nil {
		if errors.Is(err, ErrQueueFull) {
			c.Close(ReasonQueueFull)
		}
		return err
	}
	return nil
}

// write sends one frame directly on the connection.
func (c *Client) write(frame []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(c.Encoding.messageType(), frame)
}

// ping sends a WebSocket ping so listen-only peers answer with a pong.
func (c *Client) ping() error {
	cw, ok := c.conn.(controlWriter)
	if !ok {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	return cw.WriteControl(websocket.PingMessage, nil, deadline)
}

func (c *Client) writeLoop() {
	var pings <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.log.Debug("stream write failed", zap.Error(err))
				c.Close(ReasonWriteFailed)
				return
			}
		case <-pings:
			if err := c.ping(); err != nil {
				c.log.Debug("stream ping failed", zap.Error(err))
				c.Close(ReasonWriteFailed)
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close moves the client to Closed and releases the connection. Only the
// first call has any effect.
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.done)
		if cw, ok := c.conn.(controlWriter); ok && reason == ReasonShutdown {
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = cw.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		}
		_ = c.conn.Close()
		c.state.Store(int32(StateClosed))
		c.log.Debug("stream client closed", zap.String("reason", reason))
		if c.onClose != nil {
			c.onClose(c, reason)
		}
	})
}
