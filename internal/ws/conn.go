package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/rpc"
)

const (
	writeWait      = 10 * time.Second
	maxFrameBytes  = 8 << 20
	handshakeLimit = 10 * time.Second
)

// Compile-time check: Conn implements rpc.Transport.
var _ rpc.Transport = (*Conn)(nil)

// Conn adapts a WebSocket connection to rpc.Transport. Each frame is one
// text message.
type Conn struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps an established connection
func NewConn(conn *websocket.Conn) *Conn {
	conn.SetReadLimit(maxFrameBytes)
	return &Conn{conn: conn, closed: make(chan struct{})}
}

// Dial connects to a worker endpoint such as ws://host:port/worker
func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeLimit}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewConn(conn), nil
}

// Send writes one frame
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return rpc.ErrClosed
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return c.translate(err)
	}
	return c.translate(c.conn.WriteMessage(websocket.TextMessage, frame))
}

// Receive blocks for the next frame. Cancelling ctx closes the connection,
// since a WebSocket read cannot be abandoned midway.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, c.translate(err)
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close sends a close frame and releases the connection
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// translate maps normal closure to rpc.ErrClosed
func (c *Conn) translate(err error) error {
	if err == nil {
		return nil
	}
	select {
	case <-c.closed:
		return rpc.ErrClosed
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, websocket.ErrCloseSent) {
		return rpc.ErrClosed
	}
	return err
}
