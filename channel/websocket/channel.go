// Package websocket carries the frame protocol over a gorilla websocket
// connection. Each socket serves exactly one widget connection.
package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/lumeoai/widget-sdk-go/channel"
	"github.com/lumeoai/widget-sdk-go/protocol"
)

const defaultWriteTimeout = 10 * time.Second

var _ channel.Channel = (*Channel)(nil)

// Channel wraps one websocket connection. Writes are serialized; the
// connection manager's pump is the only reader.
type Channel struct {
	conn   *gws.Conn
	origin string

	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

type Option func(*Channel)

func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Channel) {
		if timeout > 0 {
			c.writeTimeout = timeout
		}
	}
}

// New wraps an upgraded websocket connection bound to the given parent
// origin. The caller has already validated the origin.
func New(conn *gws.Conn, origin string, opts ...Option) (*Channel, error) {
	if conn == nil {
		return nil, errors.New("websocket connection is required")
	}
	if origin == "" {
		return nil, errors.New("origin is required")
	}

	c := &Channel{
		conn:         conn,
		origin:       origin,
		writeTimeout: defaultWriteTimeout,
		closed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Channel) Send(ctx context.Context, frame protocol.Frame) error {
	select {
	case <-c.closed:
		return channel.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		return c.translate(err)
	}
	return nil
}

// Receive blocks on the socket until a frame arrives. A context
// deadline, when present, bounds the read.
func (c *Channel) Receive(ctx context.Context) (protocol.Frame, error) {
	select {
	case <-c.closed:
		return protocol.Frame{}, channel.ErrClosed
	case <-ctx.Done():
		return protocol.Frame{}, ctx.Err()
	default:
	}

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return protocol.Frame{}, err
	}

	var frame protocol.Frame
	if err := c.conn.ReadJSON(&frame); err != nil {
		return protocol.Frame{}, c.translate(err)
	}
	return frame, nil
}

func (c *Channel) Origin() string { return c.origin }

func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		message := gws.FormatCloseMessage(gws.CloseNormalClosure, "")
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(gws.CloseMessage, message)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// translate folds the socket's own close errors into ErrClosed so
// callers see one teardown signal regardless of transport.
func (c *Channel) translate(err error) error {
	select {
	case <-c.closed:
		return channel.ErrClosed
	default:
	}
	if gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway, gws.CloseNoStatusReceived) {
		return channel.ErrClosed
	}
	return err
}
