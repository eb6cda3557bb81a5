// Package channel abstracts the transport a connection speaks over so
// the protocol layer can be exercised without a real socket. An
// in-memory pair backs tests; channel/websocket carries production
// traffic.
package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/lumeoai/widget-sdk-go/protocol"
)

// ErrClosed is returned for any operation on a closed channel.
var ErrClosed = errors.New("channel: closed")

// Channel is one bidirectional frame transport bound to a single
// remote origin.
type Channel interface {
	// Send posts a frame to the remote end.
	Send(ctx context.Context, frame protocol.Frame) error
	// Receive blocks until a frame arrives, the context is done, or
	// the channel closes.
	Receive(ctx context.Context) (protocol.Frame, error)
	// Origin reports the remote origin this channel is bound to.
	Origin() string
	Close() error
}

const pairBuffer = 16

var _ Channel = (*Pipe)(nil)

// Pipe is one end of an in-memory channel pair.
type Pipe struct {
	origin string
	in     chan protocol.Frame
	out    chan protocol.Frame

	done      chan struct{}
	closeOnce *sync.Once
}

// NewPair returns two linked in-memory ends. Frames sent on one end are
// received on the other. Both ends report the same origin and closing
// either end closes both.
func NewPair(origin string) (*Pipe, *Pipe) {
	ab := make(chan protocol.Frame, pairBuffer)
	ba := make(chan protocol.Frame, pairBuffer)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &Pipe{origin: origin, in: ba, out: ab, done: done, closeOnce: once}
	b := &Pipe{origin: origin, in: ab, out: ba, done: done, closeOnce: once}
	return a, b
}

func (p *Pipe) Send(ctx context.Context, frame protocol.Frame) error {
	select {
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.out <- frame:
		return nil
	}
}

func (p *Pipe) Receive(ctx context.Context) (protocol.Frame, error) {
	// Drain frames already queued even after close, so nothing sent
	// before teardown is lost.
	select {
	case frame := <-p.in:
		return frame, nil
	default:
	}
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.done:
		return protocol.Frame{}, ErrClosed
	case <-ctx.Done():
		return protocol.Frame{}, ctx.Err()
	}
}

func (p *Pipe) Origin() string { return p.origin }

func (p *Pipe) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
