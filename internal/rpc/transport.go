package rpc

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a transport after either side closed it
var ErrClosed = errors.New("rpc: transport closed")

// Transport moves whole frames between a client and a worker.
// Send and Receive may be called from different goroutines; each must not be
// called concurrently with itself. Client and Worker serialize their own sends.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Compile-time check: pipe ends implement Transport.
var _ Transport = (*pipeEnd)(nil)

// pipeShared is the state both ends of a pipe observe
type pipeShared struct {
	done chan struct{}
	once sync.Once
}

func (s *pipeShared) close() {
	s.once.Do(func() { close(s.done) })
}

type pipeEnd struct {
	in     <-chan []byte
	out    chan<- []byte
	shared *pipeShared
}

// NewPipe returns two connected in-process transports. Closing either end
// closes both; frames already queued are dropped.
func NewPipe() (Transport, Transport) {
	const buffer = 16
	a := make(chan []byte, buffer)
	b := make(chan []byte, buffer)
	shared := &pipeShared{done: make(chan struct{})}
	return &pipeEnd{in: a, out: b, shared: shared}, &pipeEnd{in: b, out: a, shared: shared}
}

func (p *pipeEnd) Send(ctx context.Context, frame []byte) error {
	// Check closure first so a closed pipe never accepts a buffered frame
	select {
	case <-p.shared.done:
		return ErrClosed
	default:
	}

	buf := make([]byte, len(frame))
	copy(buf, frame)

	select {
	case p.out <- buf:
		return nil
	case <-p.shared.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.shared.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.shared.close()
	return nil
}
