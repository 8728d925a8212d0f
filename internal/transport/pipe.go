package transport

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport: closed")

// PipeEnd is one end of an in-memory frame pipe.
type PipeEnd struct {
	in   <-chan []byte
	out  chan<- []byte
	self *pipeState
	peer *pipeState
}

type pipeState struct {
	done chan struct{}
	once sync.Once
}

func (s *pipeState) close() {
	s.once.Do(func() { close(s.done) })
}

// Pipe returns two connected ends. Frames written to one are read from the
// other in order.
func Pipe() (*PipeEnd, *PipeEnd) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	sa := &pipeState{done: make(chan struct{})}
	sb := &pipeState{done: make(chan struct{})}
	return &PipeEnd{in: ba, out: ab, self: sa, peer: sb},
		&PipeEnd{in: ab, out: ba, self: sb, peer: sa}
}

// ReadFrame returns the next frame, io.EOF once the peer has closed, or
// ErrClosed once this end has.
func (p *PipeEnd) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.self.done:
		return nil, ErrClosed
	case <-p.peer.done:
		// drain frames written before the peer closed
		select {
		case frame := <-p.in:
			return frame, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteFrame sends a copy of data to the peer.
func (p *PipeEnd) WriteFrame(ctx context.Context, data []byte) error {
	frame := append([]byte(nil), data...)
	select {
	case <-p.self.done:
		return ErrClosed
	case <-p.peer.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case p.out <- frame:
		return nil
	case <-p.self.done:
		return ErrClosed
	case <-p.peer.done:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes this end. The peer reads io.EOF after draining.
func (p *PipeEnd) Close() error {
	p.self.close()
	return nil
}
