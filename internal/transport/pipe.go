package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrPipeClosed is returned once either end of a Pipe is closed.
var ErrPipeClosed = errors.New("pipe closed")

// Pipe returns an in-process LineConn pair: lines written to one end
// are read from the other. It exists for tests and for wiring bots
// into the server without a socket.
func Pipe() (LineConn, LineConn) {
	ab := make(chan string, 64)
	ba := make(chan string, 64)
	done := make(chan struct{})
	var once sync.Once
	closeFn := func() { once.Do(func() { close(done) }) }
	a := &pipeConn{in: ba, out: ab, done: done, close: closeFn, name: "pipe-a"}
	b := &pipeConn{in: ab, out: ba, done: done, close: closeFn, name: "pipe-b"}
	return a, b
}

type pipeConn struct {
	in    <-chan string
	out   chan<- string
	done  chan struct{}
	close func()
	name  string
}

func (c *pipeConn) ReadLine(ctx context.Context) (string, error) {
	select {
	case s := <-c.in:
		return s, nil
	case <-c.done:
		return "", ErrPipeClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *pipeConn) WriteLine(s string) error {
	// Checked first: the buffered send below could otherwise win the
	// select against an already-closed pipe.
	select {
	case <-c.done:
		return ErrPipeClosed
	default:
	}
	select {
	case c.out <- s:
		return nil
	case <-c.done:
		return ErrPipeClosed
	}
}

func (c *pipeConn) RemoteAddr() string { return c.name }

func (c *pipeConn) Close() error {
	c.close()
	return nil
}
