package transport

import (
	"bufio"
	"context"
	"net"
	"strings"

	"go.uber.org/zap"
)

// Telnet command bytes. The server does no option negotiation; it only
// strips command sequences a telnet client may interleave with text.
const (
	telnetSE   = 240
	telnetSB   = 250
	telnetWill = 251
	telnetDont = 254
	telnetIAC  = 255
)

// TelnetServer accepts plain TCP connections and serves each as a
// LineConn, one goroutine per connection.
type TelnetServer struct {
	addr    string
	handler Handler
	log     *zap.Logger
}

func NewTelnetServer(addr string, handler Handler, log *zap.Logger) *TelnetServer {
	return &TelnetServer{addr: addr, handler: handler, log: log.Named("telnet")}
}

// ListenAndServe blocks until the context is canceled or the listener
// fails.
func (s *TelnetServer) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	s.log.Info("listening", zap.String("addr", s.addr))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.log.Info("client connected", zap.String("addr", conn.RemoteAddr().String()))
		go func() {
			// Unblock pending reads when the server goes down.
			stop := context.AfterFunc(ctx, func() { conn.Close() })
			defer stop()
			defer conn.Close()
			s.handler(ctx, newTelnetConn(conn))
		}()
	}
}

type telnetConn struct {
	conn net.Conn
	r    *bufio.Reader
}

func newTelnetConn(conn net.Conn) *telnetConn {
	return &telnetConn{conn: conn, r: bufio.NewReader(conn)}
}

// ReadLine reads up to the next LF, stripping CRs and telnet IAC
// command sequences. Cancellation is delivered by closing the
// underlying connection, which fails the pending read.
func (c *telnetConn) ReadLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var b strings.Builder
	for {
		ch, err := c.r.ReadByte()
		if err != nil {
			return "", err
		}
		switch ch {
		case '\n':
			return b.String(), nil
		case '\r', 0:
		case telnetIAC:
			if err := c.skipCommand(); err != nil {
				return "", err
			}
		default:
			b.WriteByte(ch)
		}
	}
}

// skipCommand consumes the remainder of an IAC sequence.
func (c *telnetConn) skipCommand() error {
	cmd, err := c.r.ReadByte()
	if err != nil {
		return err
	}
	switch {
	case cmd >= telnetWill && cmd <= telnetDont:
		_, err = c.r.ReadByte() // option byte
		return err
	case cmd == telnetSB:
		for {
			ch, err := c.r.ReadByte()
			if err != nil {
				return err
			}
			if ch == telnetIAC {
				next, err := c.r.ReadByte()
				if err != nil {
					return err
				}
				if next == telnetSE {
					return nil
				}
			}
		}
	default:
		return nil
	}
}

func (c *telnetConn) WriteLine(s string) error {
	s = strings.TrimRight(s, "\n")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	_, err := c.conn.Write([]byte(s + "\r\n"))
	return err
}

func (c *telnetConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *telnetConn) Close() error { return c.conn.Close() }
