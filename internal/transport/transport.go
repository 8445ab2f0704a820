// Package transport is the byte boundary of the server. It hands the
// core discrete text lines per connection and takes discrete text
// lines back; the core never sees framing, telnet negotiation bytes,
// or sockets.
package transport

import "context"

// LineConn is one connected client as the core sees it. ReadLine
// blocks until a full line arrives, the context is canceled, or the
// peer disconnects; any error from it is treated as a disconnect.
// WriteLine may carry embedded newlines (multi-line views) and appends
// the final line terminator itself.
type LineConn interface {
	ReadLine(ctx context.Context) (string, error)
	WriteLine(s string) error
	RemoteAddr() string
	Close() error
}

// Handler consumes one connection for its whole lifetime.
type Handler func(ctx context.Context, conn LineConn)
