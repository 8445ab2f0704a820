package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// WSHandler adapts a websocket endpoint onto the same LineConn
// boundary as telnet: every text message is one line in either
// direction, so a browser client speaks the identical protocol.
func WSHandler(handler Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		handler(r.Context(), &wsConn{conn: conn, remote: r.RemoteAddr})
	}
}

type wsConn struct {
	conn   *websocket.Conn
	remote string
}

func (c *wsConn) ReadLine(ctx context.Context) (string, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *wsConn) WriteLine(s string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, []byte(s))
}

func (c *wsConn) RemoteAddr() string { return c.remote }

func (c *wsConn) Close() error { return c.conn.Close(websocket.StatusNormalClosure, "bye") }
