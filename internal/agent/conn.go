package agent

import (
	"context"

	"nhooyr.io/websocket"
)

// Conn is one bidirectional relay connection.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens relay connections. Injected so tests can run without sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// NewWebsocketDialer returns the production dialer.
func NewWebsocketDialer() Dialer {
	return websocketDialer{}
}

type websocketDialer struct{}

func (websocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &websocketConn{conn: conn}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

func (c *websocketConn) Send(ctx context.Context, frame []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

func (c *websocketConn) Receive(ctx context.Context) ([]byte, error) {
	_, frame, err := c.conn.Read(ctx)
	return frame, err
}

func (c *websocketConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
