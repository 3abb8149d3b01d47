package comms

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	cerrors "github.com/CodedInternet/gocrane/crane/errors"
	"github.com/gorilla/websocket"
)

const (
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultWriteTimeout     = time.Second
)

// Conn is one established duplex channel carrying text frames. ReadFrame is
// only called from one goroutine, WriteFrame and Close only from another.
// ReadFrame returns io.EOF once the remote end has closed cleanly.
type Conn interface {
	ReadFrame() (string, error)
	WriteFrame(frame string) error
	Close() error
}

// Dialer opens a Conn. Every call must produce a fresh channel.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// WSDialer connects to the remote process over a websocket.
type WSDialer struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

func NewWSDialer(url string) *WSDialer {
	return &WSDialer{
		URL:              url,
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
	}
}

func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	return &wsConn{conn: conn, writeTimeout: d.WriteTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) ReadFrame() (string, error) {
	mt, msg, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return "", io.EOF
		}
		return "", err
	}

	if mt != websocket.TextMessage {
		return "", &cerrors.DecodeError{
			Frame:  "<binary>",
			Field:  -1,
			Reason: "telemetry must be sent as text frames",
		}
	}
	return string(msg), nil
}

func (c *wsConn) WriteFrame(frame string) error {
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// Close says goodbye to the remote end before dropping the connection.
func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}
