package server

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okvee/parlor/internal/protocol"
)

// wireConn abstracts a transport capable of carrying envelopes, so the
// session controller is independent of TCP framing vs WebSocket.
type wireConn interface {
	Read(ctx context.Context) (protocol.Envelope, error)
	Write(ctx context.Context, env protocol.Envelope) error
	Close() error
	RemoteAddr() string
}

// tcpConn frames envelopes with the length-prefixed JSON codec.
type tcpConn struct {
	conn         net.Conn
	dec          *protocol.Decoder
	enc          *protocol.Encoder
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newTCPConn(conn net.Conn, readTimeout, writeTimeout time.Duration, maxFrame int) *tcpConn {
	return &tcpConn{
		conn:         conn,
		dec:          protocol.NewDecoder(conn, maxFrame),
		enc:          protocol.NewEncoder(conn),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

func (c *tcpConn) Read(ctx context.Context) (protocol.Envelope, error) {
	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return protocol.Envelope{}, err
		}
	}
	return c.dec.Decode(ctx)
}

func (c *tcpConn) Write(ctx context.Context, env protocol.Envelope) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.enc.Encode(ctx, env)
}

func (c *tcpConn) Close() error { return c.conn.Close() }

func (c *tcpConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// wsConn carries envelopes as JSON text frames over a WebSocket.
type wsConn struct {
	conn         *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newWSConn(conn *websocket.Conn, readTimeout, writeTimeout time.Duration, maxFrame int) *wsConn {
	if maxFrame > 0 {
		conn.SetReadLimit(int64(maxFrame))
	}
	return &wsConn{conn: conn, readTimeout: readTimeout, writeTimeout: writeTimeout}
}

func (c *wsConn) Read(ctx context.Context) (protocol.Envelope, error) {
	var env protocol.Envelope
	select {
	case <-ctx.Done():
		return env, ctx.Err()
	default:
	}
	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return env, err
		}
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, err
	}
	return env, nil
}

func (c *wsConn) Write(ctx context.Context, env protocol.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteJSON(env)
}

func (c *wsConn) Close() error { return c.conn.Close() }

func (c *wsConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
