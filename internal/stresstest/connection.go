package stresstest

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/studiowebux/surge/internal/httpframe"
	"github.com/studiowebux/surge/internal/types"
)

// Connection is one persistent TCP connection owned by a single worker
type Connection struct {
	conn   net.Conn
	framer *httpframe.Framer
	served int
	header []byte
}

// dialConnection opens and tunes a new connection
func dialConnection(ctx context.Context, cfg *Config) (*Connection, error) {
	dialer := net.Dialer{Timeout: cfg.GetConnectTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, err
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set TCP_NODELAY: %w", err)
		}
		if size := cfg.GetSocketBuffer(); size > 0 {
			// Kernels may clamp these; a smaller buffer is not an error
			_ = tcp.SetReadBuffer(size)
			_ = tcp.SetWriteBuffer(size / 4)
		}
	}

	return &Connection{
		conn:   conn,
		framer: httpframe.NewFramer(conn, cfg.GetChunkSize()),
		header: make([]byte, 0, 256),
	}, nil
}

// Send writes the whole request under a write deadline and returns the
// number of bytes written, which may be non-zero on error.
func (c *Connection) Send(task types.Task, host string, keepAlive bool, timeout time.Duration) (int64, error) {
	c.header = httpframe.AppendRequestHeader(c.header[:0], host, task, keepAlive)

	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return 0, fmt.Errorf("failed to set write deadline: %w", err)
	}

	bufs := net.Buffers{c.header}
	if len(task.Body) > 0 {
		bufs = append(bufs, task.Body)
	}
	n, err := bufs.WriteTo(c.conn)
	if err != nil {
		return n, fmt.Errorf("failed to send request: %w", err)
	}
	return n, nil
}

// Receive frames the next response under a read deadline
func (c *Connection) Receive(timeout time.Duration) (httpframe.Response, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return httpframe.Response{}, fmt.Errorf("failed to set read deadline: %w", err)
	}
	return c.framer.Next()
}

// Served returns the number of responses received on this connection
func (c *Connection) Served() int {
	return c.served
}

// Close closes the socket, ignoring errors
func (c *Connection) Close() {
	_ = c.conn.Close()
}
