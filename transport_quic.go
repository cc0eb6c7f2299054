package mqttc

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// QUICConn wraps one bidirectional QUIC stream as a net.Conn.
type QUICConn struct {
	conn   *quic.Conn
	stream *quic.Stream
	mu     sync.Mutex
}

func (c *QUICConn) Read(b []byte) (int, error) {
	return c.stream.Read(b)
}

func (c *QUICConn) Write(b []byte) (int, error) {
	return c.stream.Write(b)
}

// Close closes the stream and then the QUIC connection.
func (c *QUICConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.stream.Close(); err != nil {
		return err
	}
	return c.conn.CloseWithError(0, "")
}

func (c *QUICConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *QUICConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *QUICConn) SetDeadline(t time.Time) error {
	if err := c.stream.SetReadDeadline(t); err != nil {
		return err
	}
	return c.stream.SetWriteDeadline(t)
}

func (c *QUICConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

func (c *QUICConn) SetWriteDeadline(t time.Time) error {
	return c.stream.SetWriteDeadline(t)
}

// QUICDialer connects to brokers over QUIC. QUIC requires TLS 1.3.
type QUICDialer struct {
	TLSConfig  *tls.Config
	QUICConfig *quic.Config
}

// Dial connects to address ("host:port") and opens the MQTT stream.
func (d *QUICDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	tlsConfig := d.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	}
	if len(tlsConfig.NextProtos) == 0 || tlsConfig.MinVersion < tls.VersionTLS13 {
		tlsConfig = tlsConfig.Clone()
		tlsConfig.MinVersion = tls.VersionTLS13
		if len(tlsConfig.NextProtos) == 0 {
			tlsConfig.NextProtos = []string{"mqtt"}
		}
	}

	conn, err := quic.DialAddr(ctx, address, tlsConfig, d.QUICConfig)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		return nil, err
	}
	return &QUICConn{conn: conn, stream: stream}, nil
}
