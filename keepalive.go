package mqttc

import (
	"context"
	"log"
	"net"
	"time"

	"github.com/golang-io/mqttc/packet"
)

// keepalive writes a PINGREQ every interval while conn is the connected stream.
// The PINGRESP is not awaited; a dead link surfaces as a read error in serve.
func (c *Client) keepalive(ctx context.Context, conn net.Conn, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		c.mu.Lock()
		alive := c.state == StateConnected && c.conn == conn
		version, clientID := c.version, c.id
		c.mu.Unlock()
		if !alive {
			return nil
		}
		if err := c.write(ctx, conn, &packet.PINGREQ{FixedHeader: &packet.FixedHeader{Version: version, Kind: PINGREQ}}); err != nil {
			log.Printf("client keepalive stopped: client_id=%s, error=%v", clientID, err)
			return nil
		}
	}
}
