package mqttc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"

	"github.com/golang-io/mqttc/packet"
)

// serve is the only reader of conn. It exits when conn is no longer the
// client's stream, when ctx is cancelled, or on the first fatal error.
func (c *Client) serve(ctx context.Context, conn net.Conn) error {
	for {
		c.mu.Lock()
		current, reader, version, clientID := c.conn, c.reader, c.version, c.id
		c.mu.Unlock()
		if current != conn || reader == nil {
			return nil
		}

		pkt, err := packet.Unpack(version, reader)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
				err = fmt.Errorf("%w: %v", ErrStreamClosed, err)
			}
			log.Printf("client read failed: client_id=%s, error=%v", clientID, err)
			c.fail(conn, StateDisconnected, err)
			return err
		}
		stat.PacketReceived.Inc()

		if err := c.dispatch(ctx, conn, version, pkt); err != nil {
			var server *ServerDisconnectError
			if errors.As(err, &server) {
				state := StateDisconnected
				if server.Code.Code >= 0x80 {
					state = StateError
				}
				log.Printf("client disconnected by server: client_id=%s, reason_code=0x%02X, reason=%s", clientID, server.Code.Code, server.Reason)
				c.teardown(conn, state, err)
				return err
			}
			log.Printf("client dispatch failed: client_id=%s, kind=%s, error=%v", clientID, packet.Kind[pkt.Kind()], err)
			c.fail(conn, StateDisconnected, err)
			return err
		}
	}
}

func (c *Client) fail(conn net.Conn, state State, cause error) {
	stat.LoopFailures.Inc()
	c.teardown(conn, state, cause)
}

// teardown ends the connection from the dispatch side. Nothing happens
// when conn was already released by Disconnect.
func (c *Client) teardown(conn net.Conn, state State, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	cancel, clientID := c.cancel, c.id
	c.pending.failAll(cause)
	c.reset()
	c.state, c.err = state, cause
	c.mu.Unlock()

	stat.ActiveConnections.Dec()
	cancel()
	if err := conn.Close(); err != nil {
		log.Printf("client close failed: client_id=%s, error=%v", clientID, err)
	}
}

func (c *Client) dispatch(ctx context.Context, conn net.Conn, version byte, pkt packet.Packet) error {
	switch pkt := pkt.(type) {
	case *packet.PUBLISH:
		return c.deliver(ctx, conn, version, pkt)
	case *packet.SUBACK:
		c.complete(uint32(pkt.PacketID), pkt)
	case *packet.UNSUBACK:
		c.complete(uint32(pkt.PacketID), pkt)
	case *packet.PINGRESP:
		c.complete(pingKey, pkt)
	case *packet.PINGREQ:
		return c.write(ctx, conn, &packet.PINGRESP{FixedHeader: &packet.FixedHeader{Version: version, Kind: PINGRESP}})
	case *packet.PUBREL:
		c.mu.Lock()
		inFight := c.inFight
		c.mu.Unlock()
		pubcomp := &packet.PUBCOMP{FixedHeader: &packet.FixedHeader{Version: version, Kind: PUBCOMP}, PacketID: pkt.PacketID}
		if !inFight.Release(pkt.PacketID) && version == packet.VERSION500 {
			pubcomp.ReasonCode = packet.ErrPacketIdentifierNotFound
		}
		return c.write(ctx, conn, pubcomp)
	case *packet.PUBREC:
		// 服务端收到了 QoS 2 消息, 释放它以结束服务端的状态
		if pkt.ReasonCode.IsError() {
			log.Printf("client publish refused: packet_id=%d, reason_code=0x%02X", pkt.PacketID, pkt.ReasonCode.Code)
			return nil
		}
		return c.write(ctx, conn, &packet.PUBREL{FixedHeader: &packet.FixedHeader{Version: version, Kind: PUBREL, QoS: 1}, PacketID: pkt.PacketID})
	case *packet.PUBACK:
		if pkt.ReasonCode.IsError() {
			log.Printf("client publish refused: packet_id=%d, reason_code=0x%02X", pkt.PacketID, pkt.ReasonCode.Code)
		}
	case *packet.PUBCOMP:
	case *packet.DISCONNECT:
		reason, _ := pkt.Props.GetString(packet.PropReasonString)
		return &ServerDisconnectError{Code: pkt.ReasonCode, Reason: reason}
	case *packet.AUTH:
		disconnect := &packet.DISCONNECT{
			FixedHeader: &packet.FixedHeader{Version: version, Kind: DISCONNECT},
			ReasonCode:  packet.ErrBadAuthenticationMethod,
		}
		if err := c.write(ctx, conn, disconnect); err != nil {
			log.Printf("client disconnect packet send failed: error=%v", err)
		}
		return ErrAuthenticationUnsupported
	default:
		return fmt.Errorf("%w: unexpected %s", packet.ErrProtocolErr, packet.Kind[pkt.Kind()])
	}
	return nil
}

// complete settles a pending request. A stale or duplicate acknowledgment is ignored.
func (c *Client) complete(key uint32, pkt packet.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.complete(key, pkt)
}

// deliver resolves the topic alias, runs the callbacks and acknowledges by QoS.
func (c *Client) deliver(ctx context.Context, conn net.Conn, version byte, pub *packet.PUBLISH) error {
	msg := pub.Message

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return nil
	}
	if version == packet.VERSION500 {
		if alias, ok := msg.Props.GetUint16(packet.PropTopicAlias); ok {
			if err := c.resolveAlias(alias, msg); err != nil {
				c.mu.Unlock()
				disconnect := &packet.DISCONNECT{
					FixedHeader: &packet.FixedHeader{Version: version, Kind: DISCONNECT},
					ReasonCode:  packet.ErrTopicAliasInvalid,
				}
				if e := c.write(ctx, conn, disconnect); e != nil {
					log.Printf("client disconnect packet send failed: error=%v", e)
				}
				return err
			}
		}
	}
	if msg.TopicName == "" {
		c.mu.Unlock()
		return packet.ErrProtocolViolationNoTopic
	}
	inFight := c.inFight
	handlers := c.subs.Match(msg.TopicName)
	onMessage := c.onMessage
	c.mu.Unlock()

	// QoS 2 的重发只确认不重复投递
	if pub.QoS != 2 || inFight.Put(pub.PacketID) {
		stat.MessageReceived.Inc()
		for _, handler := range handlers {
			handler(msg)
		}
		if onMessage != nil {
			onMessage(msg)
		}
	}

	switch pub.QoS {
	case 1:
		return c.write(ctx, conn, &packet.PUBACK{FixedHeader: &packet.FixedHeader{Version: version, Kind: PUBACK}, PacketID: pub.PacketID})
	case 2:
		return c.write(ctx, conn, &packet.PUBREC{FixedHeader: &packet.FixedHeader{Version: version, Kind: PUBREC}, PacketID: pub.PacketID})
	}
	return nil
}

// resolveAlias maps an empty topic through the alias table, or binds the
// alias to the topic carried by the message. It is called with c.mu held.
func (c *Client) resolveAlias(alias uint16, msg *packet.Message) error {
	if alias == 0 {
		return packet.ErrTopicAliasInvalid
	}
	if msg.TopicName != "" {
		c.aliases[alias] = msg.TopicName
		return nil
	}
	name, ok := c.aliases[alias]
	if !ok {
		return packet.ErrTopicAliasInvalid
	}
	msg.TopicName = name
	return nil
}
