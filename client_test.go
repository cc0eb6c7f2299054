package mqttc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/golang-io/mqttc/packet"
	"github.com/golang-io/mqttc/topic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// broker is the server end of a net.Pipe, scripted by the test goroutine.
type broker struct {
	t       *testing.T
	conn    net.Conn
	version byte
}

// pipes returns a dial option handing out one net.Pipe per dial, and the broker end of each.
func pipes(t *testing.T, n int) (Option, []*broker) {
	t.Helper()
	clients := make(chan net.Conn, n)
	brokers := make([]*broker, 0, n)
	for i := 0; i < n; i++ {
		server, client := net.Pipe()
		t.Cleanup(func() {
			server.Close()
			client.Close()
		})
		clients <- client
		brokers = append(brokers, &broker{t: t, conn: server, version: packet.VERSION500})
	}
	dial := DialContext(func(ctx context.Context, network, addr string) (net.Conn, error) {
		select {
		case conn := <-clients:
			return conn, nil
		default:
			return nil, errors.New("no more pipes")
		}
	})
	return dial, brokers
}

func newPipe(t *testing.T, opts ...Option) (*Client, *broker) {
	t.Helper()
	dial, brokers := pipes(t, 1)
	opts = append([]Option{
		URL("mqtt://broker.test:1883"),
		ClientID("test-client"),
		ConnectTimeout(2 * time.Second),
		RequestTimeout(2 * time.Second),
		dial,
	}, opts...)
	return New(opts...), brokers[0]
}

func (b *broker) read() packet.Packet {
	b.t.Helper()
	require.NoError(b.t, b.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	pkt, err := packet.Unpack(b.version, b.conn)
	require.NoError(b.t, err)
	return pkt
}

func (b *broker) readRaw(n int) []byte {
	b.t.Helper()
	require.NoError(b.t, b.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, n)
	_, err := io.ReadFull(b.conn, buf)
	require.NoError(b.t, err)
	return buf
}

func (b *broker) write(pkt packet.Packet) {
	b.t.Helper()
	require.NoError(b.t, b.conn.SetWriteDeadline(time.Now().Add(3*time.Second)))
	require.NoError(b.t, pkt.Pack(b.conn))
}

func (b *broker) header(kind byte) *packet.FixedHeader {
	return &packet.FixedHeader{Version: b.version, Kind: kind}
}

// accept completes the handshake of c with a successful CONNACK carrying props.
func (b *broker) accept(c *Client, props packet.Properties) *packet.CONNECT {
	b.t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- c.Connect(context.Background()) }()
	connect, ok := b.read().(*packet.CONNECT)
	require.True(b.t, ok)
	b.version = connect.Version
	b.write(&packet.CONNACK{FixedHeader: b.header(CONNACK), ReasonCode: packet.CodeSuccess, Props: props})
	require.NoError(b.t, <-errc)
	return connect
}

func (b *broker) subscribe(c *Client, filter string, qos uint8, handler MessageHandler) {
	b.t.Helper()
	errc := make(chan error, 1)
	go func() {
		errc <- c.Subscribe(context.Background(), packet.Subscription{TopicFilter: filter, MaximumQoS: qos}, handler)
	}()
	sub, ok := b.read().(*packet.SUBSCRIBE)
	require.True(b.t, ok)
	require.Len(b.t, sub.Subscriptions, 1)
	assert.Equal(b.t, filter, sub.Subscriptions[0].TopicFilter)
	b.write(&packet.SUBACK{FixedHeader: b.header(SUBACK), PacketID: sub.PacketID, ReasonCode: []packet.ReasonCode{packet.Reason(SUBACK, b.version, qos)}})
	require.NoError(b.t, <-errc)
}

// disconnect runs c.Disconnect and returns the DISCONNECT the broker received.
func (b *broker) disconnect(c *Client) *packet.DISCONNECT {
	b.t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- c.Disconnect(context.Background()) }()
	pkt, ok := b.read().(*packet.DISCONNECT)
	require.True(b.t, ok)
	require.NoError(b.t, <-errc)
	return pkt
}

func TestNewClient(t *testing.T) {
	c := New(URL("mqtt://localhost:1883"))
	assert.Equal(t, StateDisconnected, c.State())
	assert.NotEmpty(t, c.ID())
	assert.Equal(t, VersionAuto, c.Version())
	assert.NoError(t, c.Err())
}

func TestNotConnected(t *testing.T) {
	c := New()
	ctx := context.Background()
	assert.ErrorIs(t, c.Publish(ctx, &packet.Message{TopicName: "a/b"}), ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe(ctx, packet.Subscription{TopicFilter: "a/b"}, nil), ErrNotConnected)
	assert.ErrorIs(t, c.Unsubscribe(ctx, "a/b"), ErrNotConnected)
	assert.ErrorIs(t, c.Ping(ctx), ErrNotConnected)
	assert.NoError(t, c.Disconnect(ctx))
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnectServerKeepAlive(t *testing.T) {
	c, b := newPipe(t, KeepAlive(120), SessionExpiry(300), Credentials("user", "pass"))
	connect := b.accept(c, packet.Properties{
		packet.PropServerKeepAlive:          packet.Uint16Value(30),
		packet.PropAssignedClientIdentifier: packet.StringValue("assigned-1"),
	})

	assert.Equal(t, packet.VERSION500, connect.Version)
	assert.Equal(t, uint16(120), connect.KeepAlive)
	assert.Equal(t, "test-client", connect.ClientID)
	assert.True(t, connect.CleanStart)
	assert.Equal(t, "user", connect.Username)
	assert.Equal(t, "pass", connect.Password)
	expiry, ok := connect.Props.GetUint32(packet.PropSessionExpiryInterval)
	assert.True(t, ok)
	assert.Equal(t, uint32(300), expiry)

	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, uint16(30), c.KeepAlive())
	assert.Equal(t, "assigned-1", c.ID())
	assert.Equal(t, packet.VERSION500, c.Version())
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)

	disconnect := b.disconnect(c)
	assert.Equal(t, uint8(0x00), disconnect.ReasonCode.Code)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, "test-client", c.ID())
}

func TestConnectRefused(t *testing.T) {
	c, b := newPipe(t, Version(packet.VERSION500))
	errc := make(chan error, 1)
	go func() { errc <- c.Connect(context.Background()) }()

	_, ok := b.read().(*packet.CONNECT)
	require.True(t, ok)
	b.write(&packet.CONNACK{FixedHeader: b.header(CONNACK), ReasonCode: packet.ErrNotAuthorized})

	err := <-errc
	var refused *ConnectionRefusedError
	require.ErrorAs(t, err, &refused)
	assert.Equal(t, uint8(0x87), refused.Code.Code)
	assert.ErrorIs(t, err, packet.ErrNotAuthorized)
	assert.Equal(t, StateError, c.State())
	assert.Equal(t, err, c.Err())
}

func TestConnectAlreadyConnecting(t *testing.T) {
	c, b := newPipe(t)
	errc := make(chan error, 1)
	go func() { errc <- c.Connect(context.Background()) }()

	_, ok := b.read().(*packet.CONNECT)
	require.True(t, ok)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnecting)

	b.write(&packet.CONNACK{FixedHeader: b.header(CONNACK)})
	require.NoError(t, <-errc)
	b.disconnect(c)
}

func TestConnectAuthUnsupported(t *testing.T) {
	c, b := newPipe(t)
	errc := make(chan error, 1)
	go func() { errc <- c.Connect(context.Background()) }()

	_, ok := b.read().(*packet.CONNECT)
	require.True(t, ok)
	b.write(&packet.AUTH{FixedHeader: b.header(AUTH), ReasonCode: packet.CodeContinueAuthentication})

	disconnect, ok := b.read().(*packet.DISCONNECT)
	require.True(t, ok)
	assert.Equal(t, uint8(0x8C), disconnect.ReasonCode.Code)

	assert.ErrorIs(t, <-errc, ErrAuthenticationUnsupported)
	assert.Equal(t, StateError, c.State())

	// 连接已被客户端关闭
	_, err := b.conn.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestConnectServerDisconnectBeforeConnack(t *testing.T) {
	c, b := newPipe(t)
	errc := make(chan error, 1)
	go func() { errc <- c.Connect(context.Background()) }()

	_, ok := b.read().(*packet.CONNECT)
	require.True(t, ok)
	b.write(&packet.DISCONNECT{
		FixedHeader: b.header(DISCONNECT),
		ReasonCode:  packet.ErrBanned,
		Props:       packet.Properties{packet.PropReasonString: packet.StringValue("go away")},
	})

	var server *ServerDisconnectError
	require.ErrorAs(t, <-errc, &server)
	assert.Equal(t, uint8(0x8A), server.Code.Code)
	assert.Equal(t, "go away", server.Reason)
	assert.Equal(t, StateError, c.State())
}

func TestConnectSkipsPacketsBeforeConnack(t *testing.T) {
	c, b := newPipe(t)
	errc := make(chan error, 1)
	go func() { errc <- c.Connect(context.Background()) }()

	_, ok := b.read().(*packet.CONNECT)
	require.True(t, ok)
	b.write(&packet.PINGRESP{FixedHeader: b.header(PINGRESP)})
	b.write(&packet.CONNACK{FixedHeader: b.header(CONNACK)})
	require.NoError(t, <-errc)
	b.disconnect(c)
}

func TestConnectV3UnexpectedPacket(t *testing.T) {
	c, b := newPipe(t, Version("3.1.1"))
	b.version = packet.VERSION311
	errc := make(chan error, 1)
	go func() { errc <- c.Connect(context.Background()) }()

	connect, ok := b.read().(*packet.CONNECT)
	require.True(t, ok)
	assert.Equal(t, packet.VERSION311, connect.Version)
	b.write(&packet.PINGRESP{FixedHeader: b.header(PINGRESP)})

	var unexpected *UnexpectedPacketError
	require.ErrorAs(t, <-errc, &unexpected)
	assert.Equal(t, PINGRESP, unexpected.Kind)
	assert.Equal(t, CONNACK, unexpected.Want)
	assert.Equal(t, StateError, c.State())
}

func TestConnectTimeout(t *testing.T) {
	c, b := newPipe(t, ConnectTimeout(100*time.Millisecond))
	errc := make(chan error, 1)
	go func() { errc <- c.Connect(context.Background()) }()

	_, ok := b.read().(*packet.CONNECT)
	require.True(t, ok)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not time out")
	}
	assert.Equal(t, StateError, c.State())
}

func TestConnectAutoFallback(t *testing.T) {
	dial, brokers := pipes(t, 2)
	c := New(URL("mqtt://broker.test"), ClientID("test-client"), ConnectTimeout(2*time.Second), dial)
	errc := make(chan error, 1)
	go func() { errc <- c.Connect(context.Background()) }()

	first := brokers[0]
	connect, ok := first.read().(*packet.CONNECT)
	require.True(t, ok)
	assert.Equal(t, packet.VERSION500, connect.Version)
	// 只支持3.1.1的服务端: 返回码 0x01, 没有属性块
	_, err := first.conn.Write([]byte{0x20, 0x02, 0x00, 0x01})
	require.NoError(t, err)

	second := brokers[1]
	connect, ok = second.read().(*packet.CONNECT)
	require.True(t, ok)
	assert.Equal(t, packet.VERSION311, connect.Version)
	second.version = packet.VERSION311
	second.write(&packet.CONNACK{FixedHeader: second.header(CONNACK)})

	require.NoError(t, <-errc)
	assert.Equal(t, packet.VERSION311, c.Version())

	disconnect := second.disconnect(c)
	assert.Equal(t, uint8(0x00), disconnect.ReasonCode.Code)
}

// TestEndToEnd Auto 版本连接, 订阅, 发布, 断开
func TestEndToEnd(t *testing.T) {
	c, b := newPipe(t)
	b.accept(c, nil)
	assert.Equal(t, StateConnected, c.State())

	b.subscribe(c, "a/b", 1, nil)

	errc := make(chan error, 1)
	go func() {
		errc <- c.Publish(context.Background(), &packet.Message{TopicName: "a/b", Content: []byte("hi")})
	}()
	want := []byte{0x30, 0x08, 0x00, 0x03, 'a', '/', 'b', 0x00, 'h', 'i'}
	assert.Equal(t, want, b.readRaw(len(want)))
	require.NoError(t, <-errc)

	go func() { errc <- c.Disconnect(context.Background()) }()
	assert.Equal(t, []byte{0xE0, 0x02, 0x00, 0x00}, b.readRaw(4))
	require.NoError(t, <-errc)
	assert.Equal(t, StateDisconnected, c.State())

	_, err := b.conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestPublishPacketIDs(t *testing.T) {
	c, b := newPipe(t)
	b.accept(c, nil)

	for _, want := range []uint16{1, 2} {
		errc := make(chan error, 1)
		go func() {
			errc <- c.Publish(context.Background(), &packet.Message{TopicName: "a/b", QoS: 1, Content: []byte("x")})
		}()
		pub, ok := b.read().(*packet.PUBLISH)
		require.True(t, ok)
		assert.Equal(t, want, pub.PacketID)
		assert.Equal(t, uint8(1), pub.QoS)
		require.NoError(t, <-errc)
		// PUBACK 只记录日志
		b.write(&packet.PUBACK{FixedHeader: b.header(PUBACK), PacketID: pub.PacketID})
	}

	assert.ErrorIs(t, c.Publish(context.Background(), &packet.Message{TopicName: "a/+"}), packet.ErrTopicNameInvalid)
	assert.ErrorIs(t, c.Publish(context.Background(), &packet.Message{TopicName: "a/b", QoS: 3}), packet.ErrProtocolViolationQosOutOfRange)
	assert.ErrorIs(t, c.Publish(context.Background(), &packet.Message{}), packet.ErrProtocolViolationNoTopic)
	b.disconnect(c)
}

func TestOutboundQoS2Release(t *testing.T) {
	c, b := newPipe(t)
	b.accept(c, nil)

	errc := make(chan error, 1)
	go func() {
		errc <- c.Publish(context.Background(), &packet.Message{TopicName: "a/b", QoS: 2})
	}()
	pub, ok := b.read().(*packet.PUBLISH)
	require.True(t, ok)
	require.NoError(t, <-errc)

	b.write(&packet.PUBREC{FixedHeader: b.header(PUBREC), PacketID: pub.PacketID})
	rel, ok := b.read().(*packet.PUBREL)
	require.True(t, ok)
	assert.Equal(t, pub.PacketID, rel.PacketID)
	b.write(&packet.PUBCOMP{FixedHeader: b.header(PUBCOMP), PacketID: pub.PacketID})
	b.disconnect(c)
}

func TestSubscribeOptions(t *testing.T) {
	c, b := newPipe(t)
	b.accept(c, nil)

	errc := make(chan error, 1)
	go func() {
		errc <- c.Subscribe(context.Background(), packet.Subscription{
			TopicFilter:            "sensors/#",
			MaximumQoS:             2,
			NoLocal:                true,
			RetainHandling:         1,
			SubscriptionIdentifier: 9,
		}, nil)
	}()
	sub, ok := b.read().(*packet.SUBSCRIBE)
	require.True(t, ok)
	assert.NotZero(t, sub.PacketID)
	assert.Equal(t, []uint32{9}, sub.Props.GetVarInts(packet.PropSubscriptionIdentifier))
	require.Len(t, sub.Subscriptions, 1)
	assert.Equal(t, uint8(2), sub.Subscriptions[0].MaximumQoS)
	assert.True(t, sub.Subscriptions[0].NoLocal)
	assert.Equal(t, uint8(1), sub.Subscriptions[0].RetainHandling)

	b.write(&packet.SUBACK{FixedHeader: b.header(SUBACK), PacketID: sub.PacketID, ReasonCode: []packet.ReasonCode{packet.CodeGrantedQos2}})
	require.NoError(t, <-errc)

	// 重复的 SUBACK 不影响连接
	b.write(&packet.SUBACK{FixedHeader: b.header(SUBACK), PacketID: sub.PacketID, ReasonCode: []packet.ReasonCode{packet.CodeGrantedQos2}})
	go func() { errc <- c.Ping(context.Background()) }()
	_, ok = b.read().(*packet.PINGREQ)
	require.True(t, ok)
	b.write(&packet.PINGRESP{FixedHeader: b.header(PINGRESP)})
	require.NoError(t, <-errc)
	assert.Equal(t, StateConnected, c.State())

	b.disconnect(c)
}

func TestSubscribeRefused(t *testing.T) {
	c, b := newPipe(t)
	b.accept(c, nil)

	errc := make(chan error, 1)
	go func() {
		errc <- c.Subscribe(context.Background(), packet.Subscription{TopicFilter: "secret/#", MaximumQoS: 1}, func(*packet.Message) {})
	}()
	sub, ok := b.read().(*packet.SUBSCRIBE)
	require.True(t, ok)
	b.write(&packet.SUBACK{FixedHeader: b.header(SUBACK), PacketID: sub.PacketID, ReasonCode: []packet.ReasonCode{packet.ErrNotAuthorized}})

	err := <-errc
	var refused *SubscribeError
	require.ErrorAs(t, err, &refused)
	assert.Equal(t, "secret/#", refused.TopicFilter)
	assert.Equal(t, uint8(0x87), refused.Code.Code)

	c.mu.Lock()
	assert.Equal(t, 0, c.subs.Len())
	assert.Equal(t, 0, c.pending.len())
	c.mu.Unlock()

	assert.ErrorIs(t, c.Subscribe(context.Background(), packet.Subscription{TopicFilter: "a/#/b"}, nil), topic.ErrInvalidFilter)
	b.disconnect(c)
}

// TestSubscribeRefusedKeepsExisting 重复订阅被拒绝时保留原来的处理函数
func TestSubscribeRefusedKeepsExisting(t *testing.T) {
	c, b := newPipe(t)
	b.accept(c, nil)

	got := make(chan string, 2)
	b.subscribe(c, "room/+", 0, func(*packet.Message) { got <- "first" })

	errc := make(chan error, 1)
	go func() {
		errc <- c.Subscribe(context.Background(), packet.Subscription{TopicFilter: "room/+", MaximumQoS: 2}, func(*packet.Message) { got <- "second" })
	}()
	sub, ok := b.read().(*packet.SUBSCRIBE)
	require.True(t, ok)
	b.write(&packet.SUBACK{FixedHeader: b.header(SUBACK), PacketID: sub.PacketID, ReasonCode: []packet.ReasonCode{packet.ErrQuotaExceeded}})
	var refused *SubscribeError
	require.ErrorAs(t, <-errc, &refused)

	c.mu.Lock()
	assert.Equal(t, 1, c.subs.Len())
	c.mu.Unlock()

	b.write(packet.NewPublish(b.version, 0, &packet.Message{TopicName: "room/1", Content: []byte("x")}))
	select {
	case name := <-got:
		assert.Equal(t, "first", name)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
	b.disconnect(c)
}

func TestUnsubscribe(t *testing.T) {
	c, b := newPipe(t)
	b.accept(c, nil)
	b.subscribe(c, "a/+", 0, func(*packet.Message) {})

	errc := make(chan error, 1)
	go func() { errc <- c.Unsubscribe(context.Background(), "a/+") }()
	unsub, ok := b.read().(*packet.UNSUBSCRIBE)
	require.True(t, ok)
	assert.Equal(t, []string{"a/+"}, unsub.TopicFilters)
	// v5 的 UNSUBACK 原因码不做检查
	b.write(&packet.UNSUBACK{FixedHeader: b.header(UNSUBACK), PacketID: unsub.PacketID, ReasonCode: []packet.ReasonCode{packet.CodeNoSubscriptionExisted}})
	require.NoError(t, <-errc)

	c.mu.Lock()
	assert.Equal(t, 0, c.subs.Len())
	c.mu.Unlock()
	b.disconnect(c)
}

func TestInboundQoS1(t *testing.T) {
	c, b := newPipe(t)
	b.accept(c, nil)

	var mu sync.Mutex
	var calls []string
	record := func(name string) func(*packet.Message) {
		return func(msg *packet.Message) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, name+":"+msg.TopicName+":"+string(msg.Content))
		}
	}
	c.OnMessage(record("global"))
	b.subscribe(c, "a/#", 1, record("handler"))

	b.write(packet.NewPublish(b.version, 42, &packet.Message{TopicName: "a/b", QoS: 1, Content: []byte("v")}))
	ack, ok := b.read().(*packet.PUBACK)
	require.True(t, ok)
	assert.Equal(t, uint16(42), ack.PacketID)

	// PUBACK 在回调之后发送
	mu.Lock()
	assert.Equal(t, []string{"handler:a/b:v", "global:a/b:v"}, calls)
	mu.Unlock()
	b.disconnect(c)
}

func TestInboundQoS2(t *testing.T) {
	c, b := newPipe(t)
	b.accept(c, nil)

	delivered := make(chan *packet.Message, 4)
	c.OnMessage(func(msg *packet.Message) { delivered <- msg })

	pub := packet.NewPublish(b.version, 7, &packet.Message{TopicName: "q/2", QoS: 2, Content: []byte("once")})
	b.write(pub)
	rec, ok := b.read().(*packet.PUBREC)
	require.True(t, ok)
	assert.Equal(t, uint16(7), rec.PacketID)

	// 重发的报文只确认, 不重复投递
	dup := packet.NewPublish(b.version, 7, &packet.Message{TopicName: "q/2", QoS: 2, Content: []byte("once")})
	dup.Dup = 1
	b.write(dup)
	rec, ok = b.read().(*packet.PUBREC)
	require.True(t, ok)
	assert.Equal(t, uint16(7), rec.PacketID)

	b.write(&packet.PUBREL{FixedHeader: b.header(PUBREL), PacketID: 7})
	comp, ok := b.read().(*packet.PUBCOMP)
	require.True(t, ok)
	assert.Equal(t, uint16(7), comp.PacketID)
	assert.Equal(t, uint8(0x00), comp.ReasonCode.Code)

	assert.Len(t, delivered, 1)
	msg := <-delivered
	assert.Equal(t, "once", string(msg.Content))

	// 未知的报文标识符
	b.write(&packet.PUBREL{FixedHeader: b.header(PUBREL), PacketID: 8})
	comp, ok = b.read().(*packet.PUBCOMP)
	require.True(t, ok)
	assert.Equal(t, uint8(0x92), comp.ReasonCode.Code)
	b.disconnect(c)
}

func TestInboundTopicAlias(t *testing.T) {
	c, b := newPipe(t)
	b.accept(c, nil)

	topics := make(chan string, 2)
	c.OnMessage(func(msg *packet.Message) { topics <- msg.TopicName })

	alias := packet.Properties{packet.PropTopicAlias: packet.Uint16Value(5)}
	b.write(packet.NewPublish(b.version, 0, &packet.Message{TopicName: "sensors/temp", Content: []byte("21"), Props: alias}))
	b.write(packet.NewPublish(b.version, 0, &packet.Message{TopicName: "", Content: []byte("22"), Props: alias}))

	for i := 0; i < 2; i++ {
		select {
		case name := <-topics:
			assert.Equal(t, "sensors/temp", name)
		case <-time.After(2 * time.Second):
			t.Fatal("message not delivered")
		}
	}
	b.disconnect(c)
}

func TestInboundUnknownTopicAlias(t *testing.T) {
	c, b := newPipe(t)
	b.accept(c, nil)

	b.write(packet.NewPublish(b.version, 0, &packet.Message{
		TopicName: "",
		Props:     packet.Properties{packet.PropTopicAlias: packet.Uint16Value(7)},
	}))
	disconnect, ok := b.read().(*packet.DISCONNECT)
	require.True(t, ok)
	assert.Equal(t, uint8(0x94), disconnect.ReasonCode.Code)

	require.Eventually(t, func() bool { return c.State() == StateDisconnected }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, c.Err(), packet.ErrTopicAliasInvalid)
}

func TestServerPingreq(t *testing.T) {
	c, b := newPipe(t)
	b.accept(c, nil)

	b.write(&packet.PINGREQ{FixedHeader: b.header(PINGREQ)})
	_, ok := b.read().(*packet.PINGRESP)
	assert.True(t, ok)
	b.disconnect(c)
}

func TestPingTimeout(t *testing.T) {
	c, b := newPipe(t, RequestTimeout(100*time.Millisecond))
	b.accept(c, nil)

	errc := make(chan error, 1)
	go func() { errc <- c.Ping(context.Background()) }()
	_, ok := b.read().(*packet.PINGREQ)
	require.True(t, ok)
	assert.ErrorIs(t, <-errc, ErrTimeout)

	c.mu.Lock()
	assert.Equal(t, 0, c.pending.len())
	c.mu.Unlock()
	b.disconnect(c)
}

func TestKeepAlive(t *testing.T) {
	c, b := newPipe(t, KeepAlive(1))
	b.accept(c, nil)
	assert.Equal(t, uint16(1), c.KeepAlive())

	_, ok := b.read().(*packet.PINGREQ)
	assert.True(t, ok)
	b.disconnect(c)
}

func TestDisconnectUnblocksSubscribe(t *testing.T) {
	c, b := newPipe(t, RequestTimeout(10*time.Second))
	b.accept(c, nil)

	suberr := make(chan error, 1)
	go func() {
		suberr <- c.Subscribe(context.Background(), packet.Subscription{TopicFilter: "a/b", MaximumQoS: 1}, nil)
	}()
	_, ok := b.read().(*packet.SUBSCRIBE)
	require.True(t, ok)

	discerr := make(chan error, 1)
	go func() { discerr <- c.Disconnect(context.Background()) }()

	select {
	case err := <-suberr:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe still waiting after Disconnect")
	}

	_, ok = b.read().(*packet.DISCONNECT)
	require.True(t, ok)
	require.NoError(t, <-discerr)
	assert.Equal(t, StateDisconnected, c.State())

	// 再次断开是无操作
	assert.NoError(t, c.Disconnect(context.Background()))
}

// TestConnectDuringDisconnect 旧连接清理完成之前新的 Connect 被拒绝, 之后的连接不受影响
func TestConnectDuringDisconnect(t *testing.T) {
	dial, brokers := pipes(t, 2)
	c := New(URL("mqtt://broker.test:1883"), ClientID("test-client"), ConnectTimeout(2*time.Second), RequestTimeout(2*time.Second), dial)
	first, second := brokers[0], brokers[1]
	first.accept(c, nil)

	entered, release := make(chan struct{}), make(chan struct{})
	first.subscribe(c, "block", 0, func(*packet.Message) {
		close(entered)
		<-release
	})
	first.write(packet.NewPublish(first.version, 0, &packet.Message{TopicName: "block"}))
	<-entered

	// 分发循环阻塞在回调中, Disconnect 等待它退出
	discerr := make(chan error, 1)
	go func() { discerr <- c.Disconnect(context.Background()) }()
	require.Eventually(t, func() bool { return c.State() == StateDisconnected }, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, c.Connect(context.Background()), ErrDisconnecting)

	close(release)
	_, ok := first.read().(*packet.DISCONNECT)
	require.True(t, ok)
	require.NoError(t, <-discerr)
	assert.Equal(t, StateDisconnected, c.State())

	second.accept(c, nil)
	assert.Equal(t, StateConnected, c.State())
	pubErr := make(chan error, 1)
	go func() { pubErr <- c.Publish(context.Background(), &packet.Message{TopicName: "a/b", Content: []byte("hi")}) }()
	pub, ok := second.read().(*packet.PUBLISH)
	require.True(t, ok)
	assert.Equal(t, "a/b", pub.Message.TopicName)
	require.NoError(t, <-pubErr)
	second.disconnect(c)
}

func TestServerDisconnect(t *testing.T) {
	c, b := newPipe(t)
	b.accept(c, nil)

	pingerr := make(chan error, 1)
	go func() { pingerr <- c.Ping(context.Background()) }()
	_, ok := b.read().(*packet.PINGREQ)
	require.True(t, ok)

	b.write(&packet.DISCONNECT{FixedHeader: b.header(DISCONNECT), ReasonCode: packet.ErrServerShuttingDown})

	var server *ServerDisconnectError
	require.ErrorAs(t, <-pingerr, &server)
	assert.Equal(t, uint8(0x8B), server.Code.Code)
	require.Eventually(t, func() bool { return c.State() == StateError }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, c.Err(), packet.ErrServerShuttingDown)

	// 服务端正常断开
	c2, b2 := newPipe(t)
	b2.accept(c2, nil)
	b2.write(&packet.DISCONNECT{FixedHeader: b2.header(DISCONNECT), ReasonCode: packet.CodeDisconnect})
	require.Eventually(t, func() bool { return c2.State() == StateDisconnected }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamClosed(t *testing.T) {
	c, b := newPipe(t)
	b.accept(c, nil)

	pingerr := make(chan error, 1)
	go func() { pingerr <- c.Ping(context.Background()) }()
	_, ok := b.read().(*packet.PINGREQ)
	require.True(t, ok)
	require.NoError(t, b.conn.Close())

	assert.ErrorIs(t, <-pingerr, ErrStreamClosed)
	require.Eventually(t, func() bool { return c.State() == StateDisconnected }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, c.Err(), ErrStreamClosed)
	assert.NoError(t, c.Disconnect(context.Background()))
}

func TestNextPacketID(t *testing.T) {
	c := New()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending.register(1)
	c.pending.register(2)
	id, err := c.nextPacketID()
	require.NoError(t, err)
	assert.Equal(t, uint16(3), id)

	// 回绕时跳过 0 和未完成的标识符
	c.nextID = 0xFFFF
	id, err = c.nextPacketID()
	require.NoError(t, err)
	assert.Equal(t, uint16(3), id)

	// 一个完整周期内不重复
	seen := make(map[uint16]bool)
	for i := 0; i < 0xFFFF-2; i++ {
		id, err := c.nextPacketID()
		require.NoError(t, err)
		require.NotZero(t, id)
		require.False(t, c.pending.outstanding(id))
		require.False(t, seen[id], "id %d repeated", id)
		seen[id] = true
	}

	for i := uint32(1); i <= 0xFFFF; i++ {
		c.pending.register(i)
	}
	_, err = c.nextPacketID()
	assert.ErrorIs(t, err, packet.ErrPacketIdentifierInUse)
	c.pending.failAll(ErrDisconnected)
}
