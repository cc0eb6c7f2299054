package mqttc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/golang-io/mqttc/packet"
	"github.com/golang-io/mqttc/topic"
	"golang.org/x/sync/errgroup"
)

// MessageHandler is called on the dispatch goroutine for every inbound message
// whose topic matches the filter it was subscribed with. It must not block on
// requests of the same Client (Subscribe, Unsubscribe, Ping, Disconnect):
// acknowledgments are read by the goroutine running the handler.
type MessageHandler = topic.Handler

// A Client is a client-side MQTT v3.1.1 / v5.0 connection.
//
// Clients are safe for concurrent use by multiple goroutines. A Client owns
// at most one transport stream at a time; Connect may be called again once
// the previous connection is gone.
type Client struct {
	options Options

	// mu guards every field below. I/O never happens with mu held.
	mu sync.Mutex
	// wmu serializes whole-packet writes.
	wmu sync.Mutex

	state     State
	err       error
	conn      net.Conn
	reader    *bufio.Reader
	version   byte
	keepAlive uint16
	id        string
	nextID    uint16
	aliases   map[uint16]string
	subs      *topic.Trie
	pending   *registry
	inFight   *InFight
	group     *errgroup.Group
	cancel    context.CancelFunc
	// closing is set while Disconnect waits for the old connection's goroutines.
	closing bool

	onMessage func(*packet.Message)
	onConnect func(*packet.CONNACK)
}

func New(opts ...Option) *Client {
	options := newOptions(opts...)
	c := &Client{
		options: options,
		id:      options.ClientID,
		subs:    topic.New(),
		pending: newRegistry(),
		inFight: newInFight(),
	}
	log.Printf("client created: client_id=%s, server=%s", options.ClientID, options.URL)
	return c
}

// OnMessage sets the callback invoked for every inbound message, after the
// handlers of the matching subscriptions.
func (c *Client) OnMessage(fn func(*packet.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnConnect sets the callback invoked after each successful handshake.
func (c *Client) OnConnect(fn func(*packet.CONNACK)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = fn
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the client out of the Connected state, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Version returns the negotiated protocol level, or VersionAuto when not connected.
func (c *Client) Version() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// KeepAlive returns the effective keepalive in seconds, which is the
// Server Keep Alive when the server sent one.
func (c *Client) KeepAlive() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAlive
}

// ID returns the client identifier in use, which is the Assigned Client Identifier when the server sent one.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Connect dials the broker and runs the CONNECT/CONNACK handshake.
// opts overlay the options given to New and are kept for later connects.
func (c *Client) Connect(ctx context.Context, opts ...Option) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return ErrDisconnecting
	}
	switch c.state {
	case StateConnecting:
		c.mu.Unlock()
		return ErrAlreadyConnecting
	case StateConnected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	for _, o := range opts {
		o(&c.options)
	}
	options := c.options
	c.state, c.err = StateConnecting, nil
	c.mu.Unlock()

	stat.ConnectAttempts.Inc()
	log.Printf("client attempting to connect: client_id=%s, server=%s", options.ClientID, options.URL)

	if options.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.ConnectTimeout)
		defer cancel()
	}

	version := options.Version
	if version == VersionAuto {
		version = packet.VERSION500
	}
	conn, reader, connack, err := c.handshake(ctx, &options, version)
	if err != nil && options.Version == VersionAuto && fallback(err) {
		log.Printf("client falling back to 3.1.1: client_id=%s, error=%v", options.ClientID, err)
		version = packet.VERSION311
		conn, reader, connack, err = c.handshake(ctx, &options, version)
	}
	if err != nil {
		stat.ConnectFailures.Inc()
		c.mu.Lock()
		c.reset()
		c.state, c.err = StateError, err
		c.mu.Unlock()
		log.Printf("client connect failed: client_id=%s, error=%v", options.ClientID, err)
		return err
	}

	keepAlive, id := options.KeepAlive, options.ClientID
	if v, ok := connack.Props.GetUint16(packet.PropServerKeepAlive); ok {
		keepAlive = v
	}
	if v, ok := connack.Props.GetString(packet.PropAssignedClientIdentifier); ok && v != "" {
		id = v
	}

	group, gctx := errgroup.WithContext(context.Background())
	gctx, cancel := context.WithCancel(gctx)

	c.mu.Lock()
	c.conn, c.reader = conn, reader
	c.version, c.keepAlive, c.id = version, keepAlive, id
	c.aliases = make(map[uint16]string)
	c.group, c.cancel = group, cancel
	c.state = StateConnected
	onConnect := c.onConnect
	group.Go(func() error {
		return c.serve(gctx, conn)
	})
	if keepAlive > 0 {
		group.Go(func() error {
			return c.keepalive(gctx, conn, time.Duration(keepAlive)*time.Second)
		})
	}
	c.mu.Unlock()

	stat.ActiveConnections.Inc()
	log.Printf("client connected successfully: client_id=%s, server=%s, version=%d, keepalive=%d, session_present=%v",
		id, options.URL, version, keepAlive, connack.SessionPresent)
	if onConnect != nil {
		onConnect(connack)
	}
	return nil
}

// fallback reports whether a v5.0 handshake failure means the server only speaks 3.1.1.
func fallback(err error) bool {
	var refused *ConnectionRefusedError
	if errors.As(err, &refused) {
		return refused.Code.Code == packet.Err3UnsupportedProtocolVersion.Code ||
			refused.Code.Code == packet.ErrUnsupportedProtocolVersion.Code
	}
	return errors.Is(err, ErrStreamClosed)
}

// handshake dials and negotiates one protocol version. The returned reader
// must be used for every later read: it may already hold buffered bytes.
func (c *Client) handshake(ctx context.Context, options *Options, version byte) (net.Conn, *bufio.Reader, *packet.CONNACK, error) {
	conn, err := dial(ctx, options)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, nil, ctxErr(ctx)
		}
		return nil, nil, nil, err
	}
	reader := bufio.NewReader(statReader{r: conn})
	connack, err := c.negotiate(ctx, conn, reader, options, version)
	if err != nil {
		if e := conn.Close(); e != nil {
			log.Printf("client close failed: client_id=%s, error=%v", options.ClientID, e)
		}
		return nil, nil, nil, err
	}
	return conn, reader, connack, nil
}

func (c *Client) negotiate(ctx context.Context, conn net.Conn, reader *bufio.Reader, options *Options, version byte) (*packet.CONNACK, error) {
	// 超时后让阻塞的读写立即返回
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	connect := &packet.CONNECT{
		FixedHeader: &packet.FixedHeader{Version: version, Kind: CONNECT},
		KeepAlive:   options.KeepAlive,
		ClientID:    options.ClientID,
		CleanStart:  options.CleanStart,
		Will:        options.Will,
		Username:    options.Username,
		Password:    options.Password,
	}
	if version == packet.VERSION500 && options.SessionExpiry > 0 {
		connect.Props = packet.Properties{packet.PropSessionExpiryInterval: packet.Uint32Value(options.SessionExpiry)}
	}
	if err := c.write(ctx, conn, connect); err != nil {
		if ctx.Err() != nil {
			return nil, ctxErr(ctx)
		}
		return nil, fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}

	for {
		pkt, err := packet.Unpack(version, reader)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctxErr(ctx)
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
				return nil, fmt.Errorf("%w: %v", ErrStreamClosed, err)
			}
			return nil, err
		}
		stat.PacketReceived.Inc()

		switch pkt := pkt.(type) {
		case *packet.CONNACK:
			if !stop() {
				// 截止时间已经生效, 连接不能再用
				return nil, ctxErr(ctx)
			}
			if err := conn.SetDeadline(time.Time{}); err != nil {
				return nil, err
			}
			if pkt.ReasonCode.Code != 0 {
				return nil, &ConnectionRefusedError{Code: pkt.ReasonCode}
			}
			return pkt, nil
		case *packet.AUTH:
			log.Printf("client received AUTH during handshake: client_id=%s, reason_code=0x%02X", options.ClientID, pkt.ReasonCode.Code)
			disconnect := &packet.DISCONNECT{
				FixedHeader: &packet.FixedHeader{Version: version, Kind: DISCONNECT},
				ReasonCode:  packet.ErrBadAuthenticationMethod,
			}
			if err := c.write(ctx, conn, disconnect); err != nil {
				log.Printf("client disconnect packet send failed: client_id=%s, error=%v", options.ClientID, err)
			}
			return nil, ErrAuthenticationUnsupported
		case *packet.DISCONNECT:
			reason, _ := pkt.Props.GetString(packet.PropReasonString)
			return nil, &ServerDisconnectError{Code: pkt.ReasonCode, Reason: reason}
		default:
			if version == packet.VERSION500 {
				log.Printf("client skipped packet before CONNACK: client_id=%s, kind=%s", options.ClientID, packet.Kind[pkt.Kind()])
				continue
			}
			return nil, &UnexpectedPacketError{Kind: pkt.Kind(), Want: CONNACK}
		}
	}
}

func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

// Publish writes an application message. It returns once the PUBLISH is
// written; QoS 1 and 2 acknowledgments are not awaited.
func (c *Client) Publish(ctx context.Context, msg *packet.Message) error {
	if msg.QoS > 2 {
		return packet.ErrProtocolViolationQosOutOfRange
	}
	if strings.ContainsAny(msg.TopicName, "+#") {
		return packet.ErrTopicNameInvalid
	}
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if msg.TopicName == "" {
		if _, ok := msg.Props.GetUint16(packet.PropTopicAlias); !ok || c.version != packet.VERSION500 {
			c.mu.Unlock()
			return packet.ErrProtocolViolationNoTopic
		}
	}
	var id uint16
	if msg.QoS > 0 {
		var err error
		if id, err = c.nextPacketID(); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	conn, clientID := c.conn, c.id
	pub := packet.NewPublish(c.version, id, msg)
	c.mu.Unlock()

	if err := c.write(ctx, conn, pub); err != nil {
		log.Printf("client publish: client_id=%s, topic=%s, error=%v", clientID, msg.TopicName, err)
		return err
	}
	return nil
}

// nextPacketID returns the next non-zero id not awaiting an acknowledgment.
// It is called with c.mu held.
func (c *Client) nextPacketID() (uint16, error) {
	for i := 0; i < 0xFFFF; i++ {
		c.nextID++
		if c.nextID == 0 {
			c.nextID = 1
		}
		if !c.pending.outstanding(c.nextID) {
			return c.nextID, nil
		}
	}
	return 0, packet.ErrPacketIdentifierInUse
}

// Subscribe subscribes to one filter and waits for its SUBACK. handler may be
// nil, in which case matching messages only reach the OnMessage callback.
func (c *Client) Subscribe(ctx context.Context, sub packet.Subscription, handler MessageHandler) error {
	if err := topic.Valid(sub.TopicFilter); err != nil {
		return err
	}
	if sub.MaximumQoS > 2 {
		return packet.ErrProtocolViolationQosOutOfRange
	}

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	id, err := c.nextPacketID()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	done := c.pending.register(uint32(id))
	subs := c.subs
	// 订阅被拒绝时恢复原来的处理函数
	previous, existed := subs.Lookup(sub.TopicFilter)
	// 先注册处理函数, SUBACK 之后紧跟的消息也能被投递
	if handler != nil {
		if err := subs.Subscribe(sub.TopicFilter, handler); err != nil {
			c.pending.drop(uint32(id), done)
			c.mu.Unlock()
			return err
		}
	}
	conn, version, clientID, timeout := c.conn, c.version, c.id, c.options.RequestTimeout
	c.mu.Unlock()
	defer c.drop(uint32(id), done)

	fail := func(err error) error {
		if handler != nil {
			c.mu.Lock()
			if existed {
				_ = subs.Subscribe(sub.TopicFilter, previous)
			} else {
				subs.Unsubscribe(sub.TopicFilter)
			}
			c.mu.Unlock()
		}
		log.Printf("client subscribe failed: client_id=%s, topic=%s, error=%v", clientID, sub.TopicFilter, err)
		return err
	}

	pkt := &packet.SUBSCRIBE{
		FixedHeader:   &packet.FixedHeader{Version: version, Kind: SUBSCRIBE, QoS: 1},
		PacketID:      id,
		Subscriptions: []packet.Subscription{sub},
	}
	if version == packet.VERSION500 && sub.SubscriptionIdentifier > 0 {
		pkt.Props = packet.Properties{packet.PropSubscriptionIdentifier: packet.VarIntValue(sub.SubscriptionIdentifier)}
	}
	if err := c.write(ctx, conn, pkt); err != nil {
		return fail(err)
	}

	resp, err := done.wait(ctx, timeout)
	if err != nil {
		return fail(err)
	}
	suback, ok := resp.(*packet.SUBACK)
	if !ok {
		return fail(&UnexpectedPacketError{Kind: resp.Kind(), Want: SUBACK})
	}
	if len(suback.ReasonCode) == 0 {
		return fail(packet.ErrProtocolErr)
	}
	for _, code := range suback.ReasonCode {
		if !packet.IsGranted(code.Code) {
			return fail(&SubscribeError{TopicFilter: sub.TopicFilter, Code: code})
		}
	}
	log.Printf("client subscribed successfully: client_id=%s, topic=%s, granted_qos=%d", clientID, sub.TopicFilter, suback.ReasonCode[0].Code)
	return nil
}

// Unsubscribe removes one filter and waits for its UNSUBACK. UNSUBACK reason codes are not inspected.
func (c *Client) Unsubscribe(ctx context.Context, filter string) error {
	if err := topic.Valid(filter); err != nil {
		return err
	}
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	id, err := c.nextPacketID()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	done := c.pending.register(uint32(id))
	conn, version, clientID, timeout, subs := c.conn, c.version, c.id, c.options.RequestTimeout, c.subs
	c.mu.Unlock()
	defer c.drop(uint32(id), done)

	pkt := &packet.UNSUBSCRIBE{
		FixedHeader:  &packet.FixedHeader{Version: version, Kind: UNSUBSCRIBE, QoS: 1},
		PacketID:     id,
		TopicFilters: []string{filter},
	}
	if err := c.write(ctx, conn, pkt); err != nil {
		log.Printf("client unsubscribe failed: client_id=%s, topic=%s, error=%v", clientID, filter, err)
		return err
	}
	if _, err := done.wait(ctx, timeout); err != nil {
		log.Printf("client unsubscribe failed: client_id=%s, topic=%s, error=%v", clientID, filter, err)
		return err
	}
	c.mu.Lock()
	subs.Unsubscribe(filter)
	c.mu.Unlock()
	log.Printf("client unsubscribed successfully: client_id=%s, topic=%s", clientID, filter)
	return nil
}

// Ping writes a PINGREQ and waits for the PINGRESP. Concurrent pings share one response.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	done := c.pending.register(pingKey)
	conn, version, timeout := c.conn, c.version, c.options.RequestTimeout
	c.mu.Unlock()
	defer c.drop(pingKey, done)

	if err := c.write(ctx, conn, &packet.PINGREQ{FixedHeader: &packet.FixedHeader{Version: version, Kind: PINGREQ}}); err != nil {
		return err
	}
	_, err := done.wait(ctx, timeout)
	return err
}

func (c *Client) drop(key uint32, done *completion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.drop(key, done)
}

// Disconnect stops the background goroutines, fails every pending request
// with ErrDisconnected, sends a best-effort DISCONNECT and closes the stream.
// It is a no-op on a client that is not connected. It must not be called from a MessageHandler.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn, cancel, group, version, clientID := c.conn, c.cancel, c.group, c.version, c.id
	if conn == nil {
		if c.state != StateConnecting {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return nil
	}
	// 读循环和心跳看到 conn 为空后退出
	c.conn = nil
	c.state = StateDisconnected
	// 旧连接清理完之前不允许新的 Connect
	c.closing = true
	c.mu.Unlock()

	log.Printf("client attempting to disconnect: client_id=%s", clientID)
	cancel()
	// 唤醒阻塞在读写上的分发循环和心跳
	if err := conn.SetDeadline(time.Now()); err != nil {
		log.Printf("client set deadline failed: client_id=%s, error=%v", clientID, err)
	}
	if err := group.Wait(); err != nil {
		log.Printf("client dispatch loop exited: client_id=%s, error=%v", clientID, err)
	}
	_ = conn.SetDeadline(time.Time{})

	c.mu.Lock()
	c.pending.failAll(ErrDisconnected)
	c.reset()
	c.closing = false
	c.mu.Unlock()
	stat.ActiveConnections.Dec()

	disconnect := &packet.DISCONNECT{
		FixedHeader: &packet.FixedHeader{Version: version, Kind: DISCONNECT},
		ReasonCode:  packet.CodeDisconnect,
	}
	if err := c.write(ctx, conn, disconnect); err != nil {
		log.Printf("client disconnect packet send failed: client_id=%s, error=%v", clientID, err)
	}
	if err := conn.Close(); err != nil {
		log.Printf("client close failed: client_id=%s, error=%v", clientID, err)
	}
	log.Printf("client disconnected successfully: client_id=%s", clientID)
	return nil
}

// reset clears the connection fields. It is called with c.mu held; state is left to the caller.
func (c *Client) reset() {
	c.conn, c.reader = nil, nil
	c.group, c.cancel = nil, nil
	c.version, c.keepAlive = VersionAuto, 0
	c.id = c.options.ClientID
	c.aliases = nil
	c.subs = topic.New()
	c.inFight = newInFight()
}

// write packs pkt onto conn as a single Write. A ctx deadline bounds the write.
func (c *Client) write(ctx context.Context, conn net.Conn, pkt packet.Packet) error {
	if conn == nil {
		return ErrNotConnected
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err == nil {
			defer conn.SetWriteDeadline(time.Time{})
		}
	}
	return pkt.Pack(statWriter{w: conn})
}
