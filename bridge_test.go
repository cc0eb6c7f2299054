package mqttc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-io/mqttc/packet"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextEvent(t *testing.T, b *Bridge) Event {
	t.Helper()
	select {
	case e := <-b.Events():
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	return Event{}
}

func TestBridge(t *testing.T) {
	c, b := newPipe(t)
	bridge := NewBridge(c, 8)
	assert.Same(t, c, bridge.Client())

	errc := make(chan error, 1)
	go func() {
		errc <- bridge.Connect(context.Background(), ConnectOptions{Version: "5", KeepAlive: 45, ClientID: "bridge-1"})
	}()
	connect, ok := b.read().(*packet.CONNECT)
	require.True(t, ok)
	assert.Equal(t, packet.VERSION500, connect.Version)
	assert.Equal(t, uint16(45), connect.KeepAlive)
	assert.Equal(t, "bridge-1", connect.ClientID)
	b.write(&packet.CONNACK{FixedHeader: b.header(CONNACK), SessionPresent: true})
	require.NoError(t, <-errc)

	e := nextEvent(t, bridge)
	assert.Equal(t, EventConnected, e.Kind)
	assert.True(t, e.SessionPresent)

	go func() {
		errc <- bridge.Subscribe(context.Background(), SubscribeOptions{Topic: "room/+", QoS: 1, SubscriptionIdentifier: 3})
	}()
	sub, ok := b.read().(*packet.SUBSCRIBE)
	require.True(t, ok)
	assert.Equal(t, []uint32{3}, sub.Props.GetVarInts(packet.PropSubscriptionIdentifier))
	b.write(&packet.SUBACK{FixedHeader: b.header(SUBACK), PacketID: sub.PacketID, ReasonCode: []packet.ReasonCode{packet.CodeGrantedQos1}})
	require.NoError(t, <-errc)

	b.write(packet.NewPublish(b.version, 0, &packet.Message{TopicName: "room/1", Content: []byte("21.5")}))
	e = nextEvent(t, bridge)
	assert.Equal(t, EventMessage, e.Kind)
	assert.Equal(t, "room/1", e.Topic)
	assert.Equal(t, []byte("21.5"), e.Payload)

	go func() {
		errc <- bridge.Publish(context.Background(), PublishOptions{Topic: "room/1/set", Payload: []byte("on"), ContentType: "text/plain", MessageExpiry: 60})
	}()
	pub, ok := b.read().(*packet.PUBLISH)
	require.True(t, ok)
	require.NoError(t, <-errc)
	assert.Equal(t, "room/1/set", pub.Message.TopicName)
	contentType, _ := pub.Message.Props.GetString(packet.PropContentType)
	assert.Equal(t, "text/plain", contentType)
	expiry, _ := pub.Message.Props.GetUint32(packet.PropMessageExpiryInterval)
	assert.Equal(t, uint32(60), expiry)

	go func() { errc <- bridge.Unsubscribe(context.Background(), UnsubscribeOptions{Topic: "room/+"}) }()
	unsub, ok := b.read().(*packet.UNSUBSCRIBE)
	require.True(t, ok)
	b.write(&packet.UNSUBACK{FixedHeader: b.header(UNSUBACK), PacketID: unsub.PacketID, ReasonCode: []packet.ReasonCode{packet.CodeSuccess}})
	require.NoError(t, <-errc)

	go func() { errc <- bridge.Disconnect(context.Background()) }()
	_, ok = b.read().(*packet.DISCONNECT)
	require.True(t, ok)
	require.NoError(t, <-errc)
}

func TestBridgeDropsWhenFull(t *testing.T) {
	c, b := newPipe(t)
	bridge := NewBridge(c, 1)
	b.accept(c, nil)

	before := testutil.ToFloat64(stat.EventsDropped)
	// 连接事件占满缓冲区, 消息事件被丢弃, 分发循环不阻塞
	b.write(packet.NewPublish(b.version, 1, &packet.Message{TopicName: "a", QoS: 1}))
	_, ok := b.read().(*packet.PUBACK)
	require.True(t, ok)
	assert.Equal(t, before+1, testutil.ToFloat64(stat.EventsDropped))

	assert.Equal(t, EventConnected, nextEvent(t, bridge).Kind)
	b.disconnect(c)
}

func TestBridgeOptionsJSON(t *testing.T) {
	var o ConnectOptions
	require.NoError(t, json.Unmarshal([]byte(`{"url":"ws://h/mqtt","clientId":"x","cleanStart":false,"keepalive":10,"connectTimeoutMs":1500}`), &o))
	list, err := o.options()
	require.NoError(t, err)
	opts := newOptions(list...)
	assert.Equal(t, "ws://h/mqtt", opts.URL)
	assert.Equal(t, "x", opts.ClientID)
	assert.False(t, opts.CleanStart)
	assert.Equal(t, uint16(10), opts.KeepAlive)
	assert.Equal(t, 1500*time.Millisecond, opts.ConnectTimeout)
	assert.Equal(t, VersionAuto, opts.Version)

	b, err := json.Marshal(Event{Kind: EventMessage, Topic: "t", Payload: []byte("p")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":2,"topic":"t","payload":"cA=="}`, string(b))
	assert.Equal(t, "message", EventMessage.String())
}

func TestBridgeInvalidVersion(t *testing.T) {
	c := New(URL("mqtt://127.0.0.1:1"))
	bridge := NewBridge(c, 1)
	var err error
	assert.NotPanics(t, func() {
		err = bridge.Connect(context.Background(), ConnectOptions{URL: "mqtt://127.0.0.1:1", Version: "4"})
	})
	assert.ErrorContains(t, err, "not support")
	assert.Equal(t, StateDisconnected, c.State())
}
