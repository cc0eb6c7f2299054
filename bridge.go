package mqttc

import (
	"context"
	"time"

	"github.com/golang-io/mqttc/packet"
)

// ConnectOptions is the connect request of an embedding environment.
type ConnectOptions struct {
	URL            string `json:"url"`
	ClientID       string `json:"clientId,omitempty"`
	Version        string `json:"version,omitempty"` // "3.1.1", "5.0.0" or "auto"
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
	CleanStart     *bool  `json:"cleanStart,omitempty"`
	KeepAlive      uint16 `json:"keepalive,omitempty"`
	SessionExpiry  uint32 `json:"sessionExpiry,omitempty"`
	ConnectTimeout int64  `json:"connectTimeoutMs,omitempty"`
}

func (o ConnectOptions) options() ([]Option, error) {
	version, err := ParseVersion(o.Version)
	if err != nil {
		return nil, err
	}
	opts := []Option{Version(version)}
	if o.URL != "" {
		opts = append(opts, URL(o.URL))
	}
	if o.ClientID != "" {
		opts = append(opts, ClientID(o.ClientID))
	}
	if o.Username != "" || o.Password != "" {
		opts = append(opts, Credentials(o.Username, o.Password))
	}
	if o.CleanStart != nil {
		opts = append(opts, CleanStart(*o.CleanStart))
	}
	if o.KeepAlive > 0 {
		opts = append(opts, KeepAlive(o.KeepAlive))
	}
	if o.SessionExpiry > 0 {
		opts = append(opts, SessionExpiry(o.SessionExpiry))
	}
	if o.ConnectTimeout > 0 {
		opts = append(opts, ConnectTimeout(time.Duration(o.ConnectTimeout)*time.Millisecond))
	}
	return opts, nil
}

type PublishOptions struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
	QoS     uint8  `json:"qos,omitempty"`
	Retain  bool   `json:"retain,omitempty"`

	// v5 properties
	MessageExpiry uint32 `json:"messageExpiry,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
	TopicAlias    uint16 `json:"topicAlias,omitempty"`
}

type SubscribeOptions struct {
	Topic                  string `json:"topic"`
	QoS                    uint8  `json:"qos,omitempty"`
	SubscriptionIdentifier uint32 `json:"subscriptionIdentifier,omitempty"`
}

type UnsubscribeOptions struct {
	Topic string `json:"topic"`
}

type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	}
	return "unknown"
}

// Event is an asynchronous notification towards the embedding environment.
type Event struct {
	Kind           EventKind `json:"kind"`
	Topic          string    `json:"topic,omitempty"`
	Payload        []byte    `json:"payload,omitempty"`
	SessionPresent bool      `json:"sessionPresent,omitempty"`
}

// DefaultEventBuffer is the capacity of the Bridge event channel.
const DefaultEventBuffer = 256

// Bridge exposes a Client to an environment that talks in option structs
// and receives notifications on a channel. Events are dropped, and counted,
// when the channel is full: the dispatch loop never waits on the consumer.
type Bridge struct {
	client *Client
	events chan Event
}

func NewBridge(client *Client, buffer int) *Bridge {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	b := &Bridge{client: client, events: make(chan Event, buffer)}
	client.OnConnect(func(connack *packet.CONNACK) {
		b.emit(Event{Kind: EventConnected, SessionPresent: connack.SessionPresent})
	})
	client.OnMessage(func(msg *packet.Message) {
		b.emit(Event{Kind: EventMessage, Topic: msg.TopicName, Payload: msg.Content})
	})
	return b
}

func (b *Bridge) emit(e Event) {
	select {
	case b.events <- e:
	default:
		stat.EventsDropped.Inc()
	}
}

// Events returns the notification channel. It is never closed.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

func (b *Bridge) Client() *Client {
	return b.client
}

func (b *Bridge) Connect(ctx context.Context, o ConnectOptions) error {
	opts, err := o.options()
	if err != nil {
		return err
	}
	return b.client.Connect(ctx, opts...)
}

func (b *Bridge) Publish(ctx context.Context, o PublishOptions) error {
	msg := &packet.Message{TopicName: o.Topic, Content: o.Payload, QoS: o.QoS, Retain: o.Retain}
	if o.MessageExpiry > 0 || o.ContentType != "" || o.TopicAlias > 0 {
		msg.Props = packet.Properties{}
		if o.MessageExpiry > 0 {
			msg.Props.Add(packet.PropMessageExpiryInterval, packet.Uint32Value(o.MessageExpiry))
		}
		if o.ContentType != "" {
			msg.Props.Add(packet.PropContentType, packet.StringValue(o.ContentType))
		}
		if o.TopicAlias > 0 {
			msg.Props.Add(packet.PropTopicAlias, packet.Uint16Value(o.TopicAlias))
		}
	}
	return b.client.Publish(ctx, msg)
}

// Subscribe subscribes without a per-filter handler; messages arrive as EventMessage.
func (b *Bridge) Subscribe(ctx context.Context, o SubscribeOptions) error {
	return b.client.Subscribe(ctx, packet.Subscription{
		TopicFilter:            o.Topic,
		MaximumQoS:             o.QoS,
		SubscriptionIdentifier: o.SubscriptionIdentifier,
	}, nil)
}

func (b *Bridge) Unsubscribe(ctx context.Context, o UnsubscribeOptions) error {
	return b.client.Unsubscribe(ctx, o.Topic)
}

func (b *Bridge) Disconnect(ctx context.Context) error {
	return b.client.Disconnect(ctx)
}
