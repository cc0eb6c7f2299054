package packet

import (
	"bytes"
	"fmt"
	"io"
)

// SUBSCRIBE 订阅请求报文
//
// MQTT v3.1.1: 参考章节 3.8 SUBSCRIBE - Subscribe to topics
// MQTT v5.0: 参考章节 3.8 SUBSCRIBE - Subscribe to topics
//
// 报文结构:
// 固定报头: 报文类型0x08，标志位必须为DUP=0, QoS=1, RETAIN=0 [MQTT-3.8.1-1]
// 可变报头: 报文标识符、订阅属性(v5.0)
// 载荷: 订阅列表，每个订阅包含主题过滤器和订阅选项
type SUBSCRIBE struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	PacketID uint16 `json:"PacketID,omitempty"`

	// Props 订阅属性 (v5.0), 订阅标识符(0x0B)和用户属性(0x26)
	Props Properties

	// Subscriptions 订阅列表, 至少包含一个订阅 [MQTT-3.8.3-1]
	Subscriptions []Subscription `json:"Subscription,omitempty"`
}

func (pkt *SUBSCRIBE) Kind() byte {
	return 0x8
}

func (pkt *SUBSCRIBE) String() string {
	return fmt.Sprintf("[0x8]SUBSCRIBE: PacketID=%d, Subscriptions=%v", pkt.PacketID, pkt.Subscriptions)
}

func (pkt *SUBSCRIBE) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)
	if len(pkt.Subscriptions) == 0 {
		return ErrProtocolViolationNoFilters
	}
	pkt.QoS = 1
	buf.Write(i2b(pkt.PacketID))

	if pkt.Version == VERSION500 {
		if err := pkt.Props.Encode(buf); err != nil {
			return err
		}
	}

	for _, subscription := range pkt.Subscriptions {
		if subscription.TopicFilter == "" {
			return ErrProtocolViolationNoTopic
		}
		if err := writeString(buf, subscription.TopicFilter); err != nil {
			return err
		}
		buf.WriteByte(subscription.Options(pkt.Version))
	}
	return pkt.FixedHeader.pack(w, buf)
}

func (pkt *SUBSCRIBE) Unpack(buf *bytes.Buffer) error {
	var err error
	if pkt.PacketID, err = readUint16(buf); err != nil {
		return err
	}
	if pkt.Version == VERSION500 {
		if pkt.Props, err = UnpackProperties(buf); err != nil {
			return fmt.Errorf("len=%d: %w", pkt.RemainingLength, err)
		}
	}
	for buf.Len() != 0 {
		subscription := Subscription{}
		if subscription.TopicFilter, err = DecodeString(buf); err != nil {
			return err
		}
		options, err := readByte(buf)
		if err != nil {
			return err
		}
		subscription.MaximumQoS = options & 0b00000011
		if subscription.MaximumQoS > 0x02 {
			return ErrProtocolViolationQosOutOfRange
		}
		if pkt.Version == VERSION500 {
			subscription.NoLocal = options&0b00000100 != 0
			subscription.RetainAsPublished = options&0b00001000 != 0
			subscription.RetainHandling = options & 0b00110000 >> 4
		}
		if options&0b11000000 != 0 {
			return ErrMalformedFlags
		}
		pkt.Subscriptions = append(pkt.Subscriptions, subscription)
	}
	if len(pkt.Subscriptions) == 0 {
		return ErrProtocolViolationNoFilters
	}
	return nil
}

// Subscription 订阅项
// 参考章节: 3.8.3 SUBSCRIBE Payload
//
// 版本差异:
// - v3.1.1: 主题过滤器和QoS
// - v5.0: 增加了NoLocal、RetainAsPublished、RetainHandling等选项
type Subscription struct {
	// TopicFilter 主题过滤器, 支持通配符 + 和 #
	TopicFilter string

	// MaximumQoS 订阅选项字节的bits 1-0
	MaximumQoS uint8

	// NoLocal bit 2, 应用消息不能被发送给发布者自己 (v5.0)
	NoLocal bool

	// RetainAsPublished bit 3, 转发时保持RETAIN标志不变 (v5.0)
	RetainAsPublished bool

	// RetainHandling bits 5-4 (v5.0)
	// - 0x00: 订阅建立时发送保留消息
	// - 0x01: 只在订阅是新的时发送保留消息
	// - 0x02: 不发送保留消息
	RetainHandling uint8

	// SubscriptionIdentifier 非0时作为SUBSCRIBE的订阅标识符属性(0x0B)发送 (v5.0)
	SubscriptionIdentifier uint32
}

// Options 编码订阅选项字节, bits 7-6 保留位总是为0
// v3.1.1 只有QoS位有效
func (s Subscription) Options(version byte) byte {
	options := s.MaximumQoS & 0b00000011
	if version != VERSION500 {
		return options
	}
	if s.NoLocal {
		options |= 0b00000100
	}
	if s.RetainAsPublished {
		options |= 0b00001000
	}
	options |= (s.RetainHandling & 0b11) << 4
	return options
}

func (s Subscription) String() string {
	return fmt.Sprintf("%s@%d", s.TopicFilter, s.MaximumQoS)
}
