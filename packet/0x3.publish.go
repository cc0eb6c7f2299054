package packet

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// PUBLISH 发布消息报文
//
// MQTT v3.1.1: 参考章节 3.3 PUBLISH - Publish message
// MQTT v5.0: 参考章节 3.3 PUBLISH - Publish message
//
// 报文结构:
// 固定报头: 报文类型0x03，标志位包含DUP、QoS、RETAIN
// 可变报头: 主题名、报文标识符(QoS>0时)、属性(v5.0)
// 载荷: 应用消息内容
//
// 标志位规则:
// - DUP: 只有QoS > 0的报文才能设置，表示重复发送
// - QoS: 0(最多一次)、1(至少一次)、2(恰好一次)
// - RETAIN: 表示消息是否应该被服务端保留
type PUBLISH struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	// PacketID 报文标识符
	// 参考章节: 2.3.1 Packet Identifier
	// - QoS = 0: 不能包含报文标识符 [MQTT-2.3.1-5]
	// - QoS > 0: 必须包含报文标识符，范围1-65535
	PacketID uint16 `json:"PacketID,omitempty"`

	// Message 应用消息, 属性(v5.0)保存在 Message.Props 中
	Message *Message `json:"message,omitempty"`
}

func (pkt *PUBLISH) Kind() byte {
	return 0x3
}

func (pkt *PUBLISH) String() string {
	return fmt.Sprintf("[0x3]PUBLISH: PacketID=%d, QoS=%d, Message=%s", pkt.PacketID, pkt.QoS, pkt.Message)
}

// NewPublish 根据应用消息构造PUBLISH报文, QoS和RETAIN写入固定报头
func NewPublish(version byte, packetID uint16, msg *Message) *PUBLISH {
	fixed := &FixedHeader{Version: version, Kind: 0x3, QoS: msg.QoS}
	if msg.Retain {
		fixed.Retain = 1
	}
	if msg.QoS == 0 {
		packetID = 0
	}
	return &PUBLISH{FixedHeader: fixed, PacketID: packetID, Message: msg}
}

func (pkt *PUBLISH) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)
	if pkt.Message == nil {
		pkt.Message = &Message{}
	}
	if pkt.QoS > 2 {
		return ErrProtocolViolationQosOutOfRange
	}
	if err := writeString(buf, pkt.Message.TopicName); err != nil {
		return err
	}
	// QoS 设置为 0 的 Publish 报文不能包含报文标识符 [MQTT-2.3.1-5]。
	if pkt.QoS != 0 {
		buf.Write(i2b(pkt.PacketID))
	}
	if pkt.Version == VERSION500 {
		if err := pkt.Message.Props.Encode(buf); err != nil {
			return err
		}
	}
	buf.Write(pkt.Message.Content)
	return pkt.FixedHeader.pack(w, buf)
}

func (pkt *PUBLISH) Unpack(buf *bytes.Buffer) error {
	if pkt.Message == nil {
		pkt.Message = &Message{}
	}
	var err error
	if pkt.Message.TopicName, err = DecodeString(buf); err != nil {
		return err
	}

	// Publish 报文中的主题名不能包含通配符 [MQTT-3.3.2-2]。
	if strings.ContainsAny(pkt.Message.TopicName, "+#") {
		return fmt.Errorf("topic=%q: %w", pkt.Message.TopicName, ErrTopicNameInvalid)
	}
	// v3.1.1 没有主题别名, 主题名不能为空
	if pkt.Message.TopicName == "" && pkt.Version != VERSION500 {
		return ErrProtocolViolationNoTopic
	}

	if pkt.QoS != 0 {
		if pkt.PacketID, err = readUint16(buf); err != nil {
			return err
		}
		if pkt.PacketID == 0 {
			return ErrMalformedPacketID
		}
	}

	if pkt.Version == VERSION500 {
		if pkt.Message.Props, err = UnpackProperties(buf); err != nil {
			return fmt.Errorf("len=%d: %w", pkt.RemainingLength, err)
		}
	}

	pkt.Message.QoS = pkt.QoS
	pkt.Message.Retain = pkt.Retain == 1
	pkt.Message.Content = bytes.Clone(buf.Bytes())
	buf.Reset()
	return nil
}

// Message 发布消息内容
// 参考章节: 3.3.3 PUBLISH Payload
//
// 版本差异:
// - v3.1.1: 主题名和消息内容
// - v5.0: 增加属性, 如主题别名(0x23)、消息过期间隔(0x02)、载荷格式指示(0x01)
type Message struct {
	// TopicName 主题名, 不能包含通配符 [MQTT-3.3.2-2]
	// v5.0 使用主题别名时可以为空
	TopicName string

	// Content 消息内容, 零长度有效载荷是合法的
	Content []byte

	QoS    uint8
	Retain bool

	// Props v5.0 发布属性
	Props Properties
}

func (m *Message) String() string {
	return fmt.Sprintf("%s # %s", m.TopicName, m.Content)
}
