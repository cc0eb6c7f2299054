package packet

import (
	"bytes"
	"fmt"
	"io"
)

// NAME 协议名，固定为"MQTT"
// MQTT v3.1.1: 参考章节 3.1.2.1 Protocol Name
// MQTT v5.0: 参考章节 3.1.2.1 Protocol Name
// 编码: 0x00 0x04 'M' 'Q' 'T' 'T'
var NAME = []byte{0x00, 0x04, 'M', 'Q', 'T', 'T'}

// CONNECT 客户端连接请求报文
//
// MQTT v3.1.1: 参考章节 3.1 CONNECT - Client requests a connection to a Server
// MQTT v5.0: 参考章节 3.1 CONNECT - Client requests a connection to a Server
//
// 报文结构:
// 固定报头: 报文类型0x01，标志位必须为0
// 可变报头: 协议名、协议级别、连接标志、保持连接、属性(v5.0)
// 载荷: 客户端ID、遗嘱信息(可选)、用户名密码(可选)
//
// 协议级别保存在 FixedHeader.Version 中
type CONNECT struct {
	*FixedHeader

	// ConnectFlags 连接标志，Pack 时根据字段重新计算
	ConnectFlags ConnectFlags

	// KeepAlive 保持连接时间间隔, 单位秒, 0表示禁用
	KeepAlive uint16

	// Props 连接属性 (v5.0), 如会话过期间隔(0x11)
	Props Properties `json:"Properties,omitempty"`

	ClientID string `json:"ClientID,omitempty"`

	// CleanStart v5.0 Clean Start / v3.1.1 Clean Session
	CleanStart bool

	// Will 遗嘱消息, nil表示不设置遗嘱标志
	Will *Will `json:"Will,omitempty"`

	Username string `json:"Username,omitempty"`
	Password string `json:"Password,omitempty"`
}

// Will 遗嘱消息
// 参考章节: 3.1.3.2 Will Properties, 3.1.3.3 Will Topic, 3.1.3.4 Will Payload
type Will struct {
	TopicName string
	Message   []byte
	Retain    bool
	QoS       uint8
	Props     Properties // v5.0 遗嘱属性
}

func (pkt *CONNECT) Kind() byte {
	return 0x1
}

func (pkt *CONNECT) String() string {
	return fmt.Sprintf("[0x1]CONNECT: ClientID=%s, Version=%d, KeepAlive=%d", pkt.ClientID, pkt.Version, pkt.KeepAlive)
}

func (pkt *CONNECT) flags() ConnectFlags {
	var flag uint8
	if pkt.Username != "" {
		flag |= 1 << 7
	}
	if pkt.Password != "" {
		flag |= 1 << 6
	}
	if pkt.Will != nil {
		if pkt.Will.Retain {
			flag |= 1 << 5
		}
		flag |= (pkt.Will.QoS & 0x03) << 3
		flag |= 1 << 2
	}
	if pkt.CleanStart {
		flag |= 1 << 1
	}
	return ConnectFlags(flag)
}

// Pack 将CONNECT报文序列化到写入器
// 序列化顺序:
// 1. 可变报头: 协议名、协议级别、连接标志、保持连接
// 2. 属性(v5.0)
// 3. 载荷: 客户端ID、遗嘱属性(v5.0)、遗嘱主题、遗嘱载荷、用户名、密码
// 4. 固定报头 + 以上内容一次写入
func (pkt *CONNECT) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write(NAME)
	buf.WriteByte(pkt.Version)
	pkt.ConnectFlags = pkt.flags()
	buf.WriteByte(byte(pkt.ConnectFlags))
	buf.Write(i2b(pkt.KeepAlive))

	if pkt.Version == VERSION500 {
		if err := pkt.Props.Encode(buf); err != nil {
			return err
		}
	}

	if err := writeString(buf, pkt.ClientID); err != nil {
		return err
	}

	if pkt.Will != nil {
		if pkt.Version == VERSION500 {
			if err := pkt.Will.Props.Encode(buf); err != nil {
				return err
			}
		}
		if err := writeString(buf, pkt.Will.TopicName); err != nil {
			return err
		}
		if err := writeString(buf, pkt.Will.Message); err != nil {
			return err
		}
	}

	if pkt.Username != "" {
		if err := writeString(buf, pkt.Username); err != nil {
			return err
		}
	}
	if pkt.Password != "" {
		if err := writeString(buf, pkt.Password); err != nil {
			return err
		}
	}
	return pkt.FixedHeader.pack(w, buf)
}

func (pkt *CONNECT) Unpack(buf *bytes.Buffer) error {
	if buf.Len() < len(NAME) || !bytes.Equal(buf.Next(len(NAME)), NAME) {
		return fmt.Errorf("%w: Len=%d", ErrMalformedProtocolName, pkt.RemainingLength)
	}

	version, err := readByte(buf)
	if err != nil {
		return err
	}
	if version != VERSION311 && version != VERSION500 {
		return ErrMalformedProtocolVersion
	}
	pkt.Version = version

	flags, err := readByte(buf)
	if err != nil {
		return err
	}
	pkt.ConnectFlags = ConnectFlags(flags)

	// The Server MUST validate that the reserved flag in the CONNECT Control Packet is set to zero and
	// disconnect the Client if it is not zero [MQTT-3.1.2-3].
	if pkt.ConnectFlags.Reserved() != 0 {
		return ErrMalformedFlags
	}
	if pkt.ConnectFlags.WillQoS() > 2 {
		// 遗嘱 QoS 的值不能等于 3 [MQTT-3.1.2-14]。
		return ErrProtocolViolationQosOutOfRange
	}
	pkt.CleanStart = pkt.ConnectFlags.CleanStart()

	if pkt.KeepAlive, err = readUint16(buf); err != nil {
		return err
	}

	if pkt.Version == VERSION500 {
		if pkt.Props, err = UnpackProperties(buf); err != nil {
			return err
		}
	}

	if pkt.ClientID, err = DecodeString(buf); err != nil {
		return err
	}

	if pkt.ConnectFlags.WillFlag() {
		will := &Will{Retain: pkt.ConnectFlags.WillRetain(), QoS: pkt.ConnectFlags.WillQoS()}
		if pkt.Version == VERSION500 {
			if will.Props, err = UnpackProperties(buf); err != nil {
				return err
			}
		}
		if will.TopicName, err = DecodeString(buf); err != nil {
			return err
		}
		if will.Message, err = DecodeBinary(buf); err != nil {
			return err
		}
		pkt.Will = will
	}

	if pkt.ConnectFlags.UserNameFlag() {
		// 如果用户名（User Name）标志被设置为 1，有效载荷中必须包含用户名字段 [MQTT-3.1.2-19]。
		if pkt.Username, err = DecodeString(buf); err != nil {
			return err
		}
	}
	if pkt.ConnectFlags.PasswordFlag() {
		if pkt.Password, err = DecodeString(buf); err != nil {
			return err
		}
	}
	return nil
}

// ConnectFlags 连接标志，8位标志字段
// 参考章节: 3.1.2.2 Connect Flags
// 标志位定义:
// - bit 7: UserNameFlag - 用户名标志
// - bit 6: PasswordFlag - 密码标志
// - bit 5: WillRetain - 遗嘱保留标志
// - bit 4-3: WillQoS - 遗嘱QoS等级
// - bit 2: WillFlag - 遗嘱标志
// - bit 1: CleanStart - 清理会话标志(v5.0) / CleanSession(v3.1.1)
// - bit 0: Reserved - 保留位，必须为0
type ConnectFlags uint8

func (f ConnectFlags) Reserved() uint8 {
	return uint8(f) & 0x01
}

func (f ConnectFlags) CleanStart() bool {
	return (uint8(f) & 0x02) == 0x02
}

func (f ConnectFlags) WillFlag() bool {
	return (uint8(f) & 0x04) == 0x04
}

func (f ConnectFlags) WillQoS() uint8 {
	return (uint8(f) & 0x18) >> 3
}

func (f ConnectFlags) WillRetain() bool {
	return (uint8(f) & 0x20) == 0x20
}

func (f ConnectFlags) PasswordFlag() bool {
	return (uint8(f) & 0x40) == 0x40
}

func (f ConnectFlags) UserNameFlag() bool {
	return (uint8(f) & 0x80) == 0x80
}
