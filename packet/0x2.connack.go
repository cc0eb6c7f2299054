package packet

import (
	"bytes"
	"fmt"
	"io"
)

// CONNACK 连接确认报文
//
// MQTT v3.1.1: 参考章节 3.2 CONNACK - Acknowledge connection request
// MQTT v5.0: 参考章节 3.2 CONNACK - Acknowledge connection request
//
// 报文结构:
// 固定报头: 报文类型0x02，标志位必须为0
// 可变报头: 连接确认标志、连接返回码/原因码、属性(v5.0)
// 载荷: 无载荷
type CONNACK struct {
	*FixedHeader

	// SessionPresent 会话存在标志, 可变报头第1字节的bit 0
	// 参考章节: 3.2.2.1 Session Present
	// bits 7-1 为保留位，必须为0
	SessionPresent bool

	// ReasonCode 连接返回码(v3.1.1 0x00-0x05) / 原因码(v5.0)
	// 参考章节: 3.2.2.2 Connect Return code / Connect Reason Code
	// 如果服务端发送了一个包含非零返回码的CONNACK报文，那么它必须关闭网络连接 [MQTT-3.2.2-5]
	ReasonCode ReasonCode `json:"ReasonCode,omitempty"`

	// Props 连接确认属性 (v5.0)
	// 参考章节: 3.2.2.3 CONNACK Properties
	// 例如服务端保持连接(0x13)、分配客户标识符(0x12)
	Props Properties
}

func (pkt *CONNACK) Kind() byte {
	return 0x2
}

func (pkt *CONNACK) String() string {
	return fmt.Sprintf("[0x2]CONNACK: SessionPresent=%v, ReasonCode=%d", pkt.SessionPresent, pkt.ReasonCode.Code)
}

// Pack 将CONNACK报文序列化到写入器
func (pkt *CONNACK) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	if pkt.SessionPresent {
		buf.WriteByte(0x01)
	} else {
		buf.WriteByte(0x00)
	}
	buf.WriteByte(pkt.ReasonCode.Code)

	if pkt.Version == VERSION500 {
		if err := pkt.Props.Encode(buf); err != nil {
			return err
		}
	}
	return pkt.FixedHeader.pack(w, buf)
}

// Unpack 从缓冲区解析CONNACK报文
// 服务端可能用v3.1.1格式拒绝v5.0的连接请求, 此时没有属性块
func (pkt *CONNACK) Unpack(buf *bytes.Buffer) error {
	flags, err := readByte(buf)
	if err != nil {
		return err
	}
	if flags&0xFE != 0 {
		return ErrMalformedSessionPresent
	}
	pkt.SessionPresent = flags == 0x01

	code, err := readByte(buf)
	if err != nil {
		return err
	}
	pkt.ReasonCode = Reason(pkt.Kind(), pkt.Version, code)

	pkt.Props, err = unpackProps(pkt.Version, buf)
	return err
}
