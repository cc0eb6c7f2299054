package packet

import (
	"bytes"
	"fmt"
	"io"
)

// UNSUBACK 取消订阅确认报文
//
// MQTT v3.1.1: 参考章节 3.11 UNSUBACK - Unsubscribe acknowledgement
// MQTT v5.0: 参考章节 3.11 UNSUBACK - Unsubscribe acknowledgement
//
// 版本差异:
// - v3.1.1: 只包含报文标识符
// - v5.0: 增加属性和载荷, 每个主题过滤器对应一个原因码
type UNSUBACK struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	PacketID uint16 `json:"PacketID,omitempty"`

	Props Properties

	// ReasonCode v5.0 原因码列表, 0x00成功, 0x11订阅不存在
	ReasonCode []ReasonCode `json:"ReasonCode,omitempty"`
}

func (pkt *UNSUBACK) Kind() byte {
	return 0xB
}

func (pkt *UNSUBACK) String() string {
	return fmt.Sprintf("[0xB]UNSUBACK: PacketID=%d, ReasonCode=%v", pkt.PacketID, pkt.ReasonCode)
}

func (pkt *UNSUBACK) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)
	buf.Write(i2b(pkt.PacketID))
	if pkt.Version == VERSION500 {
		if err := pkt.Props.Encode(buf); err != nil {
			return err
		}
		for _, code := range pkt.ReasonCode {
			buf.WriteByte(code.Code)
		}
	}
	return pkt.FixedHeader.pack(w, buf)
}

func (pkt *UNSUBACK) Unpack(buf *bytes.Buffer) error {
	var err error
	if pkt.PacketID, err = readUint16(buf); err != nil {
		return err
	}
	if pkt.Version != VERSION500 {
		return nil
	}
	if pkt.Props, err = unpackProps(pkt.Version, buf); err != nil {
		return err
	}
	for buf.Len() != 0 {
		code, _ := buf.ReadByte()
		pkt.ReasonCode = append(pkt.ReasonCode, Reason(pkt.Kind(), pkt.Version, code))
	}
	return nil
}
