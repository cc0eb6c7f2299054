package packet

import (
	"bytes"
	"fmt"
	"io"
)

// SUBACK 订阅确认报文
//
// MQTT v3.1.1: 参考章节 3.9 SUBACK - Subscribe acknowledgement
// MQTT v5.0: 参考章节 3.9 SUBACK - Subscribe acknowledgement
//
// 可变报头: 报文标识符、订阅确认属性(v5.0)
// 载荷: 每个订阅请求对应一个返回码, 顺序与SUBSCRIBE一致
// - 0x00/0x01/0x02: 订阅成功, 授权的最大QoS
// - 0x80及以上: 订阅失败
//
// 失败码是合法的载荷, 解析时不报错, 由调用方用 IsGranted 判断
type SUBACK struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	PacketID uint16 `json:"PacketID,omitempty"`

	// Props 订阅确认属性 (v5.0), 原因字符串、用户属性
	Props Properties

	ReasonCode []ReasonCode `json:"ReasonCode,omitempty"`
}

func (pkt *SUBACK) Kind() byte {
	return 0x9
}

func (pkt *SUBACK) String() string {
	return fmt.Sprintf("[0x9]SUBACK: PacketID=%d, ReasonCode=%v", pkt.PacketID, pkt.ReasonCode)
}

func (pkt *SUBACK) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)
	if len(pkt.ReasonCode) == 0 {
		return ErrMalformedReasonCode
	}
	buf.Write(i2b(pkt.PacketID))
	if pkt.Version == VERSION500 {
		if err := pkt.Props.Encode(buf); err != nil {
			return err
		}
	}
	for _, code := range pkt.ReasonCode {
		buf.WriteByte(code.Code)
	}
	return pkt.FixedHeader.pack(w, buf)
}

func (pkt *SUBACK) Unpack(buf *bytes.Buffer) error {
	var err error
	if pkt.PacketID, err = readUint16(buf); err != nil {
		return err
	}
	if pkt.Props, err = unpackProps(pkt.Version, buf); err != nil {
		return err
	}
	for buf.Len() != 0 {
		code, _ := buf.ReadByte()
		pkt.ReasonCode = append(pkt.ReasonCode, Reason(pkt.Kind(), pkt.Version, code))
	}
	if len(pkt.ReasonCode) == 0 {
		return ErrMalformedReasonCode
	}
	return nil
}
