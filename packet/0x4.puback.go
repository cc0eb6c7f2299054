package packet

import (
	"bytes"
	"fmt"
	"io"
)

// PUBACK 发布确认报文, QoS 1 的响应
//
// MQTT v3.1.1: 参考章节 3.4 PUBACK - Publish acknowledgement
// MQTT v5.0: 参考章节 3.4 PUBACK - Publish acknowledgement
//
// 可变报头: 报文标识符、原因码(v5.0)、属性(v5.0)
// v5.0 中原因码为0x00且没有属性时可以省略原因码和属性长度 [MQTT-3.4.2.1]
type PUBACK struct {
	*FixedHeader

	PacketID   uint16
	ReasonCode ReasonCode
	Props      Properties
}

func (pkt *PUBACK) Kind() byte {
	return 0x4
}

func (pkt *PUBACK) String() string {
	return fmt.Sprintf("[0x4]PUBACK: PacketID=%d, ReasonCode=%d", pkt.PacketID, pkt.ReasonCode.Code)
}

func (pkt *PUBACK) Pack(w io.Writer) error {
	return packAck(w, pkt.FixedHeader, pkt.PacketID, pkt.ReasonCode, pkt.Props)
}

func (pkt *PUBACK) Unpack(buf *bytes.Buffer) (err error) {
	pkt.PacketID, pkt.ReasonCode, pkt.Props, err = unpackAck(pkt.FixedHeader, buf)
	return err
}

// packAck PUBACK/PUBREC/PUBREL/PUBCOMP 共用的编码
func packAck(w io.Writer, fixed *FixedHeader, packetID uint16, code ReasonCode, props Properties) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.Write(i2b(packetID))
	if fixed.Version == VERSION500 && (code.Code != 0 || len(props) != 0) {
		buf.WriteByte(code.Code)
		if err := props.Encode(buf); err != nil {
			return err
		}
	}
	return fixed.pack(w, buf)
}

func unpackAck(fixed *FixedHeader, buf *bytes.Buffer) (uint16, ReasonCode, Properties, error) {
	packetID, err := readUint16(buf)
	if err != nil {
		return 0, ReasonCode{}, nil, err
	}
	if packetID == 0 {
		return 0, ReasonCode{}, nil, ErrMalformedPacketID
	}
	code := CodeSuccess
	if fixed.Version != VERSION500 || buf.Len() == 0 {
		return packetID, code, nil, nil
	}
	c, _ := readByte(buf)
	code = Reason(fixed.Kind, fixed.Version, c)
	props, err := unpackProps(fixed.Version, buf)
	if err != nil {
		return 0, ReasonCode{}, nil, err
	}
	return packetID, code, props, nil
}
