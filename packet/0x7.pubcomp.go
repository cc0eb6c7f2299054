package packet

import (
	"bytes"
	"fmt"
	"io"
)

// PUBCOMP 发布完成报文, QoS 2 交付的第三步
//
// MQTT v5.0: 参考章节 3.7 PUBCOMP - Publish complete (QoS 2 delivery part 3)
type PUBCOMP struct {
	*FixedHeader

	PacketID   uint16
	ReasonCode ReasonCode
	Props      Properties
}

func (pkt *PUBCOMP) Kind() byte {
	return 0x7
}

func (pkt *PUBCOMP) String() string {
	return fmt.Sprintf("[0x7]PUBCOMP: PacketID=%d, ReasonCode=%d", pkt.PacketID, pkt.ReasonCode.Code)
}

func (pkt *PUBCOMP) Pack(w io.Writer) error {
	return packAck(w, pkt.FixedHeader, pkt.PacketID, pkt.ReasonCode, pkt.Props)
}

func (pkt *PUBCOMP) Unpack(buf *bytes.Buffer) (err error) {
	pkt.PacketID, pkt.ReasonCode, pkt.Props, err = unpackAck(pkt.FixedHeader, buf)
	return err
}
