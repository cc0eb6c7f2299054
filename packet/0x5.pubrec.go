package packet

import (
	"bytes"
	"fmt"
	"io"
)

// PUBREC 发布收到报文, QoS 2 交付的第一步
//
// MQTT v5.0: 参考章节 3.5 PUBREC - Publish received (QoS 2 delivery part 1)
type PUBREC struct {
	*FixedHeader

	PacketID   uint16
	ReasonCode ReasonCode
	Props      Properties
}

func (pkt *PUBREC) Kind() byte {
	return 0x5
}

func (pkt *PUBREC) String() string {
	return fmt.Sprintf("[0x5]PUBREC: PacketID=%d, ReasonCode=%d", pkt.PacketID, pkt.ReasonCode.Code)
}

func (pkt *PUBREC) Pack(w io.Writer) error {
	return packAck(w, pkt.FixedHeader, pkt.PacketID, pkt.ReasonCode, pkt.Props)
}

func (pkt *PUBREC) Unpack(buf *bytes.Buffer) (err error) {
	pkt.PacketID, pkt.ReasonCode, pkt.Props, err = unpackAck(pkt.FixedHeader, buf)
	return err
}
