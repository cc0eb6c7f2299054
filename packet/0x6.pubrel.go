package packet

import (
	"bytes"
	"fmt"
	"io"
)

// PUBREL 发布释放报文, QoS 2 交付的第二步
//
// MQTT v5.0: 参考章节 3.6 PUBREL - Publish release (QoS 2 delivery part 2)
// 固定报头的第 3,2,1,0 位是保留位，必须被设置为 0,0,1,0 [MQTT-3.6.1-1]
type PUBREL struct {
	*FixedHeader

	PacketID   uint16
	ReasonCode ReasonCode
	Props      Properties
}

func (pkt *PUBREL) Kind() byte {
	return 0x6
}

func (pkt *PUBREL) String() string {
	return fmt.Sprintf("[0x6]PUBREL: PacketID=%d, ReasonCode=%d", pkt.PacketID, pkt.ReasonCode.Code)
}

func (pkt *PUBREL) Pack(w io.Writer) error {
	pkt.QoS = 1
	return packAck(w, pkt.FixedHeader, pkt.PacketID, pkt.ReasonCode, pkt.Props)
}

func (pkt *PUBREL) Unpack(buf *bytes.Buffer) (err error) {
	pkt.PacketID, pkt.ReasonCode, pkt.Props, err = unpackAck(pkt.FixedHeader, buf)
	return err
}
