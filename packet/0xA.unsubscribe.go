package packet

import (
	"bytes"
	"fmt"
	"io"
)

// UNSUBSCRIBE 取消订阅请求报文
//
// MQTT v3.1.1: 参考章节 3.10 UNSUBSCRIBE - Unsubscribe from topics
// MQTT v5.0: 参考章节 3.10 UNSUBSCRIBE - Unsubscribe from topics
//
// 报文结构:
// 固定报头: 报文类型0x0A，标志位必须为DUP=0, QoS=1, RETAIN=0
// 可变报头: 报文标识符、取消订阅属性(v5.0)
// 载荷: 主题过滤器列表, 至少包含一个 [MQTT-3.10.3-2]
type UNSUBSCRIBE struct {
	*FixedHeader

	PacketID uint16

	// Props 取消订阅属性 (v5.0), 只有用户属性
	Props Properties

	// TopicFilters 必须与之前SUBSCRIBE中的过滤器逐字节相同
	TopicFilters []string
}

func (pkt *UNSUBSCRIBE) Kind() byte {
	return 0xA
}

func (pkt *UNSUBSCRIBE) String() string {
	return fmt.Sprintf("[0xA]UNSUBSCRIBE: PacketID=%d, TopicFilters=%v", pkt.PacketID, pkt.TopicFilters)
}

func (pkt *UNSUBSCRIBE) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)
	if len(pkt.TopicFilters) == 0 {
		return ErrProtocolViolationNoFilters
	}
	pkt.QoS = 1
	buf.Write(i2b(pkt.PacketID))
	if pkt.Version == VERSION500 {
		if err := pkt.Props.Encode(buf); err != nil {
			return err
		}
	}
	for _, filter := range pkt.TopicFilters {
		if err := writeString(buf, filter); err != nil {
			return err
		}
	}
	return pkt.FixedHeader.pack(w, buf)
}

func (pkt *UNSUBSCRIBE) Unpack(buf *bytes.Buffer) error {
	var err error
	if pkt.PacketID, err = readUint16(buf); err != nil {
		return err
	}
	if pkt.Version == VERSION500 {
		if pkt.Props, err = UnpackProperties(buf); err != nil {
			return err
		}
	}
	for buf.Len() != 0 {
		filter, err := DecodeString(buf)
		if err != nil {
			return err
		}
		pkt.TopicFilters = append(pkt.TopicFilters, filter)
	}
	if len(pkt.TopicFilters) == 0 {
		return ErrProtocolViolationNoFilters
	}
	return nil
}
