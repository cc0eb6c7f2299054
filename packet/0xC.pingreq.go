package packet

import (
	"bytes"
	"io"
)

// PINGREQ 心跳请求报文
//
// MQTT v3.1.1: 参考章节 3.12 PINGREQ - PING request
// MQTT v5.0: 参考章节 3.12 PINGREQ - PING request
//
// 只有固定报头, 剩余长度为0, 两个版本格式相同
// 服务端必须响应PINGRESP报文
type PINGREQ struct {
	*FixedHeader `json:"FixedHeader,omitempty"`
}

func (pkt *PINGREQ) Kind() byte {
	return 0xC
}

func (pkt *PINGREQ) Pack(w io.Writer) error {
	pkt.RemainingLength = 0
	return pkt.FixedHeader.Pack(w)
}

func (pkt *PINGREQ) Unpack(buf *bytes.Buffer) error {
	if buf.Len() != 0 {
		return ErrMalformedRemainingLength
	}
	return nil
}
