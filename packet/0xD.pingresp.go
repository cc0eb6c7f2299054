package packet

import (
	"bytes"
	"io"
)

// PINGRESP 心跳响应报文
//
// MQTT v3.1.1: 参考章节 3.13 PINGRESP - PING response
// MQTT v5.0: 参考章节 3.13 PINGRESP - PING response
//
// 客户端收到后完成等待中的Ping请求
type PINGRESP struct {
	*FixedHeader `json:"FixedHeader,omitempty"`
}

func (pkt *PINGRESP) Kind() byte {
	return 0xD
}

func (pkt *PINGRESP) Pack(w io.Writer) error {
	pkt.RemainingLength = 0
	return pkt.FixedHeader.Pack(w)
}

func (pkt *PINGRESP) Unpack(buf *bytes.Buffer) error {
	if buf.Len() != 0 {
		return ErrMalformedRemainingLength
	}
	return nil
}
