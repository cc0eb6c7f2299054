package packet

import (
	"bytes"
	"fmt"
	"io"
)

// DISCONNECT 断开连接报文
//
// MQTT v3.1.1: 参考章节 3.14 DISCONNECT - Disconnect notification, 只有固定报头
// MQTT v5.0: 参考章节 3.14 DISCONNECT - Disconnect notification
//
// v5.0 可变报头: 原因码、属性; 剩余长度为0时表示原因码0x00(正常断开)且没有属性
// v5.0 中服务端也可以发送DISCONNECT
type DISCONNECT struct {
	*FixedHeader `json:"FixedHeader,omitempty"`

	ReasonCode ReasonCode

	// Props 断开属性 (v5.0), 原因字符串(0x1F)、服务端参考(0x1C)等
	Props Properties
}

func (pkt *DISCONNECT) Kind() byte {
	return 0xE
}

func (pkt *DISCONNECT) String() string {
	return fmt.Sprintf("[0xE]DISCONNECT: ReasonCode=%d", pkt.ReasonCode.Code)
}

func (pkt *DISCONNECT) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	if pkt.Version == VERSION500 {
		buf.WriteByte(pkt.ReasonCode.Code)
		if err := pkt.Props.Encode(buf); err != nil {
			return err
		}
	}
	return pkt.FixedHeader.pack(w, buf)
}

func (pkt *DISCONNECT) Unpack(buf *bytes.Buffer) error {
	pkt.ReasonCode = CodeDisconnect
	if pkt.Version != VERSION500 || buf.Len() == 0 {
		return nil
	}
	code, _ := buf.ReadByte()
	pkt.ReasonCode = Reason(pkt.Kind(), pkt.Version, code)
	var err error
	pkt.Props, err = unpackProps(pkt.Version, buf)
	return err
}
