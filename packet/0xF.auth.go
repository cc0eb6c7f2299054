package packet

import (
	"bytes"
	"fmt"
	"io"
)

// AUTH 认证交换报文 (v5.0)
//
// MQTT v5.0: 参考章节 3.15 AUTH - Authentication exchange
// 原因码: 0x00成功, 0x18继续认证, 0x19重新认证
// 属性: 认证方法(0x15)、认证数据(0x16)、原因字符串、用户属性
type AUTH struct {
	*FixedHeader

	ReasonCode ReasonCode
	Props      Properties
}

func (pkt *AUTH) Kind() byte {
	return 0xF
}

func (pkt *AUTH) String() string {
	method, _ := pkt.Props.GetString(PropAuthenticationMethod)
	return fmt.Sprintf("[0xF]AUTH: ReasonCode=%d, Method=%s", pkt.ReasonCode.Code, method)
}

func (pkt *AUTH) Pack(w io.Writer) error {
	buf := GetBuffer()
	defer PutBuffer(buf)

	if pkt.ReasonCode.Code != 0 || len(pkt.Props) != 0 {
		buf.WriteByte(pkt.ReasonCode.Code)
		if err := pkt.Props.Encode(buf); err != nil {
			return err
		}
	}
	return pkt.FixedHeader.pack(w, buf)
}

func (pkt *AUTH) Unpack(buf *bytes.Buffer) error {
	pkt.ReasonCode = CodeSuccess
	if buf.Len() == 0 {
		return nil
	}
	code, _ := buf.ReadByte()
	pkt.ReasonCode = Reason(pkt.Kind(), VERSION500, code)
	var err error
	pkt.Props, err = unpackProps(VERSION500, buf)
	return err
}
