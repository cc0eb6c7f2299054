package packet

import (
	"bytes"
	"fmt"
	"io"
)

// FixedHeader contains the values of the fixed header portion of the MQTT pkt.
// Each MQTT Control Packet contains a fixed header.
// Bit 		| 7 | 6 |	5	4	3	2	1	0
// byte1    | MQTT Control Packet type | Flags specific to each MQTT Control Packet type|
// byte2...	|    Remaining Length
type FixedHeader struct {
	Version byte // 这是为了兼容多版本定义的字段!

	// Kind MQTT Control Packet type
	// Position: byte 1, bits 7-4.
	Kind byte `json:"Kind,omitempty"`

	// Dup position: byte 1, bits 3.
	Dup uint8 `json:"Dup,omitempty"`

	// QoS position: byte1, bits 2-1.
	QoS uint8 `json:"QoS,omitempty"`

	// Retain position: byte1, bits 0.
	Retain uint8 `json:"Retain,omitempty"`

	// RemainingLength position: starts at byte 2.
	RemainingLength uint32 `json:"RemainingLength,omitempty"`
}

func (pkt *FixedHeader) String() string {
	return fmt.Sprintf("%s: Len=%d", Kind[pkt.Kind], pkt.RemainingLength)
}

func (pkt *FixedHeader) header() byte {
	return pkt.Kind<<4 | pkt.Dup<<3 | pkt.QoS<<1 | pkt.Retain
}

// Pack 写入固定报头
func (pkt *FixedHeader) Pack(w io.Writer) error {
	enc, err := EncodeVarInt(pkt.RemainingLength)
	if err != nil {
		return err
	}
	_, err = w.Write(append([]byte{pkt.header()}, enc...))
	return err
}

// pack 将固定报头和报文体合并为一次写入, 避免并发写入者的字节交错
func (pkt *FixedHeader) pack(w io.Writer, body *bytes.Buffer) error {
	if body.Len() > MaxRemainingLength {
		return ErrPacketTooLarge
	}
	pkt.RemainingLength = uint32(body.Len())
	enc, err := EncodeVarInt(pkt.RemainingLength)
	if err != nil {
		return err
	}
	out := make([]byte, 0, 1+len(enc)+body.Len())
	out = append(out, pkt.header())
	out = append(out, enc...)
	out = append(out, body.Bytes()...)
	_, err = w.Write(out)
	return err
}

func (pkt *FixedHeader) Unpack(r io.Reader) error {
	b := []uint8{0x00}

	if _, err := io.ReadFull(r, b); err != nil {
		return err
	}
	if err := pkt.setFlags(b[0]); err != nil {
		return err
	}

	var err error
	if pkt.RemainingLength, err = decodeLength(r); err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

func (pkt *FixedHeader) setFlags(b byte) error {
	pkt.Kind = b >> 4
	pkt.Dup = b & 0b00001000 >> 3
	pkt.QoS = b & 0b00000110 >> 1
	pkt.Retain = b & 0b00000001
	// V500: 表格 2.2 中任何标记为“保留”的标志位，都是保留给以后使用的，必须设置为表格中列出的值 [MQTT-2.2.2-1]。
	// 如果收到非法的标志，接收者必须关闭网络连接。有关错误处理的详细信息见 4.8 节 [MQTT-2.2.2-2]。
	switch pkt.Kind {
	case 0x03:
		if pkt.QoS > 2 {
			return ErrProtocolViolationQosOutOfRange
		}
	case 0x06, 0x08, 0x0A:
		if pkt.Dup != 0 || pkt.QoS != 1 || pkt.Retain != 0 {
			return ErrMalformedFlags
		}
	default:
		if pkt.Dup != 0 || pkt.QoS != 0 || pkt.Retain != 0 {
			return ErrMalformedFlags
		}
	}
	return nil
}

// ParseFixedHeader 从部分缓冲区解析固定报头, 不要求报文体已经全部到达
//
// 返回报文类型, 剩余长度和固定报头占用的字节数; 报头本身不完整时返回 io.ErrShortBuffer
func ParseFixedHeader(b []byte) (kind byte, remaining uint32, n int, err error) {
	if len(b) < 2 {
		return 0, 0, 0, io.ErrShortBuffer
	}
	fixed := &FixedHeader{}
	if err = fixed.setFlags(b[0]); err != nil {
		return 0, 0, 0, err
	}
	remaining, n, err = DecodeVarInt(bytes.NewReader(b[1:]))
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return 0, 0, 0, io.ErrShortBuffer
	}
	if err != nil {
		return 0, 0, 0, err
	}
	return fixed.Kind, remaining, n + 1, nil
}
