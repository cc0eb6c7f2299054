package packet

import (
	"bytes"
	"encoding/binary"
	"io"
)

const (
	VERSION311 byte = 0x4
	VERSION500 byte = 0x5

	max1 = 0x7F      // 127
	max2 = 0x3FFF    // 16383
	max3 = 0x1FFFFF  // 2097151
	max4 = 0xFFFFFFF // 268435455

	// MaxStringLength UTF-8编码字符串和二进制数据的最大长度(2字节长度前缀)
	MaxStringLength = 0xFFFF

	// MaxRemainingLength 剩余长度的最大值
	MaxRemainingLength = max4
)

// Kind Control packet types. Position: byte 1, bits 7-4
var Kind = map[byte]string{
	0x0: "[0x0]RESERVED",    // Forbidden 					Reserved
	0x1: "[0x1]CONNECT",     // 客户端到服务端 客户端请求连接服务端
	0x2: "[0x2]CONNACK",     // 服务端到客户端 连接报文确认
	0x3: "[0x3]PUBLISH",     // Client to Server or Server to Client Publish message
	0x4: "[0x4]PUBACK",      // Client to Server or Server to Client Publish acknowledgment
	0x5: "[0x5]PUBREC",      // Client to Server or Server to Client Publish received (assured delivery part 1)
	0x6: "[0x6]PUBREL",      // Client to Server or Server to Client Publish release (assured delivery part 2)
	0x7: "[0x7]PUBCOMP",     // Client to Server or Server to Client Publish complete (assured delivery part 3)
	0x8: "[0x8]SUBSCRIBE",   // Client to Server Client subscribe request
	0x9: "[0x9]SUBACK",      // Server to Client Subscribe acknowledgment
	0xA: "[0xA]UNSUBSCRIBE", // Client to Server Unsubscribe request
	0xB: "[0xB]UNSUBACK",    // Server to Client Unsubscribe acknowledgment
	0xC: "[0xC]PINGREQ",     // Client to Server PING request
	0xD: "[0xD]PINGRESP",    // Server to Client PING response
	0xE: "[0xE]DISCONNECT",  // Client to Server Client is disconnecting
	0xF: "[0xF]AUTH",        // MQTT 3-11-1:Forbidden Reserved, MQTT 5.0:AUTH
}

// EncodeVarInt 变长字节整数编码
//
// MQTT v5.0: 参考章节 1.5.5 Variable Byte Integer
// 每个字节低7位为数据, 最高位为延续位; 最多4个字节, 最大值268,435,455
func EncodeVarInt[T ~uint32 | ~int | ~int64](v T) ([]byte, error) {
	var result []byte
	switch {
	case v < 0:
		return nil, ErrMalformedVariableByteInteger
	case v <= max1:
		result = make([]byte, 1)
	case v <= max2:
		result = make([]byte, 2)
	case v <= max3:
		result = make([]byte, 3)
	case v <= max4:
		result = make([]byte, 4)
	default:
		return nil, ErrPacketTooLarge
	}
	for i := range result {
		enc := byte(v % 128)
		v = v / 128
		if v > 0 { // if there are more data to encode, set the top bit of this byte
			enc |= 128
		}
		result[i] = enc
	}
	return result, nil
}

// DecodeVarInt 变长字节整数解码, 返回值和消耗的字节数
//
// 第4个字节仍然带有延续位时返回 ErrMalformedVariableByteInteger, 数据在中途结束时返回 io.ErrUnexpectedEOF
func DecodeVarInt(r io.ByteReader) (uint32, int, error) {
	vbi := uint32(0)
	for i := 0; i < 4; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && i > 0 {
				return 0, i, io.ErrUnexpectedEOF
			}
			return 0, i, err
		}
		vbi |= uint32(b&127) << (7 * i)
		if b&128 == 0 {
			return vbi, i + 1, nil
		}
	}
	return 0, 4, ErrMalformedVariableByteInteger
}

// decodeLength 从读取器解析剩余长度, 读取器没有数据时返回io.EOF
func decodeLength(r io.Reader) (uint32, error) {
	if br, ok := r.(io.ByteReader); ok {
		v, _, err := DecodeVarInt(br)
		return v, err
	}
	v, _, err := DecodeVarInt(&byteReader{r: r})
	return v, err
}

type byteReader struct {
	r io.Reader
	b [1]byte
}

func (br *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(br.r, br.b[:]); err != nil {
		return 0, err
	}
	return br.b[0], nil
}

// EncodeString UTF-8编码字符串: 2字节大端长度 + 内容
//
// MQTT v3.1.1: 参考章节 1.5.3 UTF-8 encoded strings
// MQTT v5.0: 参考章节 1.5.4 UTF-8 Encoded String
func EncodeString[T string | []byte](v T) ([]byte, error) {
	if len(v) > MaxStringLength {
		return nil, ErrMalformedStringTooLong
	}
	b := make([]byte, 2, 2+len(v))
	binary.BigEndian.PutUint16(b, uint16(len(v)))
	return append(b, v...), nil
}

// DecodeString 从缓冲区读取一个长度前缀的字符串
// 声明的长度超过剩余缓冲区时返回 ErrMalformedString
func DecodeString(b *bytes.Buffer) (string, error) {
	v, err := decodeUTF8[string](b)
	return v, err
}

// DecodeBinary 二进制数据, 格式与字符串相同
func DecodeBinary(b *bytes.Buffer) ([]byte, error) {
	return decodeUTF8[[]byte](b)
}

func decodeUTF8[T []byte | string](b *bytes.Buffer) (T, error) {
	if b.Len() < 2 {
		return T(""), ErrMalformedString
	}
	uLength := int(binary.BigEndian.Uint16(b.Next(2)))
	if uLength > b.Len() {
		return T(""), ErrMalformedString
	}
	// bytes.Buffer.Next返回的切片会被后续写入覆盖, 这里必须复制
	return T(bytes.Clone(b.Next(uLength))), nil
}

// s2b insert length into content, caller guarantees len(s) <= MaxStringLength
func s2b[T string | []byte](s T) []byte {
	b := make([]byte, 2, 2+len(s))
	binary.BigEndian.PutUint16(b, uint16(len(s)))
	return append(b, s...)
}

func i2b(i uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, i)
	return b
}

func i4b(i uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, i)
	return b
}

func readUint16(b *bytes.Buffer) (uint16, error) {
	if b.Len() < 2 {
		return 0, ErrMalformedOffsetUintOutOfRange
	}
	return binary.BigEndian.Uint16(b.Next(2)), nil
}

func readUint32(b *bytes.Buffer) (uint32, error) {
	if b.Len() < 4 {
		return 0, ErrMalformedOffsetUintOutOfRange
	}
	return binary.BigEndian.Uint32(b.Next(4)), nil
}

func readByte(b *bytes.Buffer) (byte, error) {
	v, err := b.ReadByte()
	if err != nil {
		return 0, ErrMalformedOffsetByteOutOfRange
	}
	return v, nil
}

// writeString 写入字符串, 超长时返回错误
func writeString[T string | []byte](buf *bytes.Buffer, s T) error {
	if len(s) > MaxStringLength {
		return ErrMalformedStringTooLong
	}
	buf.Write(s2b(s))
	return nil
}
