package packet

import (
	"bytes"
	"fmt"
	"io"
)

// Packet 定义了MQTT控制报文的通用接口
//
// MQTT v3.1.1 (OASIS Standard, 29 October 2014):
// - 参考章节: 2.1 Structure of an MQTT Control Packet
// - 每个MQTT控制报文都包含固定报头和可变报头，某些报文还包含载荷
//
// MQTT v5.0 (OASIS Standard, 7 March 2019):
// - 参考章节: 2.1 Structure of an MQTT Control Packet
// - 在v3.1.1基础上增加了属性(Properties)系统
type Packet interface {
	// Kind 返回报文的类型标识符, 固定报头第1字节的bits 7-4
	Kind() byte

	// Unpack 从缓冲区解析可变报头和载荷, 缓冲区恰好包含剩余长度的字节
	Unpack(*bytes.Buffer) error

	// Pack 将完整报文(固定报头 + 可变报头 + 载荷)一次性写入写入器
	Pack(io.Writer) error
}

// Unpack 从读取器读取一个完整的MQTT控制报文
//
// version: MQTT协议版本，用于确定报文格式和字段
// - v3.1.1: 协议级别4
// - v5.0: 协议级别5
//
// 解析流程:
// 1. 解析固定报头获取报文类型和剩余长度
// 2. 读取恰好剩余长度个字节
// 3. 根据报文类型创建对应的报文结构并解析
func Unpack(version byte, r io.Reader) (Packet, error) {
	fixed := &FixedHeader{Version: version}
	if err := fixed.Unpack(r); err != nil {
		return nil, err
	}
	if fixed.RemainingLength > MaxRemainingLength {
		return nil, ErrMalformedRemainingLength
	}

	body := make([]byte, fixed.RemainingLength)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	pkt, err := New(fixed)
	if err != nil {
		return nil, err
	}
	if err := pkt.Unpack(bytes.NewBuffer(body)); err != nil {
		return nil, fmt.Errorf("%s: %w", Kind[fixed.Kind], err)
	}
	return pkt, nil
}

// New 根据固定报头的报文类型创建对应的报文结构
func New(fixed *FixedHeader) (Packet, error) {
	switch fixed.Kind {
	case 0x1: // CONNECT - 客户端连接请求
		return &CONNECT{FixedHeader: fixed}, nil
	case 0x2: // CONNACK - 连接确认
		return &CONNACK{FixedHeader: fixed}, nil
	case 0x3: // PUBLISH - 发布消息
		return &PUBLISH{FixedHeader: fixed}, nil
	case 0x4: // PUBACK - 发布确认(QoS 1)
		return &PUBACK{FixedHeader: fixed}, nil
	case 0x5: // PUBREC - 发布收到(QoS 2第一步)
		return &PUBREC{FixedHeader: fixed}, nil
	case 0x6: // PUBREL - 发布释放(QoS 2第二步)
		return &PUBREL{FixedHeader: fixed}, nil
	case 0x7: // PUBCOMP - 发布完成(QoS 2第三步)
		return &PUBCOMP{FixedHeader: fixed}, nil
	case 0x8: // SUBSCRIBE - 订阅请求
		return &SUBSCRIBE{FixedHeader: fixed}, nil
	case 0x9: // SUBACK - 订阅确认
		return &SUBACK{FixedHeader: fixed}, nil
	case 0xA: // UNSUBSCRIBE - 取消订阅
		return &UNSUBSCRIBE{FixedHeader: fixed}, nil
	case 0xB: // UNSUBACK - 取消订阅确认
		return &UNSUBACK{FixedHeader: fixed}, nil
	case 0xC: // PINGREQ - 心跳请求
		return &PINGREQ{FixedHeader: fixed}, nil
	case 0xD: // PINGRESP - 心跳响应
		return &PINGRESP{FixedHeader: fixed}, nil
	case 0xE: // DISCONNECT - 断开连接
		return &DISCONNECT{FixedHeader: fixed}, nil
	case 0xF: // AUTH - 认证交换, v3.1.1中为保留值
		if fixed.Version != VERSION500 {
			return nil, ErrMalformedUnknownPacketType
		}
		return &AUTH{FixedHeader: fixed}, nil
	default:
		return nil, ErrMalformedUnknownPacketType
	}
}

// unpackProps v5.0 解析属性块, 缓冲区已经耗尽时视为空属性
func unpackProps(version byte, buf *bytes.Buffer) (Properties, error) {
	if version != VERSION500 || buf.Len() == 0 {
		return nil, nil
	}
	return UnpackProperties(buf)
}
