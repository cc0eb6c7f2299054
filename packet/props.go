package packet

import (
	"bytes"
	"fmt"
	"sort"
)

// PropertyID MQTT v5.0 属性标识符
// 参考章节: 2.2.2.2 Property
type PropertyID byte

const (
	PropPayloadFormatIndicator   PropertyID = 0x01
	PropMessageExpiryInterval    PropertyID = 0x02
	PropContentType              PropertyID = 0x03
	PropResponseTopic            PropertyID = 0x08
	PropCorrelationData          PropertyID = 0x09
	PropSubscriptionIdentifier   PropertyID = 0x0B
	PropSessionExpiryInterval    PropertyID = 0x11
	PropAssignedClientIdentifier PropertyID = 0x12
	PropServerKeepAlive          PropertyID = 0x13
	PropAuthenticationMethod     PropertyID = 0x15
	PropAuthenticationData       PropertyID = 0x16
	PropRequestProblemInfo       PropertyID = 0x17
	PropWillDelayInterval        PropertyID = 0x18
	PropRequestResponseInfo      PropertyID = 0x19
	PropResponseInformation      PropertyID = 0x1A
	PropServerReference          PropertyID = 0x1C
	PropReasonString             PropertyID = 0x1F
	PropReceiveMaximum           PropertyID = 0x21
	PropTopicAliasMaximum        PropertyID = 0x22
	PropTopicAlias               PropertyID = 0x23
	PropMaximumQoS               PropertyID = 0x24
	PropRetainAvailable          PropertyID = 0x25
	PropUserProperty             PropertyID = 0x26
	PropMaximumPacketSize        PropertyID = 0x27
	PropWildcardSubAvailable     PropertyID = 0x28
	PropSubscriptionIDAvailable  PropertyID = 0x29
	PropSharedSubAvailable       PropertyID = 0x2A
)

// ValueKind 属性值的数据类型
// 参考章节: 1.5 Data representation
type ValueKind byte

const (
	KindByte        ValueKind = iota + 1 // 单字节
	KindTwoByteInt                       // 双字节整数
	KindFourByteInt                      // 四字节整数
	KindString                           // UTF-8编码字符串
	KindBinary                           // 二进制数据
	KindVarInt                           // 变长字节整数, 可重复
	KindStringPair                       // UTF-8字符串对, 可重复
)

func (k ValueKind) String() string {
	switch k {
	case KindByte:
		return "byte"
	case KindTwoByteInt:
		return "uint16"
	case KindFourByteInt:
		return "uint32"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindVarInt:
		return "varint"
	case KindStringPair:
		return "string-pair"
	}
	return "unknown"
}

// propertyKinds 属性标识符到值类型的固定映射
var propertyKinds = map[PropertyID]ValueKind{
	PropPayloadFormatIndicator:   KindByte,
	PropMessageExpiryInterval:    KindFourByteInt,
	PropContentType:              KindString,
	PropResponseTopic:            KindString,
	PropCorrelationData:          KindBinary,
	PropSubscriptionIdentifier:   KindVarInt,
	PropSessionExpiryInterval:    KindFourByteInt,
	PropAssignedClientIdentifier: KindString,
	PropServerKeepAlive:          KindTwoByteInt,
	PropAuthenticationMethod:     KindString,
	PropAuthenticationData:       KindBinary,
	PropRequestProblemInfo:       KindByte,
	PropWillDelayInterval:        KindFourByteInt,
	PropRequestResponseInfo:      KindByte,
	PropResponseInformation:      KindString,
	PropServerReference:          KindString,
	PropReasonString:             KindString,
	PropReceiveMaximum:           KindTwoByteInt,
	PropTopicAliasMaximum:        KindTwoByteInt,
	PropTopicAlias:               KindTwoByteInt,
	PropMaximumQoS:               KindByte,
	PropRetainAvailable:          KindByte,
	PropUserProperty:             KindStringPair,
	PropMaximumPacketSize:        KindFourByteInt,
	PropWildcardSubAvailable:     KindByte,
	PropSubscriptionIDAvailable:  KindByte,
	PropSharedSubAvailable:       KindByte,
}

// Kind 返回属性的值类型, 未知属性返回0
func (id PropertyID) Kind() ValueKind {
	return propertyKinds[id]
}

// StringPair 用户属性的名称/值对
type StringPair struct {
	Name  string
	Value string
}

// Value 属性值, 由 kind 决定哪个字段有效
type Value struct {
	kind  ValueKind
	num   uint32
	str   string
	bin   []byte
	ints  []uint32
	pairs []StringPair
}

func ByteValue(v byte) Value { return Value{kind: KindByte, num: uint32(v)} }
func Uint16Value(v uint16) Value { return Value{kind: KindTwoByteInt, num: uint32(v)} }
func Uint32Value(v uint32) Value { return Value{kind: KindFourByteInt, num: v} }
func StringValue(v string) Value { return Value{kind: KindString, str: v} }
func BinaryValue(v []byte) Value { return Value{kind: KindBinary, bin: v} }
func VarIntValue(v ...uint32) Value { return Value{kind: KindVarInt, ints: v} }
func PairValue(v ...StringPair) Value { return Value{kind: KindStringPair, pairs: v} }
func (v Value) Kind() ValueKind { return v.kind }
func (v Value) VarInts() []uint32 { return v.ints }
func (v Value) Pairs() []StringPair { return v.pairs }
func (v Value) Bytes() []byte { return v.bin }
func (v Value) Str() string { return v.str }
func (v Value) Uint() uint32 { return v.num }

// Properties MQTT v5.0 属性集合
//
// 参考章节: 2.2.2 Properties
// 属性长度(变长字节整数) + 若干(属性标识符 + 属性值)
// 订阅标识符和用户属性可以出现多次, 其余属性最多出现一次
type Properties map[PropertyID]Value

func (p Properties) get(id PropertyID, kind ValueKind) (Value, bool) {
	v, ok := p[id]
	if !ok || v.kind != kind {
		return Value{}, false
	}
	return v, true
}

func (p Properties) GetByte(id PropertyID) (byte, bool) {
	v, ok := p.get(id, KindByte)
	return byte(v.num), ok
}

func (p Properties) GetUint16(id PropertyID) (uint16, bool) {
	v, ok := p.get(id, KindTwoByteInt)
	return uint16(v.num), ok
}

func (p Properties) GetUint32(id PropertyID) (uint32, bool) {
	v, ok := p.get(id, KindFourByteInt)
	return v.num, ok
}

func (p Properties) GetString(id PropertyID) (string, bool) {
	v, ok := p.get(id, KindString)
	return v.str, ok
}

func (p Properties) GetBinary(id PropertyID) ([]byte, bool) {
	v, ok := p.get(id, KindBinary)
	return v.bin, ok
}

func (p Properties) GetVarInts(id PropertyID) []uint32 {
	v, _ := p.get(id, KindVarInt)
	return v.ints
}

func (p Properties) GetPairs(id PropertyID) []StringPair {
	v, _ := p.get(id, KindStringPair)
	return v.pairs
}

// Add 追加可重复属性(订阅标识符/用户属性), 其他属性直接覆盖
func (p Properties) Add(id PropertyID, v Value) {
	old, ok := p[id]
	if !ok || old.kind != v.kind {
		p[id] = v
		return
	}
	switch v.kind {
	case KindVarInt:
		old.ints = append(old.ints, v.ints...)
	case KindStringPair:
		old.pairs = append(old.pairs, v.pairs...)
	default:
		old = v
	}
	p[id] = old
}

// Pack 按属性标识符升序编码属性内容(不含属性长度), 同一个集合每次编码结果相同
func (p Properties) Pack() ([]byte, error) {
	ids := make([]int, 0, len(p))
	for id := range p {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	buf := new(bytes.Buffer)
	for _, i := range ids {
		id := PropertyID(i)
		v := p[id]
		kind := id.Kind()
		if kind == 0 || kind != v.kind {
			return nil, fmt.Errorf("property 0x%02X: want %s, got %s: %w", byte(id), kind, v.kind, ErrMalformedProperties)
		}
		switch kind {
		case KindByte:
			buf.WriteByte(byte(id))
			buf.WriteByte(byte(v.num))
		case KindTwoByteInt:
			buf.WriteByte(byte(id))
			buf.Write(i2b(uint16(v.num)))
		case KindFourByteInt:
			buf.WriteByte(byte(id))
			buf.Write(i4b(v.num))
		case KindString:
			buf.WriteByte(byte(id))
			if err := writeString(buf, v.str); err != nil {
				return nil, err
			}
		case KindBinary:
			buf.WriteByte(byte(id))
			if err := writeString(buf, v.bin); err != nil {
				return nil, err
			}
		case KindVarInt:
			// 每个订阅标识符单独编码一次
			for _, n := range v.ints {
				enc, err := EncodeVarInt(n)
				if err != nil {
					return nil, err
				}
				buf.WriteByte(byte(id))
				buf.Write(enc)
			}
		case KindStringPair:
			for _, pair := range v.pairs {
				buf.WriteByte(byte(id))
				if err := writeString(buf, pair.Name); err != nil {
					return nil, err
				}
				if err := writeString(buf, pair.Value); err != nil {
					return nil, err
				}
			}
		}
	}
	return buf.Bytes(), nil
}

// Encode 编码属性长度和属性内容, nil集合编码为单个0字节
func (p Properties) Encode(buf *bytes.Buffer) error {
	b, err := p.Pack()
	if err != nil {
		return err
	}
	propsLen, err := EncodeVarInt(len(b))
	if err != nil {
		return err
	}
	buf.Write(propsLen)
	buf.Write(b)
	return nil
}

// UnpackProperties 读取属性长度并解析属性块
//
// 未知的属性标识符无法得知其长度, 遇到时丢弃属性块的剩余部分而不是报错
func UnpackProperties(b *bytes.Buffer) (Properties, error) {
	propsLen, _, err := DecodeVarInt(b)
	if err != nil {
		return nil, ErrMalformedProperties
	}
	if int(propsLen) > b.Len() {
		return nil, ErrMalformedProperties
	}
	block := bytes.NewBuffer(b.Next(int(propsLen)))
	props := Properties{}
	for block.Len() > 0 {
		idByte, _ := block.ReadByte()
		id := PropertyID(idByte)
		kind := id.Kind()
		if kind == 0 {
			break
		}
		var v Value
		switch kind {
		case KindByte:
			n, err := readByte(block)
			if err != nil {
				return nil, err
			}
			v = ByteValue(n)
		case KindTwoByteInt:
			n, err := readUint16(block)
			if err != nil {
				return nil, err
			}
			v = Uint16Value(n)
		case KindFourByteInt:
			n, err := readUint32(block)
			if err != nil {
				return nil, err
			}
			v = Uint32Value(n)
		case KindString:
			s, err := DecodeString(block)
			if err != nil {
				return nil, err
			}
			v = StringValue(s)
		case KindBinary:
			s, err := DecodeBinary(block)
			if err != nil {
				return nil, err
			}
			v = BinaryValue(s)
		case KindVarInt:
			n, _, err := DecodeVarInt(block)
			if err != nil {
				return nil, ErrMalformedVariableByteInteger
			}
			v = VarIntValue(n)
		case KindStringPair:
			name, err := DecodeString(block)
			if err != nil {
				return nil, err
			}
			value, err := DecodeString(block)
			if err != nil {
				return nil, err
			}
			v = PairValue(StringPair{Name: name, Value: value})
		}
		props.Add(id, v)
	}
	// 空属性块与 nil 编码相同
	if len(props) == 0 {
		return nil, nil
	}
	return props, nil
}
