// Package mqttc is a client-side MQTT protocol engine for v3.1.1 and v5.0.
//
// A Client owns one broker connection at a time: it dials the transport
// (tcp, tls, ws, wss or quic), negotiates CONNECT/CONNACK with optional
// v5 to v3.1.1 fallback, then runs a single reader loop that correlates
// acknowledgements with waiting requests and routes inbound PUBLISH
// messages through the subscription trie.
package mqttc

// 控制报文类型, 固定报头第1字节 bits 7-4
const (
	CONNECT     byte = 0x1
	CONNACK     byte = 0x2
	PUBLISH     byte = 0x3
	PUBACK      byte = 0x4
	PUBREC      byte = 0x5
	PUBREL      byte = 0x6
	PUBCOMP     byte = 0x7
	SUBSCRIBE   byte = 0x8
	SUBACK      byte = 0x9
	UNSUBSCRIBE byte = 0xA
	UNSUBACK    byte = 0xB
	PINGREQ     byte = 0xC
	PINGRESP    byte = 0xD
	DISCONNECT  byte = 0xE
	AUTH        byte = 0xF
)
