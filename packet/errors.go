package packet

import (
	"errors"
	"fmt"
)

/*
================================================================================
MQTT 原因码和返回码
================================================================================

参考文档:
- MQTT v3.1.1: 章节 3.2.2.3 CONNACK Return code
- MQTT v5.0: 章节 2.4 Reason Code, 章节 4.13 Handling errors

同一个字节值在不同报文上下文中含义不同:
- 0x00: CONNACK/PUBACK/... 成功, DISCONNECT 正常断开, SUBACK 授权QoS 0
- 0x01/0x02: SUBACK 授权QoS 1/2, v3.1.1 CONNACK 不支持的协议版本/客户端标识符无效
- 0x04: DISCONNECT 携带遗嘱断开, v3.1.1 CONNACK 用户名或密码错误

Reason(kind, version, code) 按上下文解析具体含义。
================================================================================
*/

// ReasonCode MQTT原因码结构
// 参考: MQTT v5.0 章节 4.13 Handling errors
type ReasonCode struct {
	Code   uint8  // 错误码值
	Reason string // 英文原因描述
}

// Error 实现error接口，返回格式化的错误信息
func (rc ReasonCode) Error() string {
	return fmt.Sprintf("%d:%s", rc.Code, rc.Reason)
}

// IsError 0x80及以上的原因码表示失败
func (rc ReasonCode) IsError() bool {
	return rc.Code >= 0x80
}

// IsGranted SUBACK中0x00-0x02表示订阅成功(授权的最大QoS)
func IsGranted(code uint8) bool {
	return code <= 0x02
}

// IsMalformed 判断错误是否属于格式错误(0x81)
func IsMalformed(err error) bool {
	var rc ReasonCode
	return errors.As(err, &rc) && rc.Code == 0x81
}

var (
	// MQTT v3.1.1 CONNACK 返回码

	Err3UnsupportedProtocolVersion = ReasonCode{Code: 0x01, Reason: "unsupported protocol version"}
	Err3ClientIdentifierNotValid   = ReasonCode{Code: 0x02, Reason: "client identifier not valid"}
	Err3ServerUnavailable          = ReasonCode{Code: 0x03, Reason: "server unavailable"}
	Err3BadUsernameOrPassword      = ReasonCode{Code: 0x04, Reason: "bad username or password"}
	Err3NotAuthorized              = ReasonCode{Code: 0x05, Reason: "not authorized"}

	// MQTT v5.0 成功码

	CodeSuccess                 = ReasonCode{Code: 0x00, Reason: "success"}
	CodeDisconnect              = ReasonCode{Code: 0x00, Reason: "normal disconnection"}
	CodeGrantedQos0             = ReasonCode{Code: 0x00, Reason: "granted qos 0"}
	CodeGrantedQos1             = ReasonCode{Code: 0x01, Reason: "granted qos 1"}
	CodeGrantedQos2             = ReasonCode{Code: 0x02, Reason: "granted qos 2"}
	CodeDisconnectWillMessage   = ReasonCode{Code: 0x04, Reason: "disconnect with will message"}
	CodeNoMatchingSubscribers   = ReasonCode{Code: 0x10, Reason: "no matching subscribers"}
	CodeNoSubscriptionExisted   = ReasonCode{Code: 0x11, Reason: "no subscription existed"}
	CodeContinueAuthentication  = ReasonCode{Code: 0x18, Reason: "continue authentication"}
	CodeReAuthenticate          = ReasonCode{Code: 0x19, Reason: "re-authenticate"}

	// 协议错误码 (0x80-0x82)

	ErrUnspecifiedError = ReasonCode{Code: 0x80, Reason: "unspecified error"}

	// ErrMalformedPacket 格式错误的包, 下面的变体都使用0x81, 用 IsMalformed 统一判断
	ErrMalformedPacket                = ReasonCode{Code: 0x81, Reason: "malformed packet"}
	ErrMalformedProtocolName          = ReasonCode{Code: 0x81, Reason: "malformed packet: protocol name"}
	ErrMalformedProtocolVersion       = ReasonCode{Code: 0x81, Reason: "malformed packet: protocol version"}
	ErrMalformedFlags                 = ReasonCode{Code: 0x81, Reason: "malformed packet: flags"}
	ErrMalformedPacketID              = ReasonCode{Code: 0x81, Reason: "malformed packet: packet identifier"}
	ErrMalformedTopic                 = ReasonCode{Code: 0x81, Reason: "malformed packet: topic"}
	ErrMalformedString                = ReasonCode{Code: 0x81, Reason: "malformed packet: string length exceeds buffer"}
	ErrMalformedStringTooLong         = ReasonCode{Code: 0x81, Reason: "malformed packet: string longer than 65535 bytes"}
	ErrMalformedOffsetUintOutOfRange  = ReasonCode{Code: 0x81, Reason: "malformed packet: offset uint out of range"}
	ErrMalformedOffsetByteOutOfRange  = ReasonCode{Code: 0x81, Reason: "malformed packet: offset byte out of range"}
	ErrMalformedVariableByteInteger   = ReasonCode{Code: 0x81, Reason: "malformed packet: variable byte integer out of range"}
	ErrMalformedProperties            = ReasonCode{Code: 0x81, Reason: "malformed packet: properties"}
	ErrMalformedSessionPresent        = ReasonCode{Code: 0x81, Reason: "malformed packet: session present"}
	ErrMalformedReasonCode            = ReasonCode{Code: 0x81, Reason: "malformed packet: reason code"}
	ErrMalformedRemainingLength       = ReasonCode{Code: 0x81, Reason: "malformed packet: remaining length"}
	ErrMalformedUnknownPacketType     = ReasonCode{Code: 0x81, Reason: "malformed packet: unknown packet type"}

	ErrProtocolErr                    = ReasonCode{Code: 0x82, Reason: "protocol error"}
	ErrProtocolViolationQosOutOfRange = ReasonCode{Code: 0x82, Reason: "protocol violation: qos out of range"}
	ErrProtocolViolationNoTopic       = ReasonCode{Code: 0x82, Reason: "protocol violation: no topic or alias"}
	ErrProtocolViolationNoFilters     = ReasonCode{Code: 0x82, Reason: "protocol violation: must contain at least one filter"}

	// 实现相关和连接拒绝码 (0x83-0x8F)

	ErrImplementationSpecificError = ReasonCode{Code: 0x83, Reason: "implementation specific error"}
	ErrUnsupportedProtocolVersion  = ReasonCode{Code: 0x84, Reason: "unsupported protocol version"}
	ErrClientIdentifierNotValid    = ReasonCode{Code: 0x85, Reason: "client identifier not valid"}
	ErrBadUsernameOrPassword       = ReasonCode{Code: 0x86, Reason: "bad username or password"}
	ErrNotAuthorized               = ReasonCode{Code: 0x87, Reason: "not authorized"}
	ErrServerUnavailable           = ReasonCode{Code: 0x88, Reason: "server unavailable"}
	ErrServerBusy                  = ReasonCode{Code: 0x89, Reason: "server busy"}
	ErrBanned                      = ReasonCode{Code: 0x8A, Reason: "banned"}
	ErrServerShuttingDown          = ReasonCode{Code: 0x8B, Reason: "server shutting down"}
	ErrBadAuthenticationMethod     = ReasonCode{Code: 0x8C, Reason: "bad authentication method"}
	ErrKeepAliveTimeout            = ReasonCode{Code: 0x8D, Reason: "keep alive timeout"}
	ErrSessionTakenOver            = ReasonCode{Code: 0x8E, Reason: "session takeover"}
	ErrTopicFilterInvalid          = ReasonCode{Code: 0x8F, Reason: "topic filter invalid"}

	// 运行时错误码 (0x90-0xA2)

	ErrTopicNameInvalid                    = ReasonCode{Code: 0x90, Reason: "topic name invalid"}
	ErrPacketIdentifierInUse               = ReasonCode{Code: 0x91, Reason: "packet identifier in use"}
	ErrPacketIdentifierNotFound            = ReasonCode{Code: 0x92, Reason: "packet identifier not found"}
	ErrReceiveMaximum                      = ReasonCode{Code: 0x93, Reason: "receive maximum exceeded"}
	ErrTopicAliasInvalid                   = ReasonCode{Code: 0x94, Reason: "topic alias invalid"}
	ErrPacketTooLarge                      = ReasonCode{Code: 0x95, Reason: "packet too large"}
	ErrMessageRateTooHigh                  = ReasonCode{Code: 0x96, Reason: "message rate too high"}
	ErrQuotaExceeded                       = ReasonCode{Code: 0x97, Reason: "quota exceeded"}
	ErrAdministrativeAction                = ReasonCode{Code: 0x98, Reason: "administrative action"}
	ErrPayloadFormatInvalid                = ReasonCode{Code: 0x99, Reason: "payload format invalid"}
	ErrRetainNotSupported                  = ReasonCode{Code: 0x9A, Reason: "retain not supported"}
	ErrQosNotSupported                     = ReasonCode{Code: 0x9B, Reason: "qos not supported"}
	ErrUseAnotherServer                    = ReasonCode{Code: 0x9C, Reason: "use another server"}
	ErrServerMoved                         = ReasonCode{Code: 0x9D, Reason: "server moved"}
	ErrSharedSubscriptionsNotSupported     = ReasonCode{Code: 0x9E, Reason: "shared subscriptions not supported"}
	ErrConnectionRateExceeded              = ReasonCode{Code: 0x9F, Reason: "connection rate exceeded"}
	ErrMaxConnectTime                      = ReasonCode{Code: 0xA0, Reason: "maximum connect time"}
	ErrSubscriptionIdentifiersNotSupported = ReasonCode{Code: 0xA1, Reason: "subscription identifiers not supported"}
	ErrWildcardSubscriptionsNotSupported   = ReasonCode{Code: 0xA2, Reason: "wildcard subscriptions not supported"}
)

// v3 CONNACK 返回码表
var connack3 = map[uint8]ReasonCode{
	0x00: CodeSuccess,
	0x01: Err3UnsupportedProtocolVersion,
	0x02: Err3ClientIdentifierNotValid,
	0x03: Err3ServerUnavailable,
	0x04: Err3BadUsernameOrPassword,
	0x05: Err3NotAuthorized,
}

// v5 通用原因码表, 0x00-0x04 这些有歧义的值由 Reason 按上下文处理
var reasons5 = map[uint8]ReasonCode{}

func init() {
	for _, rc := range []ReasonCode{
		CodeSuccess, CodeNoMatchingSubscribers, CodeNoSubscriptionExisted,
		CodeContinueAuthentication, CodeReAuthenticate,
		ErrUnspecifiedError, ErrMalformedPacket, ErrProtocolErr,
		ErrImplementationSpecificError, ErrUnsupportedProtocolVersion, ErrClientIdentifierNotValid,
		ErrBadUsernameOrPassword, ErrNotAuthorized, ErrServerUnavailable, ErrServerBusy, ErrBanned,
		ErrServerShuttingDown, ErrBadAuthenticationMethod, ErrKeepAliveTimeout, ErrSessionTakenOver,
		ErrTopicFilterInvalid, ErrTopicNameInvalid, ErrPacketIdentifierInUse, ErrPacketIdentifierNotFound,
		ErrReceiveMaximum, ErrTopicAliasInvalid, ErrPacketTooLarge, ErrMessageRateTooHigh, ErrQuotaExceeded,
		ErrAdministrativeAction, ErrPayloadFormatInvalid, ErrRetainNotSupported, ErrQosNotSupported,
		ErrUseAnotherServer, ErrServerMoved, ErrSharedSubscriptionsNotSupported, ErrConnectionRateExceeded,
		ErrMaxConnectTime, ErrSubscriptionIdentifiersNotSupported, ErrWildcardSubscriptionsNotSupported,
	} {
		reasons5[rc.Code] = rc
	}
}

// Reason 按报文类型和协议版本解析原因码的含义
func Reason(kind, version, code uint8) ReasonCode {
	if version != VERSION500 {
		if kind == 0x2 {
			if rc, ok := connack3[code]; ok {
				return rc
			}
		}
		if kind == 0x9 {
			switch code {
			case 0x00:
				return CodeGrantedQos0
			case 0x01:
				return CodeGrantedQos1
			case 0x02:
				return CodeGrantedQos2
			case 0x80:
				return ReasonCode{Code: 0x80, Reason: "failure"}
			}
		}
		return ReasonCode{Code: code, Reason: "unknown return code"}
	}
	switch {
	case kind == 0x9 && code == 0x00:
		return CodeGrantedQos0
	case kind == 0x9 && code == 0x01:
		return CodeGrantedQos1
	case kind == 0x9 && code == 0x02:
		return CodeGrantedQos2
	case kind == 0xE && code == 0x00:
		return CodeDisconnect
	case kind == 0xE && code == 0x04:
		return CodeDisconnectWillMessage
	}
	if rc, ok := reasons5[code]; ok {
		return rc
	}
	return ReasonCode{Code: code, Reason: "unknown reason code"}
}
