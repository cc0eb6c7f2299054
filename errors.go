package mqttc

import (
	"errors"
	"fmt"

	"github.com/golang-io/mqttc/packet"
)

var (
	ErrNotConnected              = errors.New("mqttc: not connected")
	ErrAlreadyConnecting         = errors.New("mqttc: connect already in progress")
	ErrAlreadyConnected          = errors.New("mqttc: already connected")
	ErrDisconnecting             = errors.New("mqttc: disconnect in progress")
	ErrAuthenticationUnsupported = errors.New("mqttc: enhanced authentication is not supported")
	ErrTimeout                   = errors.New("mqttc: timeout")
	ErrStreamClosed              = errors.New("mqttc: stream closed")
	ErrDisconnected              = errors.New("mqttc: disconnected")
)

// ConnectionRefusedError is returned by Connect when CONNACK carries a non-success code.
type ConnectionRefusedError struct {
	Code packet.ReasonCode
}

func (e *ConnectionRefusedError) Error() string {
	return fmt.Sprintf("mqttc: connection refused: 0x%02X %s", e.Code.Code, e.Code.Reason)
}

func (e *ConnectionRefusedError) Unwrap() error { return e.Code }

// UnexpectedPacketError reports a packet kind that is not allowed at this point of a v3.1.1 handshake.
type UnexpectedPacketError struct {
	Kind byte
	Want byte
}

func (e *UnexpectedPacketError) Error() string {
	return fmt.Sprintf("mqttc: unexpected packet %s, want %s", packet.Kind[e.Kind], packet.Kind[e.Want])
}

// ServerDisconnectError carries the reason of a server-initiated DISCONNECT.
type ServerDisconnectError struct {
	Code   packet.ReasonCode
	Reason string // v5 Reason String property, if any
}

func (e *ServerDisconnectError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("mqttc: server disconnected: 0x%02X %s (%s)", e.Code.Code, e.Code.Reason, e.Reason)
	}
	return fmt.Sprintf("mqttc: server disconnected: 0x%02X %s", e.Code.Code, e.Code.Reason)
}

func (e *ServerDisconnectError) Unwrap() error { return e.Code }

// SubscribeError is returned when SUBACK does not grant the subscription.
type SubscribeError struct {
	TopicFilter string
	Code        packet.ReasonCode
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("mqttc: subscribe %q refused: 0x%02X %s", e.TopicFilter, e.Code.Code, e.Code.Reason)
}

func (e *SubscribeError) Unwrap() error { return e.Code }
