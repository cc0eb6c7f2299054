package mqttc

import (
	"errors"
	"testing"

	"github.com/golang-io/mqttc/packet"
	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestErrorsUnwrap(t *testing.T) {
	var err error = &ConnectionRefusedError{Code: packet.ErrNotAuthorized}
	assert.True(t, errors.Is(err, packet.ErrNotAuthorized))
	assert.Contains(t, err.Error(), "0x87")

	err = &ServerDisconnectError{Code: packet.ErrServerShuttingDown, Reason: "maintenance"}
	assert.True(t, errors.Is(err, packet.ErrServerShuttingDown))
	assert.Contains(t, err.Error(), "maintenance")

	err = &SubscribeError{TopicFilter: "a/#", Code: packet.ErrNotAuthorized}
	var sub *SubscribeError
	assert.True(t, errors.As(err, &sub))
	assert.Equal(t, "a/#", sub.TopicFilter)

	assert.True(t, fallback(&ConnectionRefusedError{Code: packet.ErrUnsupportedProtocolVersion}))
	assert.True(t, fallback(ErrStreamClosed))
	assert.False(t, fallback(&ConnectionRefusedError{Code: packet.ErrNotAuthorized}))
	assert.False(t, fallback(ErrTimeout))
}
