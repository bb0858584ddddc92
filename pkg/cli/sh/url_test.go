package sh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestURLKinds(t *testing.T) {
	require.True(t, isURL("tcp://localhost:7070"))
	require.True(t, isURL("mqtt://broker:1883/lab"))
	require.True(t, isURL("serial:///dev/ttyUSB0"))
	require.False(t, isURL("serial://"))
	require.False(t, isURL("dev1"))
	require.True(t, isMQTT("mqtt://broker:1883/lab"))
	require.True(t, isMQTT("mqtts://broker:8883"))
	require.False(t, isMQTT("ws://localhost:8080/ec"))
}
