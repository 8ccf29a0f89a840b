package topics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/devlink/message"
)

func TestDeviceInfoRoundTrip(t *testing.T) {
	di := DeviceInfo{
		Name:        "Intel RealSense D435",
		Serial:      "0123456789",
		ProductLine: "D400",
		TopicRoot:   "realsense/D435_0123456789",
	}

	parsed, err := DeviceInfoFromMessage(di.ToMessage())
	require.NoError(t, err)
	assert.Equal(t, di, parsed)
}

func TestDeviceInfoRecoveryFlag(t *testing.T) {
	di := DeviceInfo{Name: "dev", TopicRoot: "r/1", Recovery: true}

	m := di.ToMessage()
	parsed, err := DeviceInfoFromMessage(m)
	require.NoError(t, err)
	assert.True(t, parsed.Recovery)

	m["recovery"] = "yes"
	_, err = DeviceInfoFromMessage(m)
	assert.Error(t, err)
}

func TestDeviceInfoRequiresTopicRoot(t *testing.T) {
	_, err := DeviceInfoFromMessage(message.Flexible{"name": "dev"})
	assert.Error(t, err)
}

func TestStoppingMessage(t *testing.T) {
	di := DeviceInfo{Name: "dev", TopicRoot: "r/1"}

	assert.False(t, IsStopping(di.ToMessage()))
	stopping := di.StoppingMessage()
	assert.True(t, IsStopping(stopping))

	parsed, err := DeviceInfoFromMessage(stopping)
	require.NoError(t, err)
	assert.Equal(t, "r/1", parsed.TopicRoot)
}
