package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/devlink/errors"
	"github.com/c360/devlink/message"
	"github.com/c360/devlink/topics"
	"github.com/c360/devlink/transport"
)

func testInfo() topics.DeviceInfo {
	return topics.DeviceInfo{
		Name:      "Intel RealSense D435",
		Serial:    "0123456789",
		TopicRoot: "realsense/D435_0123456789",
	}
}

func TestBroadcastAnnouncesAndAcksOnce(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemBus()

	watcher := transport.NewMemParticipant(bus, "watcher")
	reader, err := watcher.CreateReader(ctx, topics.DeviceInfoTopic, transport.QoS{}, nil)
	require.NoError(t, err)

	acks := 0
	b := NewBroadcaster(transport.NewMemParticipant(bus, "server"),
		WithOnAck(func() { acks++ }))

	require.NoError(t, b.Broadcast(ctx, testInfo()))
	assert.Equal(t, 1, acks, "ack callback fires exactly once")
	assert.True(t, b.IsBroadcast())

	msg, ok := reader.TakeNext()
	require.True(t, ok)
	f, err := message.Decode(msg.Data)
	require.NoError(t, err)
	di, err := topics.DeviceInfoFromMessage(f)
	require.NoError(t, err)
	assert.Equal(t, testInfo(), di)
	assert.False(t, topics.IsStopping(f))
}

func TestBroadcastTwiceFails(t *testing.T) {
	ctx := context.Background()
	acks := 0
	b := NewBroadcaster(transport.NewMemParticipant(transport.NewMemBus(), "server"),
		WithOnAck(func() { acks++ }))

	require.NoError(t, b.Broadcast(ctx, testInfo()))
	err := b.Broadcast(ctx, testInfo())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyBroadcast)
	assert.Equal(t, 1, acks)
}

func TestBroadcastDisconnect(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemBus()

	watcher := transport.NewMemParticipant(bus, "watcher")
	reader, err := watcher.CreateReader(ctx, topics.DeviceInfoTopic, transport.QoS{}, nil)
	require.NoError(t, err)

	b := NewBroadcaster(transport.NewMemParticipant(bus, "server"))
	require.NoError(t, b.Broadcast(ctx, testInfo()))
	require.NoError(t, b.BroadcastDisconnect(time.Second))

	// announce
	_, ok := reader.TakeNext()
	require.True(t, ok)

	// stopping
	msg, ok := reader.TakeNext()
	require.True(t, ok)
	f, err := message.Decode(msg.Data)
	require.NoError(t, err)
	assert.True(t, topics.IsStopping(f))

	di, err := topics.DeviceInfoFromMessage(f)
	require.NoError(t, err)
	assert.Equal(t, testInfo().TopicRoot, di.TopicRoot)
}

func TestBroadcastDisconnectWithoutBroadcastIsNoop(t *testing.T) {
	b := NewBroadcaster(transport.NewMemParticipant(transport.NewMemBus(), "server"))
	assert.NoError(t, b.BroadcastDisconnect(time.Second))
}
