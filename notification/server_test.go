package notification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/devlink/message"
	"github.com/c360/devlink/topics"
	"github.com/c360/devlink/transport"
)

func discoveryMsg(id string, n int) message.Flexible {
	return message.Flexible{message.KeyID: id, "n": float64(n)}
}

func drainIDs(t *testing.T, reader transport.Reader) []string {
	t.Helper()
	var ids []string
	for {
		msg, ok := reader.TakeNext()
		if !ok {
			return ids
		}
		f, err := message.Decode(msg.Data)
		require.NoError(t, err)
		id, err := f.ID()
		require.NoError(t, err)
		ids = append(ids, id)
	}
}

func TestStartPublishesDiscoverySetInOrder(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemBus()
	s := NewServer(transport.NewMemParticipant(bus, "server"), "acme/dev1")

	require.NoError(t, s.AddDiscoveryNotification(discoveryMsg("device-header", 0)))
	require.NoError(t, s.AddDiscoveryNotification(discoveryMsg("device-options", 1)))
	require.NoError(t, s.AddDiscoveryNotification(discoveryMsg("stream-header", 2)))
	assert.Equal(t, 3, s.DiscoveryCount())

	client := transport.NewMemParticipant(bus, "client")
	reader, err := client.CreateReader(ctx, topics.Notification("acme/dev1"), transport.QoS{}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start(ctx))

	assert.Equal(t, []string{"device-header", "device-options", "stream-header"}, drainIDs(t, reader))
}

func TestLateJoinerSeesFullDiscoverySet(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemBus()
	s := NewServer(transport.NewMemParticipant(bus, "server"), "acme/dev1")

	require.NoError(t, s.AddDiscoveryNotification(discoveryMsg("device-header", 0)))
	require.NoError(t, s.AddDiscoveryNotification(discoveryMsg("device-options", 1)))
	require.NoError(t, s.Start(ctx))

	late := transport.NewMemParticipant(bus, "late")
	reader, err := late.CreateReader(ctx, topics.Notification("acme/dev1"), transport.QoS{}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"device-header", "device-options"}, drainIDs(t, reader))
}

func TestAddDiscoveryAfterStartFails(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemBus()
	s := NewServer(transport.NewMemParticipant(bus, "server"), "acme/dev1")

	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.AddDiscoveryNotification(discoveryMsg("device-header", 0)))
}

func TestTriggerDiscoveryRepublishes(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemBus()
	s := NewServer(transport.NewMemParticipant(bus, "server"), "acme/dev1")

	require.NoError(t, s.AddDiscoveryNotification(discoveryMsg("device-header", 0)))
	require.NoError(t, s.AddDiscoveryNotification(discoveryMsg("device-options", 1)))

	client := transport.NewMemParticipant(bus, "client")
	reader, err := client.CreateReader(ctx, topics.Notification("acme/dev1"), transport.QoS{}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.TriggerDiscoveryNotifications(ctx))

	assert.Equal(t,
		[]string{"device-header", "device-options", "device-header", "device-options"},
		drainIDs(t, reader))
}

func TestSendNotificationRequiresStart(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemBus()
	s := NewServer(transport.NewMemParticipant(bus, "server"), "acme/dev1")

	err := s.SendNotification(ctx, message.Flexible{message.KeyID: "event"})
	assert.Error(t, err)

	require.NoError(t, s.Start(ctx))
	assert.NoError(t, s.SendNotification(ctx, message.Flexible{message.KeyID: "event"}))
}

func TestSendNotificationRejectsEmptyMessage(t *testing.T) {
	ctx := context.Background()
	s := NewServer(transport.NewMemParticipant(transport.NewMemBus(), "server"), "acme/dev1")
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.SendNotification(ctx, message.Flexible{}))
}

func TestDoubleStartFails(t *testing.T) {
	ctx := context.Background()
	s := NewServer(transport.NewMemParticipant(transport.NewMemBus(), "server"), "acme/dev1")
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx))
}

func TestGUID(t *testing.T) {
	s := NewServer(transport.NewMemParticipant(transport.NewMemBus(), "server-7"), "acme/dev1")
	assert.Equal(t, "server-7/acme.dev1.notification", s.GUID())
}
