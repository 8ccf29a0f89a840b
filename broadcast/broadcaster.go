// Package broadcast announces a device's presence on the shared
// device-info topic so watchers can discover it, and announces its
// departure when the device shuts down.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/devlink/errors"
	"github.com/c360/devlink/message"
	"github.com/c360/devlink/topics"
	"github.com/c360/devlink/transport"
)

// DefaultQoS keeps every announcement retained so late-joining watchers
// still learn of running devices.
var DefaultQoS = transport.QoS{Reliability: transport.Reliable, HistoryDepth: 0}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithFormat sets the wire encoding of announcements.
func WithFormat(format message.Format) Option {
	return func(b *Broadcaster) {
		b.format = format
	}
}

// WithOnAck registers a callback invoked exactly once, after the
// announcement has been acknowledged by the transport.
func WithOnAck(fn func()) Option {
	return func(b *Broadcaster) {
		b.onAck = fn
	}
}

// Broadcaster announces one device on the shared device-info topic.
type Broadcaster struct {
	participant transport.Participant
	logger      *slog.Logger
	format      message.Format
	onAck       func()

	mu        sync.Mutex
	writer    transport.Writer
	info      topics.DeviceInfo
	broadcast bool
}

// NewBroadcaster creates a broadcaster. Nothing is published until
// Broadcast.
func NewBroadcaster(participant transport.Participant, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		participant: participant,
		logger:      slog.Default().With("component", "broadcast"),
		format:      message.FormatJSON,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Broadcast announces the device. It may be called at most once per
// broadcaster; a second call fails with ErrAlreadyBroadcast. The on-ack
// callback fires after the transport acknowledges the announcement.
func (b *Broadcaster) Broadcast(ctx context.Context, info topics.DeviceInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.broadcast {
		return errors.WrapInvalid(errors.ErrAlreadyBroadcast, "Broadcaster", "Broadcast", "announce device")
	}

	writer, err := b.participant.CreateWriter(ctx, topics.DeviceInfoTopic, DefaultQoS)
	if err != nil {
		return errors.Wrap(err, "Broadcaster", "Broadcast", "create writer")
	}

	data, err := info.ToMessage().Encode(b.format)
	if err != nil {
		writer.Close()
		return errors.WrapInvalid(err, "Broadcaster", "Broadcast", "encode device info")
	}
	if err := writer.Write(ctx, data); err != nil {
		writer.Close()
		return errors.Wrap(err, "Broadcaster", "Broadcast", "publish device info")
	}

	b.writer = writer
	b.info = info
	b.broadcast = true
	b.logger.Info("device broadcast", "name", info.Name, "topic-root", info.TopicRoot)

	// A reliable write returns only after the transport acknowledged it.
	if b.onAck != nil {
		b.onAck()
		b.onAck = nil
	}
	return nil
}

// IsBroadcast reports whether the device has been announced.
func (b *Broadcaster) IsBroadcast() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broadcast
}

// BroadcastDisconnect announces that the device is stopping, waiting at
// most timeout for the transport to accept the message, then releases the
// writer. It is a no-op when the device was never announced.
func (b *Broadcaster) BroadcastDisconnect(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.broadcast || b.writer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	data, err := b.info.StoppingMessage().Encode(b.format)
	if err != nil {
		return errors.WrapInvalid(err, "Broadcaster", "BroadcastDisconnect", "encode stopping message")
	}

	writeErr := b.writer.Write(ctx, data)
	if closeErr := b.writer.Close(); writeErr == nil && closeErr != nil {
		writeErr = closeErr
	}
	b.writer = nil

	if writeErr != nil {
		return errors.Wrap(writeErr, "Broadcaster", "BroadcastDisconnect", "publish stopping message")
	}
	b.logger.Info("device disconnect broadcast", "name", b.info.Name)
	return nil
}
