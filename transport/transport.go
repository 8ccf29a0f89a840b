// Package transport abstracts the publish/subscribe layer a device server
// runs on. A Participant creates topic writers and readers with explicit
// QoS; the NATS implementation backs each topic with a JetStream stream so
// reliable topics are acknowledged end-to-end and late joiners can replay
// history. An in-memory implementation with exact reader accounting and
// fault injection backs the tests.
package transport

import (
	"context"

	"github.com/c360/devlink/config"
)

// Reliability selects the delivery guarantee of a topic.
type Reliability int

const (
	// BestEffort delivery may drop messages; writes never wait for an ack.
	BestEffort Reliability = iota
	// Reliable delivery is acknowledged; writes fail loudly when the
	// transport cannot durably accept the message.
	Reliable
)

// String returns the reliability name as used in settings overrides.
func (r Reliability) String() string {
	switch r {
	case BestEffort:
		return "best-effort"
	case Reliable:
		return "reliable"
	default:
		return "unknown"
	}
}

// QoS carries per-topic transport tuning. HistoryDepth limits how many
// messages the topic retains for late joiners; zero means unlimited.
type QoS struct {
	Reliability  Reliability
	HistoryDepth int
}

// OverrideFromSettings applies overrides from a nested settings section,
// e.g. settings.Nested("device", "control"). A nil section returns the
// QoS unchanged.
func (q QoS) OverrideFromSettings(s config.Settings) QoS {
	if s == nil {
		return q
	}
	switch s.String("reliability", q.Reliability.String()) {
	case "reliable":
		q.Reliability = Reliable
	case "best-effort":
		q.Reliability = BestEffort
	}
	q.HistoryDepth = s.Int("history-depth", q.HistoryDepth)
	return q
}

// Sample is the provenance token the transport attaches to every inbound
// message: the origin identity of the writer and the topic sequence
// number. The core only echoes it back in replies for client-side
// correlation.
type Sample struct {
	Origin   string
	Sequence uint64
}

// Token renders the sample as the wire form carried in the reply's
// "sample" field.
func (s Sample) Token() []any {
	return []any{s.Origin, s.Sequence}
}

// Message is one inbound payload with its provenance.
type Message struct {
	Data   []byte
	Sample Sample
}

// Writer publishes to one topic.
type Writer interface {
	// Topic returns the topic this writer publishes to.
	Topic() string

	// Write publishes one payload. Reliable writers return an error when
	// the transport did not acknowledge the message.
	Write(ctx context.Context, data []byte) error

	// HasReaders reports whether the topic currently has any subscriber.
	HasReaders(ctx context.Context) (bool, error)

	// Close releases the writer. The topic's retained history survives.
	Close() error
}

// Reader consumes from one topic. Delivered messages accumulate in an
// internal inbox; TakeNext drains it without blocking.
type Reader interface {
	// Topic returns the topic this reader consumes from.
	Topic() string

	// TakeNext removes and returns the next available message. The second
	// result is false when none is currently available.
	TakeNext() (Message, bool)

	// Close stops delivery and releases the reader.
	Close() error
}

// Participant creates writers and readers under one transport identity.
type Participant interface {
	// Name returns the participant's origin identity, attached to every
	// message it writes.
	Name() string

	// CreateWriter opens a topic for writing with the given QoS.
	CreateWriter(ctx context.Context, topic string, qos QoS) (Writer, error)

	// CreateReader opens a topic for reading with the given QoS. onData,
	// when non-nil, is invoked after each delivery; implementations call
	// it from their own delivery goroutine, so it must only hand work off.
	CreateReader(ctx context.Context, topic string, qos QoS, onData func()) (Reader, error)
}
