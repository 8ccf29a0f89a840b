package transport

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/devlink/errors"
	"github.com/c360/devlink/natsclient"
	"github.com/c360/devlink/pkg/queue"
	"github.com/c360/devlink/pkg/retry"
	"github.com/c360/devlink/topics"
)

// OriginHeader carries the writer's participant identity so readers can
// attribute inbound messages. Messages without it fall back to an
// anonymous origin.
const OriginHeader = "Devlink-Origin"

// readerInboxCapacity bounds each reader's undrained inbox. The inbox
// blocks the delivery goroutine when full, back-pressuring the consumer
// rather than dropping acknowledged messages.
const readerInboxCapacity = 256

// NATSParticipant implements Participant over a NATS connection. Each
// topic is backed by a JetStream stream, which provides the retained
// history late joiners replay.
type NATSParticipant struct {
	client *natsclient.Client
	name   string
	logger *slog.Logger
	retry  retry.Config
}

// NATSOption configures a NATSParticipant.
type NATSOption func(*NATSParticipant)

// WithName sets the participant's origin identity (default: random UUID).
func WithName(name string) NATSOption {
	return func(p *NATSParticipant) {
		p.name = name
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) NATSOption {
	return func(p *NATSParticipant) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTopicRetry sets the backoff used when creating streams and consumers.
func WithTopicRetry(cfg retry.Config) NATSOption {
	return func(p *NATSParticipant) {
		p.retry = cfg
	}
}

// NewNATSParticipant wraps a connected client as a transport participant.
func NewNATSParticipant(client *natsclient.Client, opts ...NATSOption) *NATSParticipant {
	p := &NATSParticipant{
		client: client,
		name:   uuid.NewString(),
		logger: slog.Default().With("component", "transport"),
		retry:  retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the participant's origin identity.
func (p *NATSParticipant) Name() string {
	return p.name
}

// ensureStream creates or updates the JetStream stream backing a topic.
func (p *NATSParticipant) ensureStream(ctx context.Context, topic string, qos QoS) (jetstream.Stream, error) {
	js, err := p.client.JetStream()
	if err != nil {
		return nil, err
	}

	maxMsgs := int64(-1)
	if qos.HistoryDepth > 0 {
		maxMsgs = int64(qos.HistoryDepth)
	}
	cfg := jetstream.StreamConfig{
		Name:      topics.StreamName(topic),
		Subjects:  []string{topic},
		Retention: jetstream.LimitsPolicy,
		MaxMsgs:   maxMsgs,
		Discard:   jetstream.DiscardOld,
	}

	return retry.DoWithResult(ctx, p.retry, func() (jetstream.Stream, error) {
		return js.CreateOrUpdateStream(ctx, cfg)
	})
}

// CreateWriter opens a topic for writing.
func (p *NATSParticipant) CreateWriter(ctx context.Context, topic string, qos QoS) (Writer, error) {
	stream, err := p.ensureStream(ctx, topic, qos)
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSParticipant", "CreateWriter", "ensure stream")
	}

	p.logger.Debug("writer created", "topic", topic, "reliability", qos.Reliability.String())
	return &natsWriter{
		participant: p,
		topic:       topic,
		qos:         qos,
		stream:      stream,
	}, nil
}

// CreateReader opens a topic for reading.
func (p *NATSParticipant) CreateReader(ctx context.Context, topic string, qos QoS, onData func()) (Reader, error) {
	stream, err := p.ensureStream(ctx, topic, qos)
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSParticipant", "CreateReader", "ensure stream")
	}

	consumer, err := retry.DoWithResult(ctx, p.retry, func() (jetstream.Consumer, error) {
		return stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
			FilterSubject: topic,
			DeliverPolicy: jetstream.DeliverAllPolicy,
			AckPolicy:     jetstream.AckExplicitPolicy,
		})
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSParticipant", "CreateReader", "create consumer")
	}

	r := &natsReader{
		topic: topic,
		inbox: queue.New[Message](readerInboxCapacity),
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		sample := Sample{Origin: msg.Headers().Get(OriginHeader)}
		if sample.Origin == "" {
			sample.Origin = "anonymous"
		}
		if meta, err := msg.Metadata(); err == nil {
			sample.Sequence = meta.Sequence.Stream
		}

		// Push blocks when the inbox is full; the consumer is
		// back-pressured rather than losing an acknowledged message.
		if err := r.inbox.Push(Message{Data: msg.Data(), Sample: sample}); err != nil {
			return // reader closed
		}
		_ = msg.Ack()

		if onData != nil {
			onData()
		}
	})
	if err != nil {
		r.inbox.Close()
		return nil, errors.WrapTransient(err, "NATSParticipant", "CreateReader", "start consuming")
	}

	r.consume = consumeCtx
	p.logger.Debug("reader created", "topic", topic, "reliability", qos.Reliability.String())
	return r, nil
}

// natsWriter publishes to one JetStream-backed topic.
type natsWriter struct {
	participant *NATSParticipant
	topic       string
	qos         QoS
	stream      jetstream.Stream
}

func (w *natsWriter) Topic() string {
	return w.topic
}

func (w *natsWriter) Write(ctx context.Context, data []byte) error {
	msg := &nats.Msg{
		Subject: w.topic,
		Data:    data,
		Header:  nats.Header{OriginHeader: []string{w.participant.name}},
	}

	if w.qos.Reliability == Reliable {
		js, err := w.participant.client.JetStream()
		if err != nil {
			return errors.WrapTransient(err, "natsWriter", "Write", "get JetStream context")
		}
		if _, err := js.PublishMsg(ctx, msg); err != nil {
			return errors.WrapTransient(err, "natsWriter", "Write", "acknowledged publish")
		}
		return nil
	}

	// Best effort: fire and forget on core NATS. The backing stream still
	// captures the message for its shallow history.
	if err := w.participant.client.PublishMsg(msg); err != nil {
		return errors.WrapTransient(err, "natsWriter", "Write", "publish")
	}
	return nil
}

func (w *natsWriter) HasReaders(ctx context.Context) (bool, error) {
	info, err := w.stream.Info(ctx)
	if err != nil {
		return false, errors.WrapTransient(err, "natsWriter", "HasReaders", "fetch stream info")
	}
	return info.State.Consumers > 0, nil
}

func (w *natsWriter) Close() error {
	return nil
}

// natsReader consumes one JetStream-backed topic into a bounded inbox.
type natsReader struct {
	topic   string
	inbox   *queue.Queue[Message]
	consume jetstream.ConsumeContext
}

func (r *natsReader) Topic() string {
	return r.topic
}

func (r *natsReader) TakeNext() (Message, bool) {
	return r.inbox.Pop()
}

func (r *natsReader) Close() error {
	if r.consume != nil {
		r.consume.Stop()
		r.consume = nil
	}
	return r.inbox.Close()
}
