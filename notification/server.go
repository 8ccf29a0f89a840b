// Package notification publishes a device's outbound notifications: the
// discovery set replayed to every client plus one-shot event and reply
// notifications.
package notification

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/devlink/errors"
	"github.com/c360/devlink/message"
	"github.com/c360/devlink/metric"
	"github.com/c360/devlink/topics"
	"github.com/c360/devlink/transport"
)

// DefaultQoS is the notification topic's transport tuning: reliable
// delivery with unlimited retained history, so late-joining clients
// replay the full discovery set.
var DefaultQoS = transport.QoS{Reliability: transport.Reliable, HistoryDepth: 0}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithQoS overrides the notification topic QoS.
func WithQoS(qos transport.QoS) Option {
	return func(s *Server) {
		s.qos = qos
	}
}

// WithFormat sets the wire encoding of outbound notifications.
func WithFormat(format message.Format) Option {
	return func(s *Server) {
		s.format = format
	}
}

// WithMetrics wires the core metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// Server manages one device's notification topic. Discovery notifications
// added before Start are published, in order, the moment the topic opens;
// they can be replayed at any time with TriggerDiscoveryNotifications.
type Server struct {
	participant transport.Participant
	topic       string
	qos         transport.QoS
	format      message.Format
	logger      *slog.Logger
	metrics     *metric.Metrics

	mu        sync.Mutex
	writer    transport.Writer
	discovery []message.Flexible
	started   bool
}

// NewServer creates a notification server for the device rooted at
// topicRoot. Nothing is published until Start.
func NewServer(participant transport.Participant, topicRoot string, opts ...Option) *Server {
	s := &Server{
		participant: participant,
		topic:       topics.Notification(topicRoot),
		qos:         DefaultQoS,
		format:      message.FormatJSON,
		logger:      slog.Default().With("component", "notification"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Topic returns the notification topic name.
func (s *Server) Topic() string {
	return s.topic
}

// GUID identifies this server instance on the bus.
func (s *Server) GUID() string {
	return s.participant.Name() + "/" + s.topic
}

// AddDiscoveryNotification appends a message to the discovery set. It must
// be called before Start; the set is fixed once the topic is open.
func (s *Server) AddDiscoveryNotification(msg message.Flexible) error {
	if !msg.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidData, "Server", "AddDiscoveryNotification", "validate message")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "AddDiscoveryNotification", "extend discovery set")
	}
	s.discovery = append(s.discovery, msg)
	return nil
}

// DiscoveryCount returns the size of the discovery set.
func (s *Server) DiscoveryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.discovery)
}

// Start opens the notification topic and publishes the discovery set.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "open topic")
	}

	writer, err := s.participant.CreateWriter(ctx, s.topic, s.qos)
	if err != nil {
		return errors.Wrap(err, "Server", "Start", "create writer")
	}
	s.writer = writer
	s.started = true

	if err := s.publishDiscoveryLocked(ctx); err != nil {
		return err
	}

	s.logger.Info("notification server started", "topic", s.topic, "discovery", len(s.discovery))
	return nil
}

// TriggerDiscoveryNotifications republishes the full discovery set, in
// the order it was added.
func (s *Server) TriggerDiscoveryNotifications(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return errors.WrapInvalid(errors.ErrNotInitialized, "Server", "TriggerDiscoveryNotifications", "publish discovery set")
	}
	return s.publishDiscoveryLocked(ctx)
}

func (s *Server) publishDiscoveryLocked(ctx context.Context) error {
	for _, msg := range s.discovery {
		if err := s.writeLocked(ctx, msg); err != nil {
			return errors.Wrap(err, "Server", "publishDiscovery", "write discovery notification")
		}
		if s.metrics != nil {
			s.metrics.RecordDiscoverySent(s.topic)
		}
	}
	return nil
}

// SendNotification publishes a one-shot notification. The server must be
// started.
func (s *Server) SendNotification(ctx context.Context, msg message.Flexible) error {
	if !msg.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidData, "Server", "SendNotification", "validate message")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return errors.WrapInvalid(errors.ErrNotInitialized, "Server", "SendNotification", "publish notification")
	}
	return s.writeLocked(ctx, msg)
}

func (s *Server) writeLocked(ctx context.Context, msg message.Flexible) error {
	data, err := msg.Encode(s.format)
	if err != nil {
		return errors.WrapInvalid(err, "Server", "write", "encode notification")
	}
	return s.writer.Write(ctx, data)
}

// Close releases the writer. The topic's retained history stays available
// to the transport.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			return errors.Wrap(err, "Server", "Close", "close writer")
		}
		s.writer = nil
	}
	s.started = false
	return nil
}
