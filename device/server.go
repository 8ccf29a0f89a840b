package device

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/c360/devlink/broadcast"
	"github.com/c360/devlink/config"
	"github.com/c360/devlink/dispatch"
	"github.com/c360/devlink/errors"
	"github.com/c360/devlink/message"
	"github.com/c360/devlink/metric"
	"github.com/c360/devlink/notification"
	"github.com/c360/devlink/topics"
	"github.com/c360/devlink/transport"
)

// Default transport tuning, overridable from the nested settings paths
// ("device","control"), ("device","metadata"), ("device","notification")
// and ("device","streams").
var (
	DefaultControlQoS  = transport.QoS{Reliability: transport.Reliable, HistoryDepth: 0}
	DefaultMetadataQoS = transport.QoS{Reliability: transport.BestEffort, HistoryDepth: 10}
)

// Collaborator callbacks. All optional; absence falls back to
// cache-local behavior, or to an "invalid control" error for unknown ids.
type (
	// SetOptionFunc applies an option change to the actual device. It runs
	// before the cached value is updated; an error leaves the cache
	// untouched.
	SetOptionFunc func(opt *Option, value float64) error

	// QueryOptionFunc reads an option's authoritative value from the
	// actual device; the cache is resynchronized with the result.
	QueryOptionFunc func(opt *Option) (float64, error)

	// CustomControlFunc handles control ids the core does not recognize.
	// It may fill the reply; returning false declines the control.
	CustomControlFunc func(id string, control message.Flexible, reply message.Flexible) (bool, error)
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics wires the core metrics.
func WithMetrics(m *metric.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithSettings supplies the nested settings structure QoS overrides are
// read from.
func WithSettings(settings config.Settings) ServerOption {
	return func(s *Server) {
		s.settings = settings
	}
}

// WithFormat sets the wire encoding of outbound messages.
func WithFormat(format message.Format) ServerOption {
	return func(s *Server) {
		s.format = format
	}
}

// WithSetOption installs the external set-option callback.
func WithSetOption(fn SetOptionFunc) ServerOption {
	return func(s *Server) {
		s.onSetOption = fn
	}
}

// WithQueryOption installs the external query-option callback.
func WithQueryOption(fn QueryOptionFunc) ServerOption {
	return func(s *Server) {
		s.onQueryOption = fn
	}
}

// WithCustomControl installs the handler for unrecognized control ids.
func WithCustomControl(fn CustomControlFunc) ServerOption {
	return func(s *Server) {
		s.onCustomControl = fn
	}
}

// WithDispatcher customizes the control dispatcher's queue.
func WithDispatcher(capacity int, opts ...dispatch.Option) ServerOption {
	return func(s *Server) {
		s.dispatchCapacity = capacity
		s.dispatchOpts = opts
	}
}

// Server orchestrates one device's control protocol: it owns the
// notification channel, the per-stream topics, the optional metadata
// channel, the broadcast lifecycle, and the serialized control
// dispatcher. Lifecycle: New -> Init -> (Broadcast) -> (BroadcastDisconnect)
// -> Close.
type Server struct {
	participant transport.Participant
	topicRoot   string
	logger      *slog.Logger
	metrics     *metric.Metrics
	settings    config.Settings
	format      message.Format

	onSetOption     SetOptionFunc
	onQueryOption   QueryOptionFunc
	onCustomControl CustomControlFunc

	dispatchCapacity int
	dispatchOpts     []dispatch.Option
	dispatcher       *dispatch.Dispatcher

	// controlReader is accessed atomically, never under mu: onControlData
	// runs on transport delivery goroutines, including synchronous replay
	// of retained controls while Init still holds mu.
	controlReader atomic.Pointer[controlChannel]

	mu             sync.Mutex
	initialized    bool
	notifications  *notification.Server
	streams        map[string]*Stream
	streamOrder    []string
	options        []*Option
	metadataWriter transport.Writer
	broadcaster    *broadcast.Broadcaster
}

// controlChannel boxes the control reader behind the atomic pointer.
type controlChannel struct {
	reader transport.Reader
}

// New constructs a server for the device rooted at topicRoot. The control
// dispatcher starts here; topics are not touched until Init.
func New(participant transport.Participant, topicRoot string, opts ...ServerOption) *Server {
	s := &Server{
		participant:      participant,
		topicRoot:        topicRoot,
		logger:           slog.Default().With("component", "device", "topic-root", topicRoot),
		format:           message.FormatJSON,
		dispatchCapacity: dispatch.DefaultCapacity,
		streams:          make(map[string]*Stream),
	}
	for _, opt := range opts {
		opt(s)
	}

	dispatchOpts := append([]dispatch.Option{dispatch.WithLogger(s.logger)}, s.dispatchOpts...)
	if s.metrics != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithDepthGauge(func(depth int) {
			s.metrics.RecordDispatcherDepth(s.topicRoot, depth)
		}))
	}
	s.dispatcher = dispatch.New(s.dispatchCapacity, dispatchOpts...)

	s.logger.Debug("device server created")
	return s
}

// TopicRoot returns the device's topic-root namespace.
func (s *Server) TopicRoot() string {
	return s.topicRoot
}

// GUID identifies this server on the bus, or "unknown" before Init.
func (s *Server) GUID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notifications == nil {
		return "unknown"
	}
	return s.notifications.GUID()
}

// IsInitialized reports whether Init has succeeded.
func (s *Server) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Init brings the device online: it builds and caches the discovery set,
// opens every stream's data topic, lazily creates the shared metadata
// channel, starts the notification server (publishing the discovery set)
// and wires the control reader. Init is atomic: any failure rolls all of
// that back, leaving the server re-initializable.
func (s *Server) Init(ctx context.Context, streams []*Stream, options []*Option, extrinsics ExtrinsicsMap) error {
	if err := s.init(ctx, streams, options, extrinsics); err != nil {
		return err
	}

	// Controls retained on the control topic are delivered while the
	// reader is being created, before onControlData can see it. Drain
	// them now that it can.
	s.onControlData()
	return nil
}

func (s *Server) init(ctx context.Context, streams []*Stream, options []*Option, extrinsics ExtrinsicsMap) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return errors.WrapInvalid(errors.ErrAlreadyInitialized, "Server", "Init", "initialize device")
	}

	notifications := notification.NewServer(s.participant, s.topicRoot,
		notification.WithLogger(s.logger),
		notification.WithFormat(s.format),
		notification.WithMetrics(s.metrics),
		notification.WithQoS(notification.DefaultQoS.OverrideFromSettings(s.settings.Nested("device", "notification"))),
	)

	// A prior failed Init may have left streams open.
	s.streams = make(map[string]*Stream, len(streams))
	s.streamOrder = nil
	s.options = options

	defer func() {
		if err != nil {
			_ = notifications.Close()
			s.rollbackLocked()
		}
	}()

	if err = notifications.AddDiscoveryNotification(deviceHeaderMessage(len(streams), extrinsics)); err != nil {
		return errors.Wrap(err, "Server", "Init", "cache device header")
	}
	if err = notifications.AddDiscoveryNotification(deviceOptionsMessage(options)); err != nil {
		return errors.Wrap(err, "Server", "Init", "cache device options")
	}

	streamQoS := DefaultStreamQoS.OverrideFromSettings(s.settings.Nested("device", "streams"))
	for _, stream := range streams {
		if _, exists := s.streams[stream.Name]; exists {
			err = errors.WrapInvalid(fmt.Errorf("duplicate stream name %q", stream.Name),
				"Server", "Init", "register stream")
			return err
		}

		if err = stream.Open(ctx, s.participant, s.topicRoot, streamQoS); err != nil {
			return errors.Wrap(err, "Server", "Init", "open stream topic")
		}
		s.streams[stream.Name] = stream
		s.streamOrder = append(s.streamOrder, stream.Name)

		if err = notifications.AddDiscoveryNotification(stream.headerMessage()); err != nil {
			return errors.Wrap(err, "Server", "Init", "cache stream header")
		}
		if err = notifications.AddDiscoveryNotification(stream.optionsMessage()); err != nil {
			return errors.Wrap(err, "Server", "Init", "cache stream options")
		}

		if stream.MetadataEnabled && s.metadataWriter == nil {
			qos := DefaultMetadataQoS.OverrideFromSettings(s.settings.Nested("device", "metadata"))
			s.metadataWriter, err = s.participant.CreateWriter(ctx, topics.Metadata(s.topicRoot), qos)
			if err != nil {
				return errors.Wrap(err, "Server", "Init", "create metadata writer")
			}
		}
	}

	if err = notifications.Start(ctx); err != nil {
		return errors.Wrap(err, "Server", "Init", "start notification server")
	}
	s.notifications = notifications

	controlQoS := DefaultControlQoS.OverrideFromSettings(s.settings.Nested("device", "control"))
	var reader transport.Reader
	reader, err = s.participant.CreateReader(ctx, topics.Control(s.topicRoot), controlQoS, s.onControlData)
	if err != nil {
		return errors.Wrap(err, "Server", "Init", "create control reader")
	}
	s.controlReader.Store(&controlChannel{reader: reader})

	s.initialized = true
	s.logger.Info("device initialized", "streams", len(streams), "options", len(options))
	return nil
}

// rollbackLocked undoes a partial Init. The server ends up exactly as it
// was before the attempt.
func (s *Server) rollbackLocked() {
	if ch := s.controlReader.Swap(nil); ch != nil {
		_ = ch.reader.Close()
	}
	if s.notifications != nil {
		_ = s.notifications.Close()
		s.notifications = nil
	}
	if s.metadataWriter != nil {
		_ = s.metadataWriter.Close()
		s.metadataWriter = nil
	}
	for _, stream := range s.streams {
		_ = stream.Close()
	}
	s.streams = make(map[string]*Stream)
	s.streamOrder = nil
	s.options = nil
	s.logger.Debug("init rolled back")
}

// onControlData drains the control reader on the transport's delivery
// goroutine. It only decodes and enqueues; all handling runs serialized
// on the dispatcher. It must not take s.mu: the transport may invoke it
// synchronously while Init holds the lock.
func (s *Server) onControlData() {
	ch := s.controlReader.Load()
	if ch == nil {
		return
	}

	for {
		msg, ok := ch.reader.TakeNext()
		if !ok {
			return
		}

		control, err := message.Decode(msg.Data)
		if err != nil || !control.IsValid() {
			s.logger.Debug("discarding malformed control", "error", err, "origin", msg.Sample.Origin)
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordControlReceived(s.topicRoot)
		}
		s.logger.Debug("control received", "control", control, "origin", msg.Sample.Origin)

		sample := msg.Sample
		if err := s.dispatcher.Invoke(func(c *dispatch.Control) {
			s.handleControl(c, control, sample)
		}); err != nil {
			s.logger.Debug("control dropped", "error", err)
			return
		}
	}
}

// handleControl runs on the dispatcher goroutine: builds the reply shell,
// routes by id, and publishes the reply. Errors never escape; they become
// error replies. A reply-publish failure is logged and swallowed.
func (s *Server) handleControl(c *dispatch.Control, control message.Flexible, sample transport.Sample) {
	started := time.Now()
	reply := message.Flexible{message.KeySample: sample.Token()}

	id, err := control.ID()
	if err == nil {
		reply[message.KeyID] = id
		reply[message.KeyControl] = map[string]any(control.Clone())

		switch id {
		case message.IDSetOption:
			err = s.handleSetOption(control, reply)
		case message.IDQueryOption:
			err = s.handleQueryOption(control, reply)
		default:
			handled := false
			if s.onCustomControl != nil {
				handled, err = s.onCustomControl(id, control, reply)
			}
			if err == nil && !handled {
				err = errors.ErrInvalidControl
			}
		}
	}

	status := message.StatusOK
	if err != nil {
		reply[message.KeyStatus] = message.StatusError
		reply[message.KeyExplanation] = err.Error()
		status = message.StatusError
	}

	if s.metrics != nil {
		metricID := id
		if metricID == "" {
			metricID = "unknown"
		}
		s.metrics.RecordControlHandled(s.topicRoot, metricID, status)
		s.metrics.RecordHandleDuration(s.topicRoot, metricID, time.Since(started))
	}
	s.logger.Debug("replying", "reply", reply)

	s.mu.Lock()
	notifications := s.notifications
	s.mu.Unlock()
	if notifications == nil {
		return
	}
	if err := notifications.SendNotification(c.Context(), reply); err != nil {
		s.logger.Error("failed to send reply", "error", err)
		if s.metrics != nil {
			s.metrics.RecordReplyFailed(s.topicRoot)
		}
	}
}

// scopeName renders an option scope for error text: "device" or the
// quoted stream name.
func scopeName(streamName string) string {
	if streamName == "" {
		return "device"
	}
	return "'" + streamName + "'"
}

func (s *Server) handleSetOption(control, reply message.Flexible) error {
	name, err := control.StringField(message.KeyOptionName)
	if err != nil {
		return err
	}
	streamName, err := control.OptString(message.KeyStreamName, "")
	if err != nil {
		return err
	}

	opt := s.findOption(name, streamName)
	if opt == nil {
		return fmt.Errorf("%s option '%s' not found", scopeName(streamName), name)
	}

	value, err := control.FloatField(message.KeyValue)
	if err != nil {
		return err
	}

	// Apply to the actual device first; the cache must never reflect a
	// change that failed to take.
	if s.onSetOption != nil {
		if err := s.onSetOption(opt, value); err != nil {
			return err
		}
	}
	opt.Value = value
	reply[message.KeyValue] = value
	return nil
}

func (s *Server) handleQueryOption(control, reply message.Flexible) error {
	streamName, err := control.OptString(message.KeyStreamName, "")
	if err != nil {
		return err
	}

	raw, ok := control.Field(message.KeyOptionName)
	if !ok {
		return fmt.Errorf("field '%s' is missing", message.KeyOptionName)
	}

	switch names := raw.(type) {
	case string:
		value, err := s.queryNamedOption(names, streamName)
		if err != nil {
			return err
		}
		reply[message.KeyValue] = value
		return nil

	case []any:
		if len(names) == 0 {
			values, err := s.queryScope(streamName)
			if err != nil {
				return err
			}
			reply[message.KeyOptionValues] = values
			return nil
		}
		values := make([]any, 0, len(names))
		for _, n := range names {
			name, ok := n.(string)
			if !ok {
				return fmt.Errorf("option name should be a string; got %v", n)
			}
			value, err := s.queryNamedOption(name, streamName)
			if err != nil {
				return err
			}
			values = append(values, value)
		}
		reply[message.KeyValue] = values
		return nil

	default:
		return fmt.Errorf("option name should be a string; got %v", raw)
	}
}

// queryNamedOption resolves one option and returns its (possibly
// resynchronized) value.
func (s *Server) queryNamedOption(name, streamName string) (float64, error) {
	opt := s.findOption(name, streamName)
	if opt == nil {
		return 0, fmt.Errorf("%s option '%s' not found", scopeName(streamName), name)
	}
	return s.queryOption(opt)
}

// queryScope returns every option in the scope mapped to its value. An
// unknown stream yields an empty mapping rather than an error; a query
// callback failure errors the whole call.
func (s *Server) queryScope(streamName string) (map[string]any, error) {
	var options []*Option
	if streamName == "" {
		options = s.options
	} else if stream, ok := s.streams[streamName]; ok {
		options = stream.Options
	}

	out := make(map[string]any, len(options))
	for _, opt := range options {
		value, err := s.queryOption(opt)
		if err != nil {
			return nil, err
		}
		out[opt.Name] = value
	}
	return out, nil
}

// queryOption reads the authoritative value through the external callback
// when one is registered, resynchronizing the cache against drift.
func (s *Server) queryOption(opt *Option) (float64, error) {
	if s.onQueryOption == nil {
		return opt.Value, nil
	}
	value, err := s.onQueryOption(opt)
	if err != nil {
		return 0, err
	}
	opt.Value = value
	return value, nil
}

// findOption resolves a named option. Empty streamName searches device
// options; otherwise the named stream's options, with an unknown stream
// resolving to not-found.
func (s *Server) findOption(name, streamName string) *Option {
	options := s.options
	if streamName != "" {
		stream, ok := s.streams[streamName]
		if !ok {
			return nil
		}
		options = stream.Options
	}
	for _, opt := range options {
		if opt.Name == name {
			return opt
		}
	}
	return nil
}

// Broadcast announces the device on the shared device-info topic. The
// acknowledged announcement triggers a full discovery replay so clients
// that had marked the device offline resynchronize. One-shot: a second
// call is an error.
func (s *Server) Broadcast(ctx context.Context, info topics.DeviceInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.WrapInvalid(errors.ErrNotInitialized, "Server", "Broadcast", "announce device")
	}
	if info.TopicRoot != s.topicRoot {
		return errors.WrapInvalid(
			fmt.Errorf("device-info topic root %q does not match server %q", info.TopicRoot, s.topicRoot),
			"Server", "Broadcast", "validate device info")
	}
	if s.broadcaster != nil {
		return errors.WrapInvalid(errors.ErrAlreadyBroadcast, "Server", "Broadcast", "announce device")
	}

	// The ack callback must not extend the notification server's lifetime:
	// it may fire while the server is being torn down.
	notifications := weak.Make(s.notifications)
	logger := s.logger
	broadcaster := broadcast.NewBroadcaster(s.participant,
		broadcast.WithLogger(s.logger),
		broadcast.WithFormat(s.format),
		broadcast.WithOnAck(func() {
			ns := notifications.Value()
			if ns == nil {
				return
			}
			if err := ns.TriggerDiscoveryNotifications(context.Background()); err != nil {
				logger.Error("discovery replay after broadcast failed", "error", err)
			}
		}),
	)

	if err := broadcaster.Broadcast(ctx, info); err != nil {
		return err
	}
	s.broadcaster = broadcaster
	return nil
}

// BroadcastDisconnect announces the device is stopping, waiting up to
// timeout, and releases the broadcaster. No-op when never broadcast.
func (s *Server) BroadcastDisconnect(timeout time.Duration) error {
	s.mu.Lock()
	broadcaster := s.broadcaster
	s.broadcaster = nil
	s.mu.Unlock()

	if broadcaster == nil {
		return nil
	}
	return broadcaster.BroadcastDisconnect(timeout)
}

// PublishNotification sends a one-shot notification on the device's
// notification topic.
func (s *Server) PublishNotification(ctx context.Context, msg message.Flexible) error {
	s.mu.Lock()
	notifications := s.notifications
	s.mu.Unlock()

	if notifications == nil {
		return errors.WrapInvalid(errors.ErrNotInitialized, "Server", "PublishNotification", "send notification")
	}
	return notifications.SendNotification(ctx, msg)
}

// PublishMetadata publishes one per-frame metadata payload. It errors
// unless some stream was registered with metadata enabled.
func (s *Server) PublishMetadata(ctx context.Context, md message.Flexible) error {
	s.mu.Lock()
	writer := s.metadataWriter
	s.mu.Unlock()

	if writer == nil {
		return errors.WrapInvalid(
			fmt.Errorf("no stream with metadata enabled"),
			"Server", "PublishMetadata", "publish metadata")
	}

	data, err := md.Encode(s.format)
	if err != nil {
		return errors.WrapInvalid(err, "Server", "PublishMetadata", "encode metadata")
	}
	if err := writer.Write(ctx, data); err != nil {
		return errors.Wrap(err, "Server", "PublishMetadata", "publish metadata")
	}
	if s.metrics != nil {
		s.metrics.RecordMetadataPublished(s.topicRoot)
	}
	return nil
}

// HasMetadataReaders reports whether the metadata channel currently has
// any subscriber. False when the channel was never created.
func (s *Server) HasMetadataReaders(ctx context.Context) (bool, error) {
	s.mu.Lock()
	writer := s.metadataWriter
	s.mu.Unlock()

	if writer == nil {
		return false, nil
	}
	return writer.HasReaders(ctx)
}

// Streams returns the registered streams in registration order.
func (s *Server) Streams() []*Stream {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Stream, 0, len(s.streamOrder))
	for _, name := range s.streamOrder {
		out = append(out, s.streams[name])
	}
	return out
}

// Close tears the server down: control intake stops first, the in-flight
// handler finishes, queued controls are discarded, then every topic is
// released.
func (s *Server) Close(timeout time.Duration) error {
	var errs []error
	if ch := s.controlReader.Swap(nil); ch != nil {
		if err := ch.reader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.dispatcher.Stop(timeout); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range s.streamOrder {
		if err := s.streams[name].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.streams = make(map[string]*Stream)
	s.streamOrder = nil

	if s.metadataWriter != nil {
		if err := s.metadataWriter.Close(); err != nil {
			errs = append(errs, err)
		}
		s.metadataWriter = nil
	}
	if s.notifications != nil {
		if err := s.notifications.Close(); err != nil {
			errs = append(errs, err)
		}
		s.notifications = nil
	}
	s.initialized = false
	s.logger.Debug("device server closed")

	if len(errs) > 0 {
		return errors.Wrap(stderrors.Join(errs...), "Server", "Close", "release resources")
	}
	return nil
}
