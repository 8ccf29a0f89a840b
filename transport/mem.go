package transport

import (
	"context"
	"sync"

	"github.com/c360/devlink/errors"
	"github.com/c360/devlink/pkg/queue"
)

// MemBus is a process-local message bus shared by in-memory participants.
// Topics retain history up to their QoS depth and replay it to late-joining
// readers, mirroring the durable-stream behavior of the NATS transport.
// Fault hooks let tests fail topic creation deterministically.
type MemBus struct {
	mu     sync.Mutex
	topics map[string]*memTopic

	// FailCreateWriter, when set, is consulted before every writer
	// creation; a non-nil return aborts it. FailCreateReader does the
	// same for readers.
	FailCreateWriter func(topic string) error
	FailCreateReader func(topic string) error
}

// NewMemBus creates an empty bus.
func NewMemBus() *MemBus {
	return &MemBus{topics: make(map[string]*memTopic)}
}

type memTopic struct {
	name    string
	depth   int // 0 = unlimited
	seq     uint64
	history []Message
	readers []*memReader
}

func (b *MemBus) topic(name string, qos QoS) *memTopic {
	t, ok := b.topics[name]
	if !ok {
		t = &memTopic{name: name, depth: qos.HistoryDepth}
		b.topics[name] = t
	}
	return t
}

// MemParticipant implements Participant over a shared MemBus.
type MemParticipant struct {
	bus  *MemBus
	name string
}

// NewMemParticipant joins the bus under the given origin identity.
func NewMemParticipant(bus *MemBus, name string) *MemParticipant {
	return &MemParticipant{bus: bus, name: name}
}

// Name returns the participant's origin identity.
func (p *MemParticipant) Name() string {
	return p.name
}

// CreateWriter opens a topic for writing.
func (p *MemParticipant) CreateWriter(_ context.Context, topic string, qos QoS) (Writer, error) {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()

	if p.bus.FailCreateWriter != nil {
		if err := p.bus.FailCreateWriter(topic); err != nil {
			return nil, errors.WrapTransient(err, "MemParticipant", "CreateWriter", "open topic")
		}
	}

	return &memWriter{
		bus:    p.bus,
		origin: p.name,
		topic:  p.bus.topic(topic, qos),
	}, nil
}

// CreateReader opens a topic for reading. Retained history is replayed
// into the new reader before it sees live traffic.
func (p *MemParticipant) CreateReader(_ context.Context, topic string, qos QoS, onData func()) (Reader, error) {
	p.bus.mu.Lock()

	if p.bus.FailCreateReader != nil {
		if err := p.bus.FailCreateReader(topic); err != nil {
			p.bus.mu.Unlock()
			return nil, errors.WrapTransient(err, "MemParticipant", "CreateReader", "open topic")
		}
	}

	t := p.bus.topic(topic, qos)
	r := &memReader{
		topic:  t,
		bus:    p.bus,
		inbox:  queue.New[Message](readerInboxCapacity),
		onData: onData,
	}
	t.readers = append(t.readers, r)
	replay := append([]Message(nil), t.history...)
	p.bus.mu.Unlock()

	// Replay outside the bus lock: onData may hand off to a dispatcher
	// whose handler writes back through the bus.
	for _, msg := range replay {
		r.deliver(msg)
	}
	return r, nil
}

type memWriter struct {
	bus    *MemBus
	origin string
	topic  *memTopic
	closed bool
}

func (w *memWriter) Topic() string {
	return w.topic.name
}

func (w *memWriter) Write(_ context.Context, data []byte) error {
	w.bus.mu.Lock()

	if w.closed {
		w.bus.mu.Unlock()
		return errors.WrapInvalid(errors.ErrTopicClosed, "memWriter", "Write", "publish")
	}

	t := w.topic
	t.seq++
	msg := Message{
		Data:   append([]byte(nil), data...),
		Sample: Sample{Origin: w.origin, Sequence: t.seq},
	}

	t.history = append(t.history, msg)
	if t.depth > 0 && len(t.history) > t.depth {
		t.history = t.history[len(t.history)-t.depth:]
	}

	readers := append([]*memReader(nil), t.readers...)
	w.bus.mu.Unlock()

	// Deliver outside the bus lock for the same reason replay does.
	for _, r := range readers {
		r.deliver(msg)
	}
	return nil
}

func (w *memWriter) HasReaders(_ context.Context) (bool, error) {
	w.bus.mu.Lock()
	defer w.bus.mu.Unlock()
	return len(w.topic.readers) > 0, nil
}

func (w *memWriter) Close() error {
	w.bus.mu.Lock()
	defer w.bus.mu.Unlock()
	w.closed = true
	return nil
}

type memReader struct {
	topic  *memTopic
	bus    *MemBus
	inbox  *queue.Queue[Message]
	onData func()
}

func (r *memReader) deliver(msg Message) {
	if err := r.inbox.Push(msg); err != nil {
		return
	}
	if r.onData != nil {
		r.onData()
	}
}

func (r *memReader) Topic() string {
	return r.topic.name
}

func (r *memReader) TakeNext() (Message, bool) {
	return r.inbox.Pop()
}

func (r *memReader) Close() error {
	r.bus.mu.Lock()
	for i, rd := range r.topic.readers {
		if rd == r {
			r.topic.readers = append(r.topic.readers[:i], r.topic.readers[i+1:]...)
			break
		}
	}
	r.bus.mu.Unlock()
	return r.inbox.Close()
}
