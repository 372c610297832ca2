package signaling

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/monitoring"
	apperrors "github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/logger"
)

const defaultSubscriberBuffer = 64

// Message is an inbound envelope. SenderID is stamped by the transport and is authoritative;
// SentAt comes from the publishing client; ReceivedAt is the local receipt time.
type Message struct {
	Topic      Topic
	SenderID   string
	Payload    []byte
	SentAt     time.Time
	ReceivedAt time.Time
}

// Outbound is handed to the transport by Publish. An empty To broadcasts to the room.
type Outbound struct {
	Topic   Topic
	Payload []byte
	SentAt  time.Time
	To      []string
}

// Transport is the realtime substrate: it sends byte payloads under a topic and yields
// everything delivered to this participant, possibly including its own sends.
type Transport interface {
	Send(ctx context.Context, out Outbound) error
	Inbound() <-chan Message
}

// Option customises a Bus.
type Option func(*Bus)

// WithClock overrides the clock used to stamp SentAt and ReceivedAt.
func WithClock(clock func() time.Time) Option {
	return func(b *Bus) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithSubscriberBuffer sets the per-subscriber channel capacity.
func WithSubscriberBuffer(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithSessionID tags the bus logs with the session identifier.
func WithSessionID(sessionID string) Option {
	return func(b *Bus) {
		b.log = logger.WithSession("signaling", sessionID)
	}
}

// Bus publishes payloads through a Transport and fans inbound messages out to per-topic
// subscriber channels.
type Bus struct {
	transport  Transport
	clock      func() time.Time
	bufferSize int
	log        *zap.Logger

	mu     sync.RWMutex
	subs   map[Topic][]chan Message
	closed bool
}

// NewBus constructs a bus over the supplied transport.
func NewBus(transport Transport, opts ...Option) *Bus {
	b := &Bus{
		transport:  transport,
		clock:      time.Now,
		bufferSize: defaultSubscriberBuffer,
		log:        logger.WithModule("signaling"),
		subs:       make(map[Topic][]chan Message),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish broadcasts payload to every participant in the room. It is fire-and-forget: a
// failed send is logged and returned as ErrTransport but never retried.
func (b *Bus) Publish(ctx context.Context, payload Payload) error {
	return b.PublishTo(ctx, payload)
}

// PublishTo sends payload to the listed participants only; no targets means everyone.
func (b *Bus) PublishTo(ctx context.Context, payload Payload, targets ...string) error {
	topic := payload.Topic()
	data, err := Encode(payload)
	if err != nil {
		monitoring.RecordSignal(string(topic), "outbound", "invalid")
		return apperrors.NewBadRequest(err.Error())
	}

	out := Outbound{
		Topic:   topic,
		Payload: data,
		SentAt:  b.clock(),
		To:      targets,
	}
	if err := b.transport.Send(ctx, out); err != nil {
		monitoring.RecordSignal(string(topic), "outbound", "failed")
		b.log.Warn("publish failed", zap.String("topic", string(topic)), zap.Error(err))
		return apperrors.ErrTransport.WithInternal(err)
	}
	monitoring.RecordSignal(string(topic), "outbound", "sent")
	return nil
}

// Subscribe returns a channel receiving every inbound message for topic. The channel is
// closed when Run returns.
func (b *Bus) Subscribe(topic Topic) <-chan Message {
	ch := make(chan Message, b.bufferSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// Run dispatches inbound transport messages until ctx is cancelled or the transport
// inbound channel closes. Delivery to subscribers never blocks; a full subscriber loses
// the message.
func (b *Bus) Run(ctx context.Context) error {
	defer b.closeSubscribers()

	inbound := b.transport.Inbound()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			b.dispatch(msg)
		}
	}
}

func (b *Bus) dispatch(msg Message) {
	topic, ok := ParseTopic(string(msg.Topic))
	if !ok {
		monitoring.RecordSignal("unknown", "inbound", "dropped")
		b.log.Debug("dropping message on unknown topic", zap.String("topic", string(msg.Topic)))
		return
	}
	msg.Topic = topic
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = b.clock()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
			monitoring.RecordSignal(string(topic), "inbound", "delivered")
		default:
			monitoring.RecordSignal(string(topic), "inbound", "dropped")
			b.log.Warn("subscriber full, dropping message",
				zap.String("topic", string(topic)),
				zap.String("sender_id", msg.SenderID),
			)
		}
	}
}

func (b *Bus) closeSubscribers() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subs, topic)
	}
}
