package signaling

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

const memoryInboundBuffer = 256

// ErrPeerClosed is returned when sending from a transport that already left the network.
var ErrPeerClosed = errors.New("signaling: peer has left the network")

// MemoryOption customises a MemoryNetwork.
type MemoryOption func(*MemoryNetwork)

// WithDuplicateDelivery delivers every message twice, simulating at-least-once redelivery.
func WithDuplicateDelivery() MemoryOption {
	return func(n *MemoryNetwork) {
		n.duplicate = true
	}
}

// WithMemoryClock stamps deliveries with the supplied clock.
func WithMemoryClock(clock func() time.Time) MemoryOption {
	return func(n *MemoryNetwork) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// MemoryNetwork is an in-process room. Every send loops back to the sender as well,
// matching transports that do not suppress self-delivery.
type MemoryNetwork struct {
	mu        sync.RWMutex
	peers     map[string]*MemoryTransport
	duplicate bool
	clock     func() time.Time
}

// NewMemoryNetwork constructs an empty loopback network.
func NewMemoryNetwork(opts ...MemoryOption) *MemoryNetwork {
	n := &MemoryNetwork{
		peers: make(map[string]*MemoryTransport),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Join attaches a participant to the network. Joining twice returns the existing transport.
func (n *MemoryNetwork) Join(participantID string) *MemoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()

	if peer, ok := n.peers[participantID]; ok {
		return peer
	}
	peer := &MemoryTransport{
		id:      participantID,
		network: n,
		inbound: make(chan Message, memoryInboundBuffer),
	}
	n.peers[participantID] = peer
	return peer
}

// Leave detaches a participant and closes its inbound channel. It is a no-op for unknown ids.
func (n *MemoryNetwork) Leave(participantID string) {
	n.mu.Lock()
	peer, ok := n.peers[participantID]
	delete(n.peers, participantID)
	n.mu.Unlock()

	if ok {
		peer.close()
	}
}

func (n *MemoryNetwork) deliver(from string, out Outbound) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	copies := 1
	if n.duplicate {
		copies = 2
	}
	for id, peer := range n.peers {
		if len(out.To) > 0 && !slices.Contains(out.To, id) && id != from {
			continue
		}
		for i := 0; i < copies; i++ {
			peer.push(Message{
				Topic:      out.Topic,
				SenderID:   from,
				Payload:    slices.Clone(out.Payload),
				SentAt:     out.SentAt,
				ReceivedAt: n.clock(),
			})
		}
	}
}

// MemoryTransport is one participant's end of a MemoryNetwork.
type MemoryTransport struct {
	id      string
	network *MemoryNetwork

	mu      sync.Mutex
	inbound chan Message
	closed  bool
	failErr error
	sent    []Outbound
}

// ID returns the participant identity the network stamps on this transport's sends.
func (t *MemoryTransport) ID() string {
	return t.id
}

// Send delivers out to the addressed peers.
func (t *MemoryTransport) Send(ctx context.Context, out Outbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrPeerClosed
	}
	if t.failErr != nil {
		err := t.failErr
		t.mu.Unlock()
		return err
	}
	t.sent = append(t.sent, out)
	t.mu.Unlock()

	t.network.deliver(t.id, out)
	return nil
}

// Inbound yields messages delivered to this participant.
func (t *MemoryTransport) Inbound() <-chan Message {
	return t.inbound
}

// FailSends makes subsequent sends return err; nil restores normal delivery.
func (t *MemoryTransport) FailSends(err error) {
	t.mu.Lock()
	t.failErr = err
	t.mu.Unlock()
}

// Sent returns a copy of every outbound message accepted by this transport.
func (t *MemoryTransport) Sent() []Outbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.sent)
}

// Inject delivers msg directly to this participant, bypassing the network. Tests use it
// to replay or reorder traffic.
func (t *MemoryTransport) Inject(msg Message) {
	t.push(msg)
}

func (t *MemoryTransport) push(msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	select {
	case t.inbound <- msg:
	default:
	}
}

func (t *MemoryTransport) close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	close(t.inbound)
}
