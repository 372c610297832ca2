// Package handraise keeps the oldest-first queue of raised hands for one session.
package handraise

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/coord"
	"github.com/charlesng35/liveclass/internal/dedup"
	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/internal/roster"
	"github.com/charlesng35/liveclass/internal/signaling"
	"github.com/charlesng35/liveclass/pkg/logger"
)

// Entry is a raised hand. RaisedAt is the local receipt time, never the sender's clock.
type Entry struct {
	ParticipantID string    `json:"participant_id"`
	DisplayName   string    `json:"display_name"`
	RaisedAt      time.Time `json:"raised_at"`
	seq           uint64
}

// Config wires a Coordinator.
type Config struct {
	// SelfID is the local participant; its own raise/lower is applied without waiting for
	// the transport to echo it back.
	SelfID        string
	Publisher     coord.Publisher
	Roles         coord.Roles
	DedupCapacity int
	Clock         func() time.Time
	SessionID     string
}

// Coordinator owns the raised-hand set.
type Coordinator struct {
	self      string
	publisher coord.Publisher
	roles     coord.Roles
	clock     func() time.Time
	seen      *dedup.Cache
	order     *coord.SenderClock
	departed  *coord.Departures
	notify    *coord.Notifier
	log       *zap.Logger

	mu     sync.Mutex
	raised map[string]*Entry
	seq    uint64
}

// New constructs a coordinator.
func New(cfg Config) *Coordinator {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Coordinator{
		self:      cfg.SelfID,
		publisher: cfg.Publisher,
		roles:     cfg.Roles,
		clock:     clock,
		seen:      dedup.New(cfg.DedupCapacity),
		order:     coord.NewSenderClock(),
		departed:  coord.NewDepartures(0),
		notify:    coord.NewNotifier(),
		log:       logger.WithSession("handraise", cfg.SessionID),
		raised:    make(map[string]*Entry),
	}
}

// Raise publishes a raise for the local participant.
func (c *Coordinator) Raise(ctx context.Context, displayName string) error {
	return c.send(ctx, displayName, signaling.ActionRaise)
}

// Lower publishes a lower for the local participant.
func (c *Coordinator) Lower(ctx context.Context, displayName string) error {
	return c.send(ctx, displayName, signaling.ActionLower)
}

func (c *Coordinator) send(ctx context.Context, displayName, action string) error {
	err := c.publisher.PublishTo(ctx, signaling.HandRaisePayload{
		StudentID:   c.self,
		StudentName: displayName,
		Action:      action,
	})
	if err != nil {
		return err
	}
	now := c.clock()
	c.order.Accept(c.self, now)
	if c.set(c.self, displayName, action, now) {
		c.notify.Notify()
	}
	return nil
}

// Apply validates, deduplicates and applies one inbound hand_raise message. It reports
// whether the raised set changed.
func (c *Coordinator) Apply(msg signaling.Message) bool {
	payload, err := signaling.Decode[signaling.HandRaisePayload](msg)
	if err != nil {
		monitoring.RecordSignal(string(msg.Topic), "inbound", "malformed")
		c.log.Debug("dropping malformed hand_raise", zap.String("sender_id", msg.SenderID), zap.Error(err))
		return false
	}
	if payload.StudentID != msg.SenderID || coord.IsObserver(c.roles, msg.SenderID) {
		c.log.Debug("dropping hand_raise not sent by its subject", zap.String("sender_id", msg.SenderID))
		return false
	}
	if c.departed.Has(msg.SenderID) {
		monitoring.RecordSignal(string(msg.Topic), "inbound", "departed")
		return false
	}
	if !c.seen.Observe(dedup.NewKey(msg.SenderID, msg.SentAt, string(msg.Topic), payload.Action)) {
		monitoring.RecordSignal(string(msg.Topic), "inbound", "duplicate")
		return false
	}
	if !c.order.Accept(msg.SenderID, msg.SentAt) {
		return false
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = c.clock()
	}
	changed := c.set(payload.StudentID, payload.StudentName, payload.Action, receivedAt)
	if changed {
		c.notify.Notify()
	}
	return changed
}

func (c *Coordinator) set(id, name, action string, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch action {
	case signaling.ActionRaise:
		if entry, ok := c.raised[id]; ok {
			if name != "" {
				entry.DisplayName = name
			}
			return false
		}
		if strings.TrimSpace(name) == "" {
			name = id
		}
		c.seq++
		c.raised[id] = &Entry{ParticipantID: id, DisplayName: name, RaisedAt: at, seq: c.seq}
		return true
	case signaling.ActionLower:
		if _, ok := c.raised[id]; !ok {
			return false
		}
		delete(c.raised, id)
		return true
	default:
		return false
	}
}

// Hands lists raised hands oldest first.
func (c *Coordinator) Hands() []Entry {
	c.mu.Lock()
	out := make([]Entry, 0, len(c.raised))
	for _, entry := range c.raised {
		out = append(out, *entry)
	}
	c.mu.Unlock()

	slices.SortFunc(out, func(a, b Entry) int {
		if cmp := a.RaisedAt.Compare(b.RaisedAt); cmp != 0 {
			return cmp
		}
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	return out
}

// IsRaised reports whether id currently has a raised hand.
func (c *Coordinator) IsRaised(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.raised[id]
	return ok
}

// Dismiss lowers id locally without signalling the participant.
func (c *Coordinator) Dismiss(id string) bool {
	c.mu.Lock()
	_, ok := c.raised[id]
	delete(c.raised, id)
	c.mu.Unlock()

	if ok {
		c.notify.Notify()
	}
	return ok
}

// DismissAll lowers every hand locally and returns how many were cleared.
func (c *Coordinator) DismissAll() int {
	c.mu.Lock()
	n := len(c.raised)
	clear(c.raised)
	c.mu.Unlock()

	if n > 0 {
		c.notify.Notify()
	}
	return n
}

// Purge forgets everything about a departed participant. Hand signals from id are ignored
// until Rejoin.
func (c *Coordinator) Purge(id string) {
	c.departed.Mark(id)
	c.order.Forget(id)
	if c.Dismiss(id) {
		c.log.Debug("purged raised hand", zap.String("participant_id", id))
	}
}

// Rejoin accepts hand signals from a participant that joined again.
func (c *Coordinator) Rejoin(id string) {
	c.departed.Clear(id)
}

// Changes fires after the raised set changes.
func (c *Coordinator) Changes() <-chan struct{} {
	return c.notify.C()
}

// Run consumes hand_raise messages and roster leave events until ctx ends or msgs closes.
func (c *Coordinator) Run(ctx context.Context, msgs <-chan signaling.Message, events <-chan roster.Event) error {
	return coord.Loop(ctx, msgs, events, func(msg signaling.Message) { c.Apply(msg) }, c.Purge, c.Rejoin)
}
