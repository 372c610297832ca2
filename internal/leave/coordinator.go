// Package leave gates a student's graceful exit on the teacher's approval. An approval only
// asks the student's client to disconnect; removing a participant by force is a separate
// roster operation.
package leave

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
	apperrors "github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/logger"
)

// ErrNoPendingRequest is returned when responding to a participant without a pending request.
var ErrNoPendingRequest = apperrors.ErrNotFound.WithMessage("No pending leave request for that participant")

// Entry is a pending leave request.
type Entry struct {
	ParticipantID string    `json:"participant_id"`
	DisplayName   string    `json:"display_name"`
	RequestedAt   time.Time `json:"requested_at"`
}

// Decision is the teacher's answer to this client's own request.
type Decision struct {
	Approved  bool
	DecidedBy string
	At        time.Time
}

// Config wires a Coordinator.
type Config struct {
	SelfID        string
	Publisher     coord.Publisher
	Roles         coord.Roles
	DedupCapacity int
	Clock         func() time.Time
	SessionID     string
}

// Coordinator owns the pending leave requests.
type Coordinator struct {
	self      string
	publisher coord.Publisher
	roles     coord.Roles
	clock     func() time.Time
	seen      *dedup.Cache
	order     *coord.SenderClock
	departed  *coord.Departures
	notify    *coord.Notifier
	decisions chan Decision
	log       *zap.Logger

	mu      sync.Mutex
	pending map[string]*Entry
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
		decisions: make(chan Decision, 4),
		log:       logger.WithSession("leave", cfg.SessionID),
		pending:   make(map[string]*Entry),
	}
}

// Request asks the teacher to let the local participant leave.
func (c *Coordinator) Request(ctx context.Context, displayName string) error {
	return c.publisher.PublishTo(ctx, signaling.LeaveRequestPayload{
		StudentID:   c.self,
		StudentName: displayName,
	})
}

// Approve tells the participant it may leave and removes the entry.
func (c *Coordinator) Approve(ctx context.Context, participantID string) error {
	return c.respond(ctx, participantID, true)
}

// Deny tells the participant to stay and removes the entry.
func (c *Coordinator) Deny(ctx context.Context, participantID string) error {
	return c.respond(ctx, participantID, false)
}

func (c *Coordinator) respond(ctx context.Context, participantID string, approved bool) error {
	c.mu.Lock()
	_, ok := c.pending[participantID]
	delete(c.pending, participantID)
	c.mu.Unlock()

	if !ok {
		return ErrNoPendingRequest
	}
	c.notify.Notify()

	return c.publisher.PublishTo(ctx, signaling.LeaveControlPayload{
		TargetID: participantID,
		Approved: approved,
	}, participantID)
}

// Apply handles one inbound leave_request or leave_control message and reports whether it
// changed state or produced a decision.
func (c *Coordinator) Apply(msg signaling.Message) bool {
	if c.departed.Has(msg.SenderID) {
		monitoring.RecordSignal(string(msg.Topic), "inbound", "departed")
		return false
	}
	switch msg.Topic {
	case signaling.TopicLeaveRequest:
		return c.applyRequest(msg)
	case signaling.TopicLeaveControl:
		return c.applyControl(msg)
	default:
		return false
	}
}

func (c *Coordinator) applyRequest(msg signaling.Message) bool {
	payload, err := signaling.Decode[signaling.LeaveRequestPayload](msg)
	if err != nil {
		monitoring.RecordSignal(string(msg.Topic), "inbound", "malformed")
		c.log.Debug("dropping malformed leave_request", zap.String("sender_id", msg.SenderID), zap.Error(err))
		return false
	}
	if payload.StudentID != msg.SenderID || coord.IsObserver(c.roles, msg.SenderID) {
		return false
	}
	if !c.seen.Observe(dedup.NewKey(msg.SenderID, msg.SentAt, string(msg.Topic))) {
		monitoring.RecordSignal(string(msg.Topic), "inbound", "duplicate")
		return false
	}
	if !c.order.Accept(msg.SenderID, msg.SentAt) {
		return false
	}

	requestedAt := msg.ReceivedAt
	if requestedAt.IsZero() {
		requestedAt = c.clock()
	}
	name := strings.TrimSpace(payload.StudentName)
	if name == "" {
		name = payload.StudentID
	}

	c.mu.Lock()
	if existing, ok := c.pending[payload.StudentID]; ok {
		existing.DisplayName = name
		c.mu.Unlock()
		return false
	}
	c.pending[payload.StudentID] = &Entry{ParticipantID: payload.StudentID, DisplayName: name, RequestedAt: requestedAt}
	c.mu.Unlock()

	c.notify.Notify()
	return true
}

func (c *Coordinator) applyControl(msg signaling.Message) bool {
	payload, err := signaling.Decode[signaling.LeaveControlPayload](msg)
	if err != nil {
		monitoring.RecordSignal(string(msg.Topic), "inbound", "malformed")
		return false
	}
	if payload.TargetID != c.self || !coord.IsTeacher(c.roles, msg.SenderID) {
		return false
	}
	if !c.seen.Observe(dedup.NewKey(msg.SenderID, msg.SentAt, string(msg.Topic), boolString(payload.Approved))) {
		monitoring.RecordSignal(string(msg.Topic), "inbound", "duplicate")
		return false
	}

	decision := Decision{Approved: payload.Approved, DecidedBy: msg.SenderID, At: c.clock()}
	select {
	case c.decisions <- decision:
	default:
		c.log.Warn("leave decision dropped, consumer is not keeping up")
	}
	return true
}

// Pending lists requests oldest first.
func (c *Coordinator) Pending() []Entry {
	c.mu.Lock()
	out := make([]Entry, 0, len(c.pending))
	for _, entry := range c.pending {
		out = append(out, *entry)
	}
	c.mu.Unlock()

	slices.SortFunc(out, func(a, b Entry) int {
		if cmp := a.RequestedAt.Compare(b.RequestedAt); cmp != 0 {
			return cmp
		}
		return strings.Compare(a.ParticipantID, b.ParticipantID)
	})
	return out
}

// Decisions yields the teacher's answers to this client's own requests.
func (c *Coordinator) Decisions() <-chan Decision {
	return c.decisions
}

// Purge drops the pending request of a departed participant. Leave signals from the
// participant are ignored until Rejoin.
func (c *Coordinator) Purge(participantID string) {
	c.departed.Mark(participantID)
	c.order.Forget(participantID)

	c.mu.Lock()
	_, ok := c.pending[participantID]
	delete(c.pending, participantID)
	c.mu.Unlock()

	if ok {
		c.notify.Notify()
	}
}

// Rejoin accepts leave signals from a participant that joined again.
func (c *Coordinator) Rejoin(participantID string) {
	c.departed.Clear(participantID)
}

// Changes fires after the pending set changes.
func (c *Coordinator) Changes() <-chan struct{} {
	return c.notify.C()
}

// Run consumes leave messages from both topics and roster leave events.
func (c *Coordinator) Run(ctx context.Context, requests, controls <-chan signaling.Message, events <-chan roster.Event) error {
	return coord.Loop(ctx, coord.Merge(ctx, requests, controls), events, func(msg signaling.Message) { c.Apply(msg) }, c.Purge, c.Rejoin)
}

func boolString(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
