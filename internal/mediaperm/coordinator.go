// Package mediaperm tracks student requests to turn a mic or camera on or off and relays the
// teacher's decisions. Control messages are advisory: nothing verifies that the student's
// client complies.
package mediaperm

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

// ErrNoPendingRequest is returned when approving or denying an entry that does not exist.
var ErrNoPendingRequest = apperrors.ErrNotFound.WithMessage("No pending media request for that participant and device")

// Entry is a pending request. At most one exists per participant and device.
type Entry struct {
	ParticipantID string           `json:"participant_id"`
	DisplayName   string           `json:"display_name"`
	Device        signaling.Device `json:"device"`
	Desired       bool             `json:"desired"`
	RequestedAt   time.Time        `json:"requested_at"`
}

// LocalMedia applies a control to this client's own devices.
type LocalMedia interface {
	SetEnabled(device signaling.Device, enabled bool) error
}

// Config wires a Coordinator.
type Config struct {
	SelfID        string
	Publisher     coord.Publisher
	Roles         coord.Roles
	Media         LocalMedia
	DedupCapacity int
	Clock         func() time.Time
	SessionID     string
}

type key struct {
	participant string
	device      signaling.Device
}

// Coordinator owns the pending media requests.
type Coordinator struct {
	self      string
	publisher coord.Publisher
	roles     coord.Roles
	media     LocalMedia
	clock     func() time.Time
	seen      *dedup.Cache
	order     *coord.SenderClock
	departed  *coord.Departures
	notify    *coord.Notifier
	log       *zap.Logger

	mu      sync.Mutex
	pending map[key]*Entry
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
		media:     cfg.Media,
		clock:     clock,
		seen:      dedup.New(cfg.DedupCapacity),
		order:     coord.NewSenderClock(),
		departed:  coord.NewDepartures(0),
		notify:    coord.NewNotifier(),
		log:       logger.WithSession("mediaperm", cfg.SessionID),
		pending:   make(map[key]*Entry),
	}
}

// Request asks the teacher to set device to desired for the local participant.
func (c *Coordinator) Request(ctx context.Context, displayName string, device signaling.Device, desired bool) error {
	return c.publisher.PublishTo(ctx, signaling.MediaRequestPayload{
		StudentID:   c.self,
		StudentName: displayName,
		Type:        device,
		Desired:     desired,
	})
}

// Approve sends the requested state to the participant and removes the entry. The entry
// stays removed even when the send fails.
func (c *Coordinator) Approve(ctx context.Context, participantID string, device signaling.Device) error {
	entry, ok := c.take(participantID, device)
	if !ok {
		return ErrNoPendingRequest
	}
	return c.control(ctx, participantID, device, entry.Desired)
}

// Deny removes the entry without telling the participant.
func (c *Coordinator) Deny(participantID string, device signaling.Device) error {
	if _, ok := c.take(participantID, device); !ok {
		return ErrNoPendingRequest
	}
	return nil
}

// Mute turns a participant's device off without a preceding request.
func (c *Coordinator) Mute(ctx context.Context, participantID string, device signaling.Device) error {
	c.take(participantID, device)
	return c.control(ctx, participantID, device, false)
}

func (c *Coordinator) control(ctx context.Context, participantID string, device signaling.Device, enabled bool) error {
	return c.publisher.PublishTo(ctx, signaling.MediaControlPayload{
		TargetID: participantID,
		Type:     device,
		Enabled:  enabled,
	}, participantID)
}

func (c *Coordinator) take(participantID string, device signaling.Device) (Entry, bool) {
	c.mu.Lock()
	k := key{participant: participantID, device: device}
	entry, ok := c.pending[k]
	delete(c.pending, k)
	c.mu.Unlock()

	if !ok {
		return Entry{}, false
	}
	c.notify.Notify()
	return *entry, true
}

// Apply handles one inbound media_request or media_control message and reports whether
// local state changed.
func (c *Coordinator) Apply(msg signaling.Message) bool {
	if c.departed.Has(msg.SenderID) {
		monitoring.RecordSignal(string(msg.Topic), "inbound", "departed")
		return false
	}
	switch msg.Topic {
	case signaling.TopicMediaRequest:
		return c.applyRequest(msg)
	case signaling.TopicMediaControl:
		return c.applyControl(msg)
	default:
		return false
	}
}

func (c *Coordinator) applyRequest(msg signaling.Message) bool {
	payload, err := signaling.Decode[signaling.MediaRequestPayload](msg)
	if err != nil {
		monitoring.RecordSignal(string(msg.Topic), "inbound", "malformed")
		c.log.Debug("dropping malformed media_request", zap.String("sender_id", msg.SenderID), zap.Error(err))
		return false
	}
	if payload.StudentID != msg.SenderID || coord.IsObserver(c.roles, msg.SenderID) {
		return false
	}
	if !c.seen.Observe(dedup.NewKey(msg.SenderID, msg.SentAt, string(msg.Topic), string(payload.Type), boolString(payload.Desired))) {
		monitoring.RecordSignal(string(msg.Topic), "inbound", "duplicate")
		return false
	}
	if !c.order.Accept(coord.Scoped(msg.SenderID, string(payload.Type)), msg.SentAt) {
		return false
	}

	requestedAt := msg.ReceivedAt
	if requestedAt.IsZero() {
		requestedAt = c.clock()
	}
	name := payload.StudentName
	if name == "" {
		name = payload.StudentID
	}

	c.mu.Lock()
	c.pending[key{participant: payload.StudentID, device: payload.Type}] = &Entry{
		ParticipantID: payload.StudentID,
		DisplayName:   name,
		Device:        payload.Type,
		Desired:       payload.Desired,
		RequestedAt:   requestedAt,
	}
	c.mu.Unlock()

	c.notify.Notify()
	return true
}

func (c *Coordinator) applyControl(msg signaling.Message) bool {
	payload, err := signaling.Decode[signaling.MediaControlPayload](msg)
	if err != nil {
		monitoring.RecordSignal(string(msg.Topic), "inbound", "malformed")
		return false
	}
	if payload.TargetID != c.self || !coord.IsTeacher(c.roles, msg.SenderID) {
		return false
	}
	if !c.seen.Observe(dedup.NewKey(msg.SenderID, msg.SentAt, string(msg.Topic), string(payload.Type), boolString(payload.Enabled))) {
		monitoring.RecordSignal(string(msg.Topic), "inbound", "duplicate")
		return false
	}
	if !c.order.Accept(coord.Scoped(msg.SenderID, "control/"+string(payload.Type)), msg.SentAt) {
		return false
	}
	if c.media == nil {
		return false
	}
	if err := c.media.SetEnabled(payload.Type, payload.Enabled); err != nil {
		c.log.Warn("applying media control failed",
			zap.String("device", string(payload.Type)),
			zap.Bool("enabled", payload.Enabled),
			zap.Error(err),
		)
		return false
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
		if cmp := strings.Compare(a.ParticipantID, b.ParticipantID); cmp != 0 {
			return cmp
		}
		return strings.Compare(string(a.Device), string(b.Device))
	})
	return out
}

// Purge drops every pending request of a departed participant. Media signals from the
// participant are ignored until Rejoin.
func (c *Coordinator) Purge(participantID string) {
	c.departed.Mark(participantID)
	c.order.Forget(participantID)

	c.mu.Lock()
	removed := false
	for k := range c.pending {
		if k.participant == participantID {
			delete(c.pending, k)
			removed = true
		}
	}
	c.mu.Unlock()

	if removed {
		c.notify.Notify()
	}
}

// Rejoin accepts media signals from a participant that joined again.
func (c *Coordinator) Rejoin(participantID string) {
	c.departed.Clear(participantID)
}

// Changes fires after the pending set changes.
func (c *Coordinator) Changes() <-chan struct{} {
	return c.notify.C()
}

// Run consumes media messages from both topics and roster leave events.
func (c *Coordinator) Run(ctx context.Context, requests, controls <-chan signaling.Message, events <-chan roster.Event) error {
	return coord.Loop(ctx, coord.Merge(ctx, requests, controls), events, func(msg signaling.Message) { c.Apply(msg) }, c.Purge, c.Rejoin)
}

func boolString(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
