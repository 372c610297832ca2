// Package classroom ties the coordination components of one live session into a single
// per-participant controller.
package classroom

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/chat"
	"github.com/charlesng35/liveclass/internal/coord"
	"github.com/charlesng35/liveclass/internal/handraise"
	"github.com/charlesng35/liveclass/internal/leave"
	"github.com/charlesng35/liveclass/internal/lifecycle"
	"github.com/charlesng35/liveclass/internal/mediaperm"
	"github.com/charlesng35/liveclass/internal/moderation"
	"github.com/charlesng35/liveclass/internal/policy"
	"github.com/charlesng35/liveclass/internal/roster"
	"github.com/charlesng35/liveclass/internal/signaling"
	apperrors "github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/logger"
)

const (
	tickInterval = time.Second
	eventBuffer  = 256
)

// Session is the scheduling record the controller starts from.
type Session struct {
	ID                string
	OwnerID           string
	Schedule          lifecycle.Schedule
	Status            lifecycle.Status
	LiveSince         time.Time
	MaxSessionsPerDay int
}

// Self is the local participant.
type Self struct {
	ID          string
	DisplayName string
	Role        roster.Role
}

// Credentials grant access to a session room.
type Credentials struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RoomService is the room-management backend.
type RoomService interface {
	StartSession(ctx context.Context, sessionID string) (Credentials, error)
	GoLive(ctx context.Context, sessionID string) error
	EndSession(ctx context.Context, sessionID string) error
	RemoveParticipant(ctx context.Context, sessionID, participantID string) error
}

// Scheduler reports how many sessions a teacher has taken live on a given day.
type Scheduler interface {
	LiveSessionsOn(ctx context.Context, teacherID string, day time.Time) (int, error)
}

// Disconnector drops the local participant's transport connection.
type Disconnector interface {
	Disconnect(ctx context.Context) error
}

// Authorizer decides whether the local participant may perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, input policy.Input) error
}

// Bus is the signaling surface the controller needs.
type Bus interface {
	coord.Publisher
	Subscribe(topic signaling.Topic) <-chan signaling.Message
	Run(ctx context.Context) error
}

// Config wires a Controller.
type Config struct {
	Session Session
	Self    Self

	Bus           Bus
	Roster        *roster.Manager
	RosterUpdates <-chan roster.Update
	Rooms         RoomService
	Scheduler     Scheduler
	Reporter      moderation.Reporter
	Media         mediaperm.LocalMedia
	Disconnect    Disconnector
	Policy        Authorizer

	DedupCapacity    int
	WarningThreshold time.Duration
	ChatMaxLength    int
	NoticeTTL        time.Duration
	Clock            func() time.Time
}

// Controller is the single logical actor for one participant in one session.
type Controller struct {
	session Session
	self    Self
	clock   func() time.Time
	log     *zap.Logger

	bus        Bus
	roster     *roster.Manager
	updates    <-chan roster.Update
	rooms      RoomService
	scheduler  Scheduler
	disconnect Disconnector
	policy     Authorizer

	engine *lifecycle.Engine
	hands  *handraise.Coordinator
	media  *mediaperm.Coordinator
	leave  *leave.Coordinator
	chat   *chat.Log

	handMsgs, mediaRequests, mediaControls, leaveRequests, leaveControls, chatMsgs <-chan signaling.Message
	handLeft, mediaLeft, leaveLeft, rosterEvents                                   <-chan roster.Event

	events chan Event
}

// New builds a controller and subscribes it to the bus and roster. Subscriptions are taken
// here so nothing published before Run is lost.
func New(cfg Config) (*Controller, error) {
	if cfg.Session.ID == "" {
		return nil, apperrors.NewBadRequest("session id is required")
	}
	if cfg.Self.ID == "" {
		return nil, apperrors.NewBadRequest("participant id is required")
	}
	if cfg.Bus == nil {
		return nil, apperrors.NewBadRequest("signaling bus is required")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	authz := cfg.Policy
	if authz == nil {
		engine, err := policy.NewEngine(context.Background(), "")
		if err != nil {
			return nil, err
		}
		authz = engine
	}
	rost := cfg.Roster
	if rost == nil {
		rost = roster.NewManager(roster.WithClock(clock), roster.WithSessionID(cfg.Session.ID))
	}

	opts := []lifecycle.Option{lifecycle.WithStatus(cfg.Session.Status)}
	if cfg.WarningThreshold > 0 {
		opts = append(opts, lifecycle.WithWarningThreshold(cfg.WarningThreshold))
	}
	if !cfg.Session.LiveSince.IsZero() {
		opts = append(opts, lifecycle.WithLiveSince(cfg.Session.LiveSince))
	}

	c := &Controller{
		session:    cfg.Session,
		self:       cfg.Self,
		clock:      clock,
		log:        logger.WithSession("classroom", cfg.Session.ID),
		bus:        cfg.Bus,
		roster:     rost,
		updates:    cfg.RosterUpdates,
		rooms:      cfg.Rooms,
		scheduler:  cfg.Scheduler,
		disconnect: cfg.Disconnect,
		policy:     authz,
		engine:     lifecycle.NewEngine(cfg.Session.Schedule, opts...),
		events:     make(chan Event, eventBuffer),
	}

	c.hands = handraise.New(handraise.Config{
		SelfID:        cfg.Self.ID,
		Publisher:     cfg.Bus,
		Roles:         rost,
		DedupCapacity: cfg.DedupCapacity,
		Clock:         clock,
		SessionID:     cfg.Session.ID,
	})
	c.media = mediaperm.New(mediaperm.Config{
		SelfID:        cfg.Self.ID,
		Publisher:     cfg.Bus,
		Roles:         rost,
		Media:         appliedMedia{next: cfg.Media, c: c},
		DedupCapacity: cfg.DedupCapacity,
		Clock:         clock,
		SessionID:     cfg.Session.ID,
	})
	c.leave = leave.New(leave.Config{
		SelfID:        cfg.Self.ID,
		Publisher:     cfg.Bus,
		Roles:         rost,
		DedupCapacity: cfg.DedupCapacity,
		Clock:         clock,
		SessionID:     cfg.Session.ID,
	})
	c.chat = chat.New(chat.Config{
		SelfID:        cfg.Self.ID,
		DisplayName:   cfg.Self.DisplayName,
		Role:          cfg.Self.Role,
		Publisher:     cfg.Bus,
		Roles:         rost,
		Reporter:      cfg.Reporter,
		DedupCapacity: cfg.DedupCapacity,
		MaxLength:     cfg.ChatMaxLength,
		NoticeTTL:     cfg.NoticeTTL,
		Clock:         clock,
		SessionID:     cfg.Session.ID,
	})

	c.handMsgs = cfg.Bus.Subscribe(signaling.TopicHandRaise)
	c.mediaRequests = cfg.Bus.Subscribe(signaling.TopicMediaRequest)
	c.mediaControls = cfg.Bus.Subscribe(signaling.TopicMediaControl)
	c.leaveRequests = cfg.Bus.Subscribe(signaling.TopicLeaveRequest)
	c.leaveControls = cfg.Bus.Subscribe(signaling.TopicLeaveControl)
	c.chatMsgs = cfg.Bus.Subscribe(signaling.TopicChat)

	c.handLeft = rost.Subscribe()
	c.mediaLeft = rost.Subscribe()
	c.leaveLeft = rost.Subscribe()
	c.rosterEvents = rost.Subscribe()
	return c, nil
}

// Run drives the controller until ctx is cancelled: the signaling dispatch loop, one consumer
// loop per coordinator, roster updates and a one-second lifecycle tick.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  error
	)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				c.log.Warn("classroom loop stopped", zap.String("loop", name), zap.Error(err))
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
		}()
	}

	spawn("bus", c.bus.Run)
	if c.updates != nil {
		spawn("roster", func(ctx context.Context) error { return c.roster.Run(ctx, c.updates) })
	}
	spawn("hands", func(ctx context.Context) error { return c.hands.Run(ctx, c.handMsgs, c.handLeft) })
	spawn("media", func(ctx context.Context) error {
		return c.media.Run(ctx, c.mediaRequests, c.mediaControls, c.mediaLeft)
	})
	spawn("leave", func(ctx context.Context) error {
		return c.leave.Run(ctx, c.leaveRequests, c.leaveControls, c.leaveLeft)
	})
	spawn("chat", func(ctx context.Context) error { return c.chat.Run(ctx, c.chatMsgs) })
	spawn("notify", c.forwardChanges)
	spawn("decisions", c.handleDecisions)

	c.Tick(ctx, c.clock())
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cancel()
			wg.Wait()
			c.chat.Close()
			return errs
		case <-ticker.C:
			c.Tick(ctx, c.clock())
		}
	}
}

// Tick recomputes the lifecycle for now. Expiry force-terminates the session; the owning
// teacher also ends the room for everyone.
func (c *Controller) Tick(ctx context.Context, now time.Time) {
	for _, evt := range c.engine.Tick(now) {
		switch evt.Kind {
		case lifecycle.EventWarning:
			c.emit(Event{Kind: EventLifecycleWarning, Remaining: evt.Remaining, At: now})
		case lifecycle.EventExpired:
			c.emit(Event{Kind: EventLifecycleExpired, At: now})
			if err := c.terminate(ctx, "expired"); err != nil {
				c.log.Warn("ending expired session failed", zap.Error(err))
			}
		}
	}
}

// Events yields UI notifications. Slow consumers lose events rather than stall the session.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Snapshot returns the lifecycle view for now.
func (c *Controller) Snapshot(now time.Time) lifecycle.Snapshot {
	return c.engine.Snapshot(now)
}

// Status returns the lifecycle status.
func (c *Controller) Status() lifecycle.Status {
	return c.engine.Status()
}

// Roster returns the visible participants.
func (c *Controller) Roster() []roster.Participant {
	return c.roster.Visible()
}

// Hands returns raised hands oldest first.
func (c *Controller) Hands() []handraise.Entry {
	return c.hands.Hands()
}

// PendingMedia returns the pending media requests.
func (c *Controller) PendingMedia() []mediaperm.Entry {
	return c.media.Pending()
}

// PendingLeave returns the pending leave requests.
func (c *Controller) PendingLeave() []leave.Entry {
	return c.leave.Pending()
}

// Chat returns the chat history.
func (c *Controller) Chat() []chat.Entry {
	return c.chat.Entries()
}

// ChatNotice returns the active moderation notice.
func (c *Controller) ChatNotice() (chat.Notice, bool) {
	return c.chat.Notice()
}

func (c *Controller) isOwner() bool {
	return c.self.ID == c.session.OwnerID
}

func (c *Controller) emit(evt Event) {
	if evt.At.IsZero() {
		evt.At = c.clock()
	}
	select {
	case c.events <- evt:
	default:
		c.log.Debug("event consumer is not keeping up, dropping", zap.String("kind", string(evt.Kind)))
	}
}

func (c *Controller) forwardChanges(ctx context.Context) error {
	rosterEvents := c.rosterEvents
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-rosterEvents:
			if !ok {
				rosterEvents = nil
				continue
			}
			c.emit(Event{Kind: EventStateChanged, Component: ComponentRoster})
		case <-c.hands.Changes():
			c.emit(Event{Kind: EventStateChanged, Component: ComponentHands})
		case <-c.media.Changes():
			c.emit(Event{Kind: EventStateChanged, Component: ComponentMedia})
		case <-c.leave.Changes():
			c.emit(Event{Kind: EventStateChanged, Component: ComponentLeave})
		case <-c.chat.Changes():
			c.emit(Event{Kind: EventStateChanged, Component: ComponentChat})
		}
	}
}

func (c *Controller) handleDecisions(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case decision := <-c.leave.Decisions():
			if !decision.Approved {
				c.emit(Event{Kind: EventLeaveDenied, Message: "The teacher asked you to stay.", At: decision.At})
				continue
			}
			c.emit(Event{Kind: EventLeaveApproved, At: decision.At})
			if c.disconnect != nil {
				if err := c.disconnect.Disconnect(ctx); err != nil {
					c.log.Warn("disconnect after approved leave failed", zap.Error(err))
				}
			}
		}
	}
}

// appliedMedia reports media controls applied to the local devices.
type appliedMedia struct {
	next mediaperm.LocalMedia
	c    *Controller
}

func (m appliedMedia) SetEnabled(device signaling.Device, enabled bool) error {
	if m.next != nil {
		if err := m.next.SetEnabled(device, enabled); err != nil {
			return err
		}
	}
	m.c.emit(Event{Kind: EventMediaApplied, Device: device, Enabled: enabled})
	return nil
}
