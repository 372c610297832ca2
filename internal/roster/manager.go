package roster

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/signaling"
	"github.com/charlesng35/liveclass/pkg/logger"
)

const subscriberBuffer = 128

// Participant is a resolved roster member.
type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	Variant     string    `json:"variant"`
	Device      DeviceTag `json:"device"`
	Hidden      bool      `json:"-"`
	MicOn       bool      `json:"mic_on"`
	CameraOn    bool      `json:"camera_on"`
	JoinedAt    time.Time `json:"joined_at"`
}

// TransportParticipant is a participant as reported by the realtime transport.
type TransportParticipant struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
	Metadata string `json:"metadata,omitempty"`
}

// UpdateKind names a transport roster update.
type UpdateKind string

const (
	UpdateJoin     UpdateKind = "join"
	UpdateLeave    UpdateKind = "leave"
	UpdateSnapshot UpdateKind = "snapshot"
	UpdateTrack    UpdateKind = "track"
)

// Update is a roster change reported by the transport.
type Update struct {
	Kind         UpdateKind
	Participant  TransportParticipant
	Participants []TransportParticipant
	Device       signaling.Device
	Enabled      bool
}

// EventKind names a roster event.
type EventKind string

const (
	EventJoined       EventKind = "joined"
	EventLeft         EventKind = "left"
	EventTrackChanged EventKind = "track_changed"
)

// Event is published to subscribers after the roster changes.
type Event struct {
	Kind        EventKind
	Participant Participant
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the clock used for join timestamps.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithSessionID tags logs with the session identifier.
func WithSessionID(sessionID string) Option {
	return func(m *Manager) {
		m.log = logger.WithSession("roster", sessionID)
	}
}

// Manager owns the session roster. Other components read it and subscribe to its events;
// only transport updates mutate it.
type Manager struct {
	mu           sync.RWMutex
	participants map[string]*Participant
	subscribers  []chan Event
	clock        func() time.Time
	log          *zap.Logger
}

// NewManager constructs an empty roster.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		participants: make(map[string]*Participant),
		clock:        time.Now,
		log:          logger.WithModule("roster"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe returns a channel of roster events.
func (m *Manager) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

// Run applies transport updates until ctx is cancelled or updates closes, then closes
// every subscriber channel.
func (m *Manager) Run(ctx context.Context, updates <-chan Update) error {
	defer m.closeSubscribers()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			m.Apply(update)
		}
	}
}

// Apply mutates the roster for one transport update.
func (m *Manager) Apply(update Update) {
	switch update.Kind {
	case UpdateJoin:
		m.join(update.Participant)
	case UpdateLeave:
		m.Leave(update.Participant.Identity)
	case UpdateSnapshot:
		m.sync(update.Participants)
	case UpdateTrack:
		m.track(update.Participant.Identity, update.Device, update.Enabled)
	default:
		m.log.Debug("ignoring roster update", zap.String("kind", string(update.Kind)))
	}
}

func (m *Manager) join(tp TransportParticipant) {
	id := strings.TrimSpace(tp.Identity)
	if id == "" {
		return
	}
	meta := ParseMetadata(id, tp.Metadata)
	name := meta.DisplayName
	if name == "" {
		name = strings.TrimSpace(tp.Name)
	}
	if name == "" {
		name = id
	}

	m.mu.Lock()
	if existing, ok := m.participants[id]; ok {
		existing.DisplayName = name
		existing.Role = meta.Role
		existing.Variant = meta.Variant
		existing.Device = meta.Device
		existing.Hidden = meta.Hidden
		m.mu.Unlock()
		return
	}
	p := &Participant{
		ID:          id,
		DisplayName: name,
		Role:        meta.Role,
		Variant:     meta.Variant,
		Device:      meta.Device,
		Hidden:      meta.Hidden,
		JoinedAt:    m.clock(),
	}
	m.participants[id] = p
	snapshot := *p
	m.mu.Unlock()

	m.log.Debug("participant joined",
		zap.String("participant_id", id),
		zap.String("role", string(meta.Role)),
		zap.String("source", string(meta.Source)),
	)
	m.publish(Event{Kind: EventJoined, Participant: snapshot})
}

// Leave removes a participant. Unknown or already departed participants are ignored.
func (m *Manager) Leave(identity string) bool {
	id := strings.TrimSpace(identity)

	m.mu.Lock()
	p, ok := m.participants[id]
	if ok {
		delete(m.participants, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.publish(Event{Kind: EventLeft, Participant: *p})
	return true
}

func (m *Manager) sync(list []TransportParticipant) {
	present := make(map[string]struct{}, len(list))
	for _, tp := range list {
		present[strings.TrimSpace(tp.Identity)] = struct{}{}
		m.join(tp)
	}

	m.mu.RLock()
	var departed []string
	for id := range m.participants {
		if _, ok := present[id]; !ok {
			departed = append(departed, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range departed {
		m.Leave(id)
	}
}

func (m *Manager) track(identity string, device signaling.Device, enabled bool) {
	m.mu.Lock()
	p, ok := m.participants[strings.TrimSpace(identity)]
	if !ok {
		m.mu.Unlock()
		return
	}
	switch device {
	case signaling.DeviceMic:
		p.MicOn = enabled
	case signaling.DeviceCamera:
		p.CameraOn = enabled
	default:
		m.mu.Unlock()
		return
	}
	snapshot := *p
	m.mu.Unlock()

	m.publish(Event{Kind: EventTrackChanged, Participant: snapshot})
}

// Participant looks up any participant, hidden ones included.
func (m *Manager) Participant(id string) (Participant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// RoleOf returns the resolved role of a present participant.
func (m *Manager) RoleOf(id string) (Role, bool) {
	p, ok := m.Participant(id)
	return p.Role, ok
}

// Visible returns every non-hidden participant ordered by join time.
func (m *Manager) Visible() []Participant {
	m.mu.RLock()
	out := make([]Participant, 0, len(m.participants))
	for _, p := range m.participants {
		if !p.Hidden {
			out = append(out, *p)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Participant) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Count returns the number of visible people, screen shares excluded.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, p := range m.participants {
		if !p.Hidden && p.Device == DevicePrimary {
			count++
		}
	}
	return count
}

func (m *Manager) publish(evt Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.subscribers {
		select {
		case ch <- evt:
		default:
			m.log.Warn("roster subscriber full, dropping event",
				zap.String("event", string(evt.Kind)),
				zap.String("participant_id", evt.Participant.ID),
			)
		}
	}
}

func (m *Manager) closeSubscribers() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = nil
}
