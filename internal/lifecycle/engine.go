package lifecycle

import (
	"sync"
	"time"

	apperrors "github.com/charlesng35/liveclass/pkg/errors"
)

// DefaultWarningThreshold is the remaining time at which the one-off warning fires.
const DefaultWarningThreshold = 5 * time.Minute

// Schedule is the fixed time window of a session.
type Schedule struct {
	Start      time.Time
	Duration   time.Duration
	PrepBuffer time.Duration
}

// NewSchedule builds a schedule from the per-session minute settings.
func NewSchedule(start time.Time, durationMinutes, prepBufferMinutes int) Schedule {
	if prepBufferMinutes < 0 {
		prepBufferMinutes = 0
	}
	return Schedule{
		Start:      start,
		Duration:   time.Duration(durationMinutes) * time.Minute,
		PrepBuffer: time.Duration(prepBufferMinutes) * time.Minute,
	}
}

// Valid reports whether the schedule supports a countdown. Invalid schedules run in
// elapsed-time-only mode.
func (s Schedule) Valid() bool {
	return !s.Start.IsZero() && s.Duration > 0
}

// PrepWindowStart is the earliest instant the session may be entered.
func (s Schedule) PrepWindowStart() time.Time {
	return s.Start.Add(-s.PrepBuffer)
}

// End is the hard stop of the session.
func (s Schedule) End() time.Time {
	return s.Start.Add(s.Duration)
}

// Within reports whether now falls inside [prep window start, end).
func (s Schedule) Within(now time.Time) bool {
	if !s.Valid() {
		return true
	}
	return !now.Before(s.PrepWindowStart()) && now.Before(s.End())
}

// EventKind names a lifecycle event.
type EventKind string

const (
	// EventWarning fires once when the remaining time first drops to the warning threshold.
	EventWarning EventKind = "warning"
	// EventExpired fires once when the remaining time reaches zero.
	EventExpired EventKind = "expired"
)

// Event is emitted by Tick.
type Event struct {
	Kind      EventKind
	At        time.Time
	Remaining time.Duration
}

// Phase describes where now sits relative to the schedule.
type Phase string

const (
	PhaseUpcoming   Phase = "upcoming"
	PhasePrep       Phase = "prep"
	PhaseInProgress Phase = "in_progress"
	PhaseOver       Phase = "over"
)

// Snapshot is a point-in-time view of the engine for rendering.
type Snapshot struct {
	Status           Status        `json:"status"`
	Phase            Phase         `json:"phase"`
	CanStart         bool          `json:"can_start"`
	CountdownEnabled bool          `json:"countdown_enabled"`
	Remaining        time.Duration `json:"remaining"`
	Elapsed          time.Duration `json:"elapsed"`
	StartsAt         time.Time     `json:"starts_at,omitempty"`
	EndsAt           time.Time     `json:"ends_at,omitempty"`
	Warned           bool          `json:"warned"`
	Expired          bool          `json:"expired"`
}

// Option customises an Engine.
type Option func(*Engine)

// WithWarningThreshold overrides the five minute warning.
func WithWarningThreshold(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.warningThreshold = d
		}
	}
}

// WithStatus seeds the engine with a status restored from storage.
func WithStatus(status Status) Option {
	return func(e *Engine) {
		e.status = status
	}
}

// WithLiveSince records when a restored live session went live.
func WithLiveSince(at time.Time) Option {
	return func(e *Engine) {
		e.liveSince = at
	}
}

// Engine derives phase and remaining/elapsed time for one session and owns its status.
// It is safe for concurrent use; Tick and the status operations may race.
type Engine struct {
	mu               sync.Mutex
	schedule         Schedule
	status           Status
	liveSince        time.Time
	warningThreshold time.Duration
	warned           bool
	expired          bool
}

// NewEngine constructs an engine for the supplied schedule.
func NewEngine(schedule Schedule, opts ...Option) *Engine {
	e := &Engine{
		schedule:         schedule,
		status:           StatusScheduled,
		warningThreshold: DefaultWarningThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.status == "" {
		e.status = StatusScheduled
	}
	return e
}

// Schedule returns the engine's schedule.
func (e *Engine) Schedule() Schedule {
	return e.schedule
}

// Status returns the current status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// CanStart reports whether the session may be entered at now.
func (e *Engine) CanStart(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canStartLocked(now)
}

func (e *Engine) canStartLocked(now time.Time) bool {
	return e.status == StatusScheduled && e.schedule.Within(now)
}

// Remaining returns the clamped time left and whether a countdown is available.
func (e *Engine) Remaining(now time.Time) (time.Duration, bool) {
	if !e.schedule.Valid() {
		return 0, false
	}
	remaining := e.schedule.End().Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Elapsed returns time spent in session. With a valid schedule it is measured from the
// scheduled start and capped at the duration; otherwise from going live.
func (e *Engine) Elapsed(now time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.elapsedLocked(now)
}

func (e *Engine) elapsedLocked(now time.Time) time.Duration {
	if e.schedule.Valid() {
		elapsed := now.Sub(e.schedule.Start)
		switch {
		case elapsed < 0:
			return 0
		case elapsed > e.schedule.Duration:
			return e.schedule.Duration
		default:
			return elapsed
		}
	}
	if e.liveSince.IsZero() || e.status != StatusLive {
		return 0
	}
	return now.Sub(e.liveSince)
}

// GoLive moves a scheduled session live.
func (e *Engine) GoLive(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := Transition(e.status, StatusLive); err != nil {
		return err
	}
	if e.expired || (e.schedule.Valid() && !now.Before(e.schedule.End())) {
		return apperrors.ErrNotStartable.WithMessage("session time window has already passed")
	}
	e.status = StatusLive
	e.liveSince = now
	return nil
}

// Close ends the session from whatever state it is in. It returns false when the session
// was already terminal, which makes repeated calls no-ops.
func (e *Engine) Close() (Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, ok := Closing(e.status)
	if !ok {
		return e.status, false
	}
	e.status = next
	return next, true
}

// Cancel cancels a session that never went live.
func (e *Engine) Cancel() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == StatusCancelled {
		return false, nil
	}
	if err := Transition(e.status, StatusCancelled); err != nil {
		return false, err
	}
	e.status = StatusCancelled
	return true, nil
}

// Tick recomputes the countdown and returns any events crossing thresholds. Each event
// kind fires at most once for the lifetime of the engine.
func (e *Engine) Tick(now time.Time) []Event {
	if !e.schedule.Valid() {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status.Terminal() || e.expired {
		return nil
	}

	remaining := e.schedule.End().Sub(now)
	if remaining < 0 {
		remaining = 0
	}

	// A tick that jumps past the end still owes the warning, ahead of the expiry.
	var events []Event
	if !e.warned && remaining <= e.warningThreshold {
		e.warned = true
		events = append(events, Event{Kind: EventWarning, At: now, Remaining: remaining})
	}
	if remaining == 0 {
		e.expired = true
		events = append(events, Event{Kind: EventExpired, At: now})
	}
	return events
}

// Expired reports whether the expiry event has fired.
func (e *Engine) Expired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expired
}

// Snapshot returns a rendering view for now.
func (e *Engine) Snapshot(now time.Time) Snapshot {
	remaining, countdown := e.Remaining(now)

	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		Status:           e.status,
		Phase:            e.phaseLocked(now),
		CanStart:         e.canStartLocked(now),
		CountdownEnabled: countdown,
		Remaining:        remaining,
		Elapsed:          e.elapsedLocked(now),
		Warned:           e.warned,
		Expired:          e.expired,
	}
	if e.schedule.Valid() {
		snap.StartsAt = e.schedule.Start
		snap.EndsAt = e.schedule.End()
	}
	return snap
}

func (e *Engine) phaseLocked(now time.Time) Phase {
	if e.status.Terminal() {
		return PhaseOver
	}
	if !e.schedule.Valid() {
		if e.status == StatusLive {
			return PhaseInProgress
		}
		return PhaseUpcoming
	}
	switch {
	case now.Before(e.schedule.PrepWindowStart()):
		return PhaseUpcoming
	case now.Before(e.schedule.Start):
		return PhasePrep
	case now.Before(e.schedule.End()):
		return PhaseInProgress
	default:
		return PhaseOver
	}
}
