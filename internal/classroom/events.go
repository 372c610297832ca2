package classroom

import (
	"time"

	"github.com/charlesng35/liveclass/internal/lifecycle"
	"github.com/charlesng35/liveclass/internal/signaling"
)

// EventKind names a controller notification.
type EventKind string

const (
	EventStateChanged     EventKind = "state_changed"
	EventStatusChanged    EventKind = "status_changed"
	EventNotice           EventKind = "notice"
	EventLifecycleWarning EventKind = "lifecycle_warning"
	EventLifecycleExpired EventKind = "lifecycle_expired"
	EventMediaApplied     EventKind = "media_applied"
	EventLeaveApproved    EventKind = "leave_approved"
	EventLeaveDenied      EventKind = "leave_denied"
)

// Component names the piece of state behind an EventStateChanged.
type Component string

const (
	ComponentRoster Component = "roster"
	ComponentHands  Component = "hands"
	ComponentMedia  Component = "media_requests"
	ComponentLeave  Component = "leave_requests"
	ComponentChat   Component = "chat"
)

// Event is a UI-facing notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind      EventKind        `json:"kind"`
	Component Component        `json:"component,omitempty"`
	Status    lifecycle.Status `json:"status,omitempty"`
	Message   string           `json:"message,omitempty"`
	Device    signaling.Device `json:"device,omitempty"`
	Enabled   bool             `json:"enabled,omitempty"`
	Remaining time.Duration    `json:"remaining,omitempty"`
	At        time.Time        `json:"at"`
}
