package lifecycle

import (
	"fmt"
	"strings"

	apperrors "github.com/charlesng35/liveclass/pkg/errors"
)

// Status is the persisted lifecycle state of a session.
type Status string

const (
	// StatusScheduled is a session that has not gone live yet.
	StatusScheduled Status = "scheduled"
	// StatusLive is a session currently in progress.
	StatusLive Status = "live"
	// StatusEnded is a session that ran and finished.
	StatusEnded Status = "ended"
	// StatusCancelled is a session that never ran.
	StatusCancelled Status = "cancelled"
)

// ParseStatus normalises a stored status, defaulting to scheduled for unknown input.
func ParseStatus(raw string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusLive:
		return StatusLive
	case StatusEnded:
		return StatusEnded
	case StatusCancelled:
		return StatusCancelled
	default:
		return StatusScheduled
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusCancelled
}

func (s Status) String() string {
	return string(s)
}

// Transition validates a status change. Statuses only move forward; ended and cancelled
// are final.
func Transition(from, to Status) error {
	switch {
	case from == StatusScheduled && to == StatusLive,
		from == StatusScheduled && to == StatusCancelled,
		from == StatusLive && to == StatusEnded:
		return nil
	default:
		return apperrors.ErrLifecycle.WithMessage(fmt.Sprintf("cannot move session from %s to %s", from, to))
	}
}

// Closing returns the terminal status a session lands in when it is ended from its current
// state: a live session ends, a session that never went live is cancelled. The boolean is
// false when the session is already terminal.
func Closing(from Status) (Status, bool) {
	switch from {
	case StatusLive:
		return StatusEnded, true
	case StatusScheduled:
		return StatusCancelled, true
	default:
		return from, false
	}
}
