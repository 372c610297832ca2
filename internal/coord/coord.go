// Package coord holds the plumbing shared by the classroom coordinators: the consumer loop,
// change notification and the per-sender ordering guard.
package coord

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/charlesng35/liveclass/internal/roster"
	"github.com/charlesng35/liveclass/internal/signaling"
)

// Publisher sends a payload to the listed participants, or to everyone when none are given.
type Publisher interface {
	PublishTo(ctx context.Context, payload signaling.Payload, targets ...string) error
}

// Roles resolves a participant's role from the roster.
type Roles interface {
	RoleOf(id string) (roster.Role, bool)
}

// Notifier coalesces state-changed notifications. Receivers re-read state on wake-up, so
// a pending notification absorbs any that follow.
type Notifier struct {
	ch chan struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func (n *Notifier) C() <-chan struct{} {
	return n.ch
}

// SenderClock remembers the newest SentAt applied per key so reordered deliveries cannot
// roll state back.
type SenderClock struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewSenderClock() *SenderClock {
	return &SenderClock{last: make(map[string]time.Time)}
}

// Accept reports whether a message stamped sentAt is not older than the last accepted one
// for key, and records it. Unstamped messages are always accepted.
func (c *SenderClock) Accept(key string, sentAt time.Time) bool {
	if sentAt.IsZero() {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.last[key]; ok && sentAt.Before(last) {
		return false
	}
	c.last[key] = sentAt
	return true
}

// Forget drops the key for participantID and every key scoped under it ("id/...").
func (c *SenderClock) Forget(participantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.last {
		if key == participantID || strings.HasPrefix(key, participantID+"/") {
			delete(c.last, key)
		}
	}
}

// Scoped builds a SenderClock key for a participant and a sub-resource such as a device.
func Scoped(participantID, scope string) string {
	return participantID + "/" + scope
}

// DefaultDepartureCapacity bounds how many departed participants a coordinator remembers.
const DefaultDepartureCapacity = 256

// Departures remembers participants purged on roster leave. Data and roster events reach a
// coordinator on separate channels, so a signal sent before the leave can be applied after
// the purge; coordinators drop signals from departed senders until they join again.
type Departures struct {
	ids *lru.Cache[string, struct{}]
}

// NewDepartures builds a set holding at most capacity ids, oldest evicted first. A
// non-positive capacity selects DefaultDepartureCapacity.
func NewDepartures(capacity int) *Departures {
	if capacity <= 0 {
		capacity = DefaultDepartureCapacity
	}
	ids, err := lru.New[string, struct{}](capacity)
	if err != nil {
		panic("coord: " + err.Error())
	}
	return &Departures{ids: ids}
}

// Mark records that id left.
func (d *Departures) Mark(id string) {
	d.ids.Add(id, struct{}{})
}

// Clear forgets a departure once the participant is back.
func (d *Departures) Clear(id string) {
	d.ids.Remove(id)
}

// Has reports whether id left and has not rejoined.
func (d *Departures) Has(id string) bool {
	return d.ids.Contains(id)
}

// Loop is the single consumer loop of a coordinator. It applies inbound messages, purges
// participants on roster leave and reports rejoins until ctx is cancelled or msgs closes.
// A nil roster channel disables both; a nil rejoin is ignored.
func Loop(ctx context.Context, msgs <-chan signaling.Message, events <-chan roster.Event, apply func(signaling.Message), purge, rejoin func(string)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			apply(msg)
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch {
			case evt.Kind == roster.EventLeft:
				purge(evt.Participant.ID)
			case evt.Kind == roster.EventJoined && rejoin != nil:
				rejoin(evt.Participant.ID)
			}
		}
	}
}

// IsTeacher reports whether id is present in the roster as a teacher.
func IsTeacher(roles Roles, id string) bool {
	if roles == nil {
		return false
	}
	role, ok := roles.RoleOf(id)
	return ok && role == roster.RoleTeacher
}

// IsObserver reports whether id is a known observer. Observers are silent and their
// signals are ignored.
func IsObserver(roles Roles, id string) bool {
	if roles == nil {
		return false
	}
	role, ok := roles.RoleOf(id)
	return ok && role == roster.RoleObserver
}

// Merge fans two message channels into one. The result closes once both inputs close or
// ctx is cancelled.
func Merge(ctx context.Context, a, b <-chan signaling.Message) <-chan signaling.Message {
	out := make(chan signaling.Message)
	go func() {
		defer close(out)
		for a != nil || b != nil {
			var (
				msg signaling.Message
				ok  bool
			)
			select {
			case <-ctx.Done():
				return
			case msg, ok = <-a:
				if !ok {
					a = nil
					continue
				}
			case msg, ok = <-b:
				if !ok {
					b = nil
					continue
				}
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
