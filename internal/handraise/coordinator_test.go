package handraise

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/liveclass/internal/roster"
	"github.com/charlesng35/liveclass/internal/signaling"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	sent []signaling.Payload
	err  error
}

func (p *recordingPublisher) PublishTo(_ context.Context, payload signaling.Payload, _ ...string) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, payload)
	return nil
}

type staticRoles map[string]roster.Role

func (r staticRoles) RoleOf(id string) (roster.Role, bool) {
	role, ok := r[id]
	return role, ok
}

func handMsg(t *testing.T, sender, action string, sentAt, receivedAt time.Time) signaling.Message {
	t.Helper()
	payload, err := json.Marshal(signaling.HandRaisePayload{StudentID: sender, StudentName: "Name " + sender, Action: action})
	require.NoError(t, err)
	return signaling.Message{
		Topic:      signaling.TopicHandRaise,
		SenderID:   sender,
		Payload:    payload,
		SentAt:     sentAt,
		ReceivedAt: receivedAt,
	}
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ParticipantID)
	}
	return out
}

func newTeacherView() *Coordinator {
	return New(Config{SelfID: "teacher-1", Publisher: &recordingPublisher{}, Roles: staticRoles{"ghost-1": roster.RoleObserver}})
}

func TestOrderedByLocalReceiptTime(t *testing.T) {
	c := newTeacherView()

	// bob's clock runs ahead, but alice's raise reached us first.
	require.True(t, c.Apply(handMsg(t, "alice", "raise", t0.Add(time.Minute), t0.Add(time.Second))))
	require.True(t, c.Apply(handMsg(t, "bob", "raise", t0, t0.Add(2*time.Second))))
	require.True(t, c.Apply(handMsg(t, "carol", "raise", t0, t0.Add(2*time.Second))))

	require.Equal(t, []string{"alice", "bob", "carol"}, ids(c.Hands()))
}

func TestDuplicateIsApplyOnce(t *testing.T) {
	c := newTeacherView()
	msg := handMsg(t, "alice", "raise", t0, t0)

	require.True(t, c.Apply(msg))
	before := c.Hands()
	require.False(t, c.Apply(msg))
	require.Equal(t, before, c.Hands())
}

func TestReRaiseKeepsPosition(t *testing.T) {
	c := newTeacherView()
	c.Apply(handMsg(t, "alice", "raise", t0, t0))
	c.Apply(handMsg(t, "bob", "raise", t0, t0.Add(time.Second)))
	require.False(t, c.Apply(handMsg(t, "alice", "raise", t0.Add(5*time.Second), t0.Add(5*time.Second))))

	require.Equal(t, []string{"alice", "bob"}, ids(c.Hands()))
}

func TestLowerBeforeRaiseReordering(t *testing.T) {
	c := newTeacherView()

	require.False(t, c.Apply(handMsg(t, "alice", "lower", t0.Add(2*time.Second), t0)))
	require.False(t, c.Apply(handMsg(t, "alice", "raise", t0.Add(time.Second), t0.Add(time.Second))))
	require.False(t, c.IsRaised("alice"))
}

func TestRejectsSpoofedAndObserverSignals(t *testing.T) {
	c := newTeacherView()

	spoof := handMsg(t, "alice", "raise", t0, t0)
	spoof.SenderID = "mallory"
	require.False(t, c.Apply(spoof))

	require.False(t, c.Apply(handMsg(t, "ghost-1", "raise", t0, t0)))
	require.False(t, c.Apply(signaling.Message{Topic: signaling.TopicHandRaise, SenderID: "alice", Payload: []byte("{")}))
	require.Empty(t, c.Hands())
}

func TestDismissIsLocalOnly(t *testing.T) {
	pub := &recordingPublisher{}
	c := New(Config{SelfID: "teacher-1", Publisher: pub})
	c.Apply(handMsg(t, "alice", "raise", t0, t0))
	c.Apply(handMsg(t, "bob", "raise", t0, t0))

	require.True(t, c.Dismiss("alice"))
	require.False(t, c.Dismiss("alice"))
	require.Equal(t, 1, c.DismissAll())
	require.Empty(t, c.Hands())
	require.Empty(t, pub.sent)
}

func TestPurgeRemovesDepartedParticipant(t *testing.T) {
	c := newTeacherView()
	c.Apply(handMsg(t, "alice", "raise", t0.Add(time.Minute), t0))
	c.Purge("alice")
	require.False(t, c.IsRaised("alice"))

	// a raise sent before leaving but delivered after the purge leaves no orphan
	require.False(t, c.Apply(handMsg(t, "alice", "raise", t0.Add(2*time.Minute), t0.Add(time.Minute))))
	require.Empty(t, c.Hands())

	// a rejoining participant is not held back by the old sender clock
	c.Rejoin("alice")
	require.True(t, c.Apply(handMsg(t, "alice", "raise", t0, t0.Add(time.Hour))))
}

func TestRunDropsSignalsDeliveredAfterLeave(t *testing.T) {
	for i := 0; i < 20; i++ {
		c := newTeacherView()
		msgs := make(chan signaling.Message, 1)
		events := make(chan roster.Event, 1)
		events <- roster.Event{Kind: roster.EventLeft, Participant: roster.Participant{ID: "alice"}}
		msgs <- handMsg(t, "alice", "raise", t0, t0)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- c.Run(ctx, msgs, events) }()
		require.Eventually(t, func() bool { return len(msgs) == 0 && len(events) == 0 }, time.Second, time.Millisecond)
		cancel()
		<-done

		require.Empty(t, c.Hands(), "iteration %d", i)
	}
}

func TestRunAcceptsSignalsAfterRejoin(t *testing.T) {
	c := newTeacherView()
	msgs := make(chan signaling.Message, 1)
	events := make(chan roster.Event, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx, msgs, events) }()

	events <- roster.Event{Kind: roster.EventLeft, Participant: roster.Participant{ID: "alice"}}
	events <- roster.Event{Kind: roster.EventJoined, Participant: roster.Participant{ID: "alice"}}
	require.Eventually(t, func() bool { return len(events) == 0 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	msgs <- handMsg(t, "alice", "raise", t0, t0)
	require.Eventually(t, func() bool { return c.IsRaised("alice") }, time.Second, time.Millisecond)
}

func TestRaiseLowerRaiseWithinOneMillisecond(t *testing.T) {
	c := newTeacherView()

	require.True(t, c.Apply(handMsg(t, "alice", "raise", t0, t0)))
	require.True(t, c.Apply(handMsg(t, "alice", "lower", t0.Add(300*time.Microsecond), t0)))
	require.True(t, c.Apply(handMsg(t, "alice", "raise", t0.Add(600*time.Microsecond), t0)))
	require.True(t, c.IsRaised("alice"))
}

func TestRaiseAppliesLocally(t *testing.T) {
	pub := &recordingPublisher{}
	c := New(Config{SelfID: "alice", Publisher: pub, Clock: func() time.Time { return t0 }})

	require.NoError(t, c.Raise(context.Background(), "Alice"))
	require.True(t, c.IsRaised("alice"))
	require.Len(t, pub.sent, 1)
	require.Equal(t, signaling.HandRaisePayload{StudentID: "alice", StudentName: "Alice", Action: "raise"}, pub.sent[0])
	<-c.Changes()

	// the transport echo of our own raise does not change anything
	require.False(t, c.Apply(handMsg(t, "alice", "raise", t0.Add(-time.Millisecond), t0)))

	require.NoError(t, c.Lower(context.Background(), "Alice"))
	require.False(t, c.IsRaised("alice"))
}

func TestRaiseFailureLeavesStateUnchanged(t *testing.T) {
	c := New(Config{SelfID: "alice", Publisher: &recordingPublisher{err: errors.New("offline")}})

	require.Error(t, c.Raise(context.Background(), "Alice"))
	require.False(t, c.IsRaised("alice"))
}

func TestRunPurgesOnRosterLeave(t *testing.T) {
	c := newTeacherView()
	msgs := make(chan signaling.Message, 1)
	events := make(chan roster.Event, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx, msgs, events) }()

	msgs <- handMsg(t, "alice", "raise", t0, t0)
	require.Eventually(t, func() bool { return c.IsRaised("alice") }, time.Second, time.Millisecond)

	events <- roster.Event{Kind: roster.EventLeft, Participant: roster.Participant{ID: "alice"}}
	require.Eventually(t, func() bool { return len(c.Hands()) == 0 }, time.Second, time.Millisecond)
}
