package classroom

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/liveclass/internal/lifecycle"
	"github.com/charlesng35/liveclass/internal/roster"
	"github.com/charlesng35/liveclass/internal/signaling"
	apperrors "github.com/charlesng35/liveclass/pkg/errors"
)

var start = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type fakeRooms struct {
	mu       sync.Mutex
	goLive   int
	ended    int
	removed  []string
	startErr error
	endErr   error
}

func (r *fakeRooms) StartSession(_ context.Context, sessionID string) (Credentials, error) {
	if r.startErr != nil {
		return Credentials{}, r.startErr
	}
	return Credentials{Token: "join-" + sessionID, URL: "ws://rooms/" + sessionID}, nil
}

func (r *fakeRooms) GoLive(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.goLive++
	return nil
}

func (r *fakeRooms) EndSession(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended++
	return r.endErr
}

func (r *fakeRooms) RemoveParticipant(_ context.Context, _ string, participantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, participantID)
	return nil
}

func (r *fakeRooms) endCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

type fixedScheduler int

func (s fixedScheduler) LiveSessionsOn(context.Context, string, time.Time) (int, error) {
	return int(s), nil
}

type countingDisconnect struct{ calls atomic.Int32 }

func (d *countingDisconnect) Disconnect(context.Context) error {
	d.calls.Add(1)
	return nil
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type peer struct {
	ctrl   *Controller
	rooms  *fakeRooms
	leaves *countingDisconnect
	bus    *signaling.Bus
}

func newPeer(t *testing.T, network *signaling.MemoryNetwork, self Self, session Session, clock func() time.Time, updates <-chan roster.Update) peer {
	t.Helper()
	bus := signaling.NewBus(network.Join(self.ID), signaling.WithClock(clock))
	rooms := &fakeRooms{}
	leaves := &countingDisconnect{}
	ctrl, err := New(Config{
		Session:       session,
		Self:          self,
		Bus:           bus,
		RosterUpdates: updates,
		Rooms:         rooms,
		Scheduler:     fixedScheduler(0),
		Disconnect:    leaves,
		Clock:         clock,
	})
	require.NoError(t, err)
	return peer{ctrl: ctrl, rooms: rooms, leaves: leaves, bus: bus}
}

var (
	teacherSelf = Self{ID: "teacher-1", DisplayName: "Ms. Kim", Role: roster.RoleTeacher}
	studentSelf = Self{ID: "student-1", DisplayName: "Ada", Role: roster.RoleStudent}
)

func scheduledSession(durationMinutes int) Session {
	return Session{
		ID:       "session-1",
		OwnerID:  "teacher-1",
		Schedule: lifecycle.NewSchedule(start, durationMinutes, 15),
		Status:   lifecycle.StatusScheduled,
	}
}

func runController(t *testing.T, ctrl *Controller) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestGoLiveOwnerOnly(t *testing.T) {
	clock := &manualClock{now: start.Add(-5 * time.Minute)}
	network := signaling.NewMemoryNetwork()
	teacher := newPeer(t, network, teacherSelf, scheduledSession(60), clock.Now, nil)
	student := newPeer(t, network, studentSelf, scheduledSession(60), clock.Now, nil)
	ctx := context.Background()

	require.ErrorIs(t, student.ctrl.GoLive(ctx), apperrors.ErrForbidden)
	require.Equal(t, lifecycle.StatusScheduled, student.ctrl.Status())

	require.NoError(t, teacher.ctrl.GoLive(ctx))
	require.Equal(t, lifecycle.StatusLive, teacher.ctrl.Status())
	require.Equal(t, 1, teacher.rooms.goLive)

	require.ErrorIs(t, teacher.ctrl.GoLive(ctx), apperrors.ErrLifecycle)
	require.Equal(t, 1, teacher.rooms.goLive)
}

func TestGoLiveDailyLimit(t *testing.T) {
	session := scheduledSession(60)
	session.MaxSessionsPerDay = 2
	ctrl, err := New(Config{
		Session:   session,
		Self:      teacherSelf,
		Bus:       signaling.NewBus(signaling.NewMemoryNetwork().Join("teacher-1")),
		Rooms:     &fakeRooms{},
		Scheduler: fixedScheduler(2),
		Clock:     func() time.Time { return start },
	})
	require.NoError(t, err)

	require.ErrorIs(t, ctrl.GoLive(context.Background()), apperrors.ErrDailyLimit)
	require.Equal(t, lifecycle.StatusScheduled, ctrl.Status())
}

func TestStartStudentSessionWindow(t *testing.T) {
	clock := &manualClock{}
	student := newPeer(t, signaling.NewMemoryNetwork(), studentSelf, scheduledSession(60), clock.Now, nil)
	ctx := context.Background()

	clock.Set(start.Add(-20 * time.Minute))
	_, err := student.ctrl.StartStudentSession(ctx, "session-1")
	require.ErrorIs(t, err, apperrors.ErrNotStartable)

	clock.Set(start.Add(-10 * time.Minute))
	creds, err := student.ctrl.StartStudentSession(ctx, "session-1")
	require.NoError(t, err)
	require.Equal(t, "join-session-1", creds.Token)

	_, err = student.ctrl.StartStudentSession(ctx, "other")
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

	clock.Set(start.Add(65 * time.Minute))
	student.ctrl.Tick(ctx, clock.Now())
	_, err = student.ctrl.StartStudentSession(ctx, "session-1")
	require.ErrorIs(t, err, apperrors.ErrNotStartable)
	require.True(t, student.ctrl.Snapshot(clock.Now()).Expired)
}

func TestEndSessionIsIdempotentUnderConcurrency(t *testing.T) {
	clock := &manualClock{now: start}
	teacher := newPeer(t, signaling.NewMemoryNetwork(), teacherSelf, scheduledSession(60), clock.Now, nil)
	ctx := context.Background()
	require.NoError(t, teacher.ctrl.GoLive(ctx))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- teacher.ctrl.EndSession(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		teacher.ctrl.Tick(ctx, start.Add(time.Hour))
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, lifecycle.StatusEnded, teacher.ctrl.Status())
	require.Equal(t, 1, teacher.rooms.endCount())
	require.NoError(t, teacher.ctrl.EndSession(ctx))
	require.Equal(t, 1, teacher.rooms.endCount())
}

func TestExpiryForceTerminates(t *testing.T) {
	clock := &manualClock{now: start}
	teacher := newPeer(t, signaling.NewMemoryNetwork(), teacherSelf, scheduledSession(1), clock.Now, nil)
	ctx := context.Background()
	require.NoError(t, teacher.ctrl.GoLive(ctx))

	expired := 0
	for sec := 0; sec <= 120; sec++ {
		teacher.ctrl.Tick(ctx, start.Add(time.Duration(sec)*time.Second))
	}
	for len(teacher.ctrl.Events()) > 0 {
		if evt := <-teacher.ctrl.Events(); evt.Kind == EventLifecycleExpired {
			expired++
		}
	}
	require.Equal(t, 1, expired)
	require.Equal(t, lifecycle.StatusEnded, teacher.ctrl.Status())
	require.Equal(t, 1, teacher.rooms.endCount())
}

func TestExpiryCancelsScheduledSession(t *testing.T) {
	clock := &manualClock{now: start}
	student := newPeer(t, signaling.NewMemoryNetwork(), studentSelf, scheduledSession(30), clock.Now, nil)

	student.ctrl.Tick(context.Background(), start.Add(30*time.Minute))
	require.Equal(t, lifecycle.StatusCancelled, student.ctrl.Status())
	require.Zero(t, student.rooms.endCount())
}

func TestActionsAfterEndAreRejected(t *testing.T) {
	clock := &manualClock{now: start}
	network := signaling.NewMemoryNetwork()
	teacher := newPeer(t, network, teacherSelf, scheduledSession(60), clock.Now, nil)
	ctx := context.Background()

	require.NoError(t, teacher.ctrl.GoLive(ctx))
	require.NoError(t, teacher.ctrl.EndSession(ctx))

	require.ErrorIs(t, teacher.ctrl.GoLive(ctx), apperrors.ErrLifecycle)
	_, err := teacher.ctrl.SendChat(ctx, "hello")
	require.ErrorIs(t, err, apperrors.ErrLifecycle)
	require.ErrorIs(t, teacher.ctrl.Mute(ctx, "student-1", signaling.DeviceMic), apperrors.ErrLifecycle)
}

func TestRoleAuthorization(t *testing.T) {
	clock := &manualClock{now: start}
	network := signaling.NewMemoryNetwork()
	student := newPeer(t, network, studentSelf, scheduledSession(60), clock.Now, nil)
	observer := newPeer(t, network, Self{ID: "ghost-1", Role: roster.RoleObserver}, scheduledSession(60), clock.Now, nil)
	ctx := context.Background()

	_, err := student.ctrl.DismissHand(ctx, "student-2")
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	require.ErrorIs(t, student.ctrl.Kick(ctx, "student-2"), apperrors.ErrForbidden)
	require.ErrorIs(t, student.ctrl.RespondLeave(ctx, "student-2", true), apperrors.ErrForbidden)
	require.ErrorIs(t, student.ctrl.EndSession(ctx), apperrors.ErrForbidden)

	_, err = observer.ctrl.SendChat(ctx, "hi")
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	require.ErrorIs(t, observer.ctrl.RaiseHand(ctx), apperrors.ErrForbidden)
	require.Empty(t, network.Join("ghost-1").Sent())
}

func TestBlockedChatRaisesNotice(t *testing.T) {
	clock := &manualClock{now: start}
	network := signaling.NewMemoryNetwork()
	student := newPeer(t, network, studentSelf, scheduledSession(60), clock.Now, nil)

	outcome, err := student.ctrl.SendChat(context.Background(), "my number is 555 123 4567")
	require.NoError(t, err)
	require.True(t, outcome.Blocked)
	require.Empty(t, student.ctrl.Chat())
	require.Empty(t, network.Join("student-1").Sent())

	evt := <-student.ctrl.Events()
	require.Equal(t, EventNotice, evt.Kind)
	_, ok := student.ctrl.ChatNotice()
	require.True(t, ok)
}

func TestTransportFailureSurfacesNotice(t *testing.T) {
	clock := &manualClock{now: start}
	network := signaling.NewMemoryNetwork()
	student := newPeer(t, network, studentSelf, scheduledSession(60), clock.Now, nil)
	network.Join("student-1").FailSends(errors.New("socket closed"))

	err := student.ctrl.RaiseHand(context.Background())
	require.ErrorIs(t, err, apperrors.ErrTransport)
	evt := <-student.ctrl.Events()
	require.Equal(t, EventNotice, evt.Kind)
	require.Empty(t, student.ctrl.Hands())
}

func TestRosterLeavePurgesEveryCoordinator(t *testing.T) {
	network := signaling.NewMemoryNetwork()
	updates := make(chan roster.Update, 8)
	teacher := newPeer(t, network, teacherSelf, Session{ID: "session-1", OwnerID: "teacher-1"}, time.Now, updates)
	student := newPeer(t, network, studentSelf, Session{ID: "session-1", OwnerID: "teacher-1"}, time.Now, nil)
	runController(t, teacher.ctrl)

	updates <- roster.Update{Kind: roster.UpdateJoin, Participant: roster.TransportParticipant{Identity: "student-1", Name: "Ada"}}
	require.Eventually(t, func() bool { return len(teacher.ctrl.Roster()) == 1 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, student.ctrl.RaiseHand(ctx))
	require.NoError(t, student.ctrl.RequestMedia(ctx, signaling.DeviceMic, true))
	require.NoError(t, student.ctrl.RequestLeave(ctx))

	require.Eventually(t, func() bool {
		return len(teacher.ctrl.Hands()) == 1 && len(teacher.ctrl.PendingMedia()) == 1 && len(teacher.ctrl.PendingLeave()) == 1
	}, time.Second, 5*time.Millisecond)

	updates <- roster.Update{Kind: roster.UpdateLeave, Participant: roster.TransportParticipant{Identity: "student-1"}}
	require.Eventually(t, func() bool {
		return len(teacher.ctrl.Hands()) == 0 && len(teacher.ctrl.PendingMedia()) == 0 && len(teacher.ctrl.PendingLeave()) == 0
	}, time.Second, 5*time.Millisecond)
	require.Empty(t, teacher.ctrl.Roster())
}

func TestApprovedLeaveDisconnectsStudent(t *testing.T) {
	network := signaling.NewMemoryNetwork()
	session := Session{ID: "session-1", OwnerID: "teacher-1"}
	teacherUpdates := make(chan roster.Update, 4)
	studentUpdates := make(chan roster.Update, 4)
	teacher := newPeer(t, network, teacherSelf, session, time.Now, teacherUpdates)
	student := newPeer(t, network, studentSelf, session, time.Now, studentUpdates)
	runController(t, teacher.ctrl)
	runController(t, student.ctrl)

	teacherUpdates <- roster.Update{Kind: roster.UpdateJoin, Participant: roster.TransportParticipant{Identity: "student-1"}}
	studentUpdates <- roster.Update{Kind: roster.UpdateJoin, Participant: roster.TransportParticipant{Identity: "teacher-1"}}
	require.Eventually(t, func() bool {
		return len(teacher.ctrl.Roster()) == 1 && len(student.ctrl.Roster()) == 1
	}, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, student.ctrl.RequestLeave(ctx))
	require.Eventually(t, func() bool { return len(teacher.ctrl.PendingLeave()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, teacher.ctrl.RespondLeave(ctx, "student-1", true))
	require.Eventually(t, func() bool { return student.leaves.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Empty(t, teacher.ctrl.PendingLeave())
}

func TestMediaApprovalAppliesOnStudent(t *testing.T) {
	network := signaling.NewMemoryNetwork()
	session := Session{ID: "session-1", OwnerID: "teacher-1"}
	teacherUpdates := make(chan roster.Update, 4)
	studentUpdates := make(chan roster.Update, 4)
	teacher := newPeer(t, network, teacherSelf, session, time.Now, teacherUpdates)
	student := newPeer(t, network, studentSelf, session, time.Now, studentUpdates)
	runController(t, teacher.ctrl)
	runController(t, student.ctrl)

	teacherUpdates <- roster.Update{Kind: roster.UpdateJoin, Participant: roster.TransportParticipant{Identity: "student-1"}}
	studentUpdates <- roster.Update{Kind: roster.UpdateJoin, Participant: roster.TransportParticipant{Identity: "teacher-1"}}
	require.Eventually(t, func() bool { return len(student.ctrl.Roster()) == 1 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, student.ctrl.RequestMedia(ctx, signaling.DeviceMic, true))
	require.Eventually(t, func() bool { return len(teacher.ctrl.PendingMedia()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, teacher.ctrl.RespondMedia(ctx, "student-1", signaling.DeviceMic, true))
	require.Empty(t, teacher.ctrl.PendingMedia())

	deadline := time.After(time.Second)
	for {
		select {
		case evt := <-student.ctrl.Events():
			if evt.Kind == EventMediaApplied {
				require.Equal(t, signaling.DeviceMic, evt.Device)
				require.True(t, evt.Enabled)
				return
			}
		case <-deadline:
			t.Fatal("media control never applied")
		}
	}
}

func TestKickIsIdempotent(t *testing.T) {
	updates := make(chan roster.Update, 2)
	teacher := newPeer(t, signaling.NewMemoryNetwork(), teacherSelf, Session{ID: "session-1", OwnerID: "teacher-1"}, time.Now, updates)
	runController(t, teacher.ctrl)

	updates <- roster.Update{Kind: roster.UpdateJoin, Participant: roster.TransportParticipant{Identity: "student-1"}}
	require.Eventually(t, func() bool { return len(teacher.ctrl.Roster()) == 1 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, teacher.ctrl.Kick(ctx, "student-1"))
	require.NoError(t, teacher.ctrl.Kick(ctx, "student-1"))
	require.Empty(t, teacher.ctrl.Roster())
}
