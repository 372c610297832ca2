package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/liveclass/internal/database/testutil"
	"github.com/charlesng35/liveclass/internal/lifecycle"
	apperrors "github.com/charlesng35/liveclass/pkg/errors"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newSessionService(t *testing.T, clock *testClock) *ClassSessionService {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewClassSessionService(db, WithClassSessionClock(clock.Now))
	require.NoError(t, err)
	return svc
}

func scheduleAt(t *testing.T, svc *ClassSessionService, owner string, start time.Time, limit int) string {
	t.Helper()
	session, err := svc.Schedule(context.Background(), ScheduleSessionParams{
		OwnerID:           owner,
		Title:             "Algebra",
		ScheduledStart:    &start,
		DurationMinutes:   60,
		PrepBufferMinutes: 15,
		MaxSessionsPerDay: limit,
	})
	require.NoError(t, err)
	require.Equal(t, string(lifecycle.StatusScheduled), session.Status)
	return session.ID
}

func TestScheduleValidatesInput(t *testing.T) {
	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	svc := newSessionService(t, &testClock{now: start})

	_, err := svc.Schedule(context.Background(), ScheduleSessionParams{})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = svc.Schedule(context.Background(), ScheduleSessionParams{OwnerID: "teacher-1", DurationMinutes: -5})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestJoinableWindow(t *testing.T) {
	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	clock := &testClock{now: start.Add(-20 * time.Minute)}
	svc := newSessionService(t, clock)
	id := scheduleAt(t, svc, "teacher-1", start, 0)

	session, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	require.False(t, svc.Joinable(session))

	clock.Set(start.Add(-10 * time.Minute))
	require.True(t, svc.Joinable(session))

	clock.Set(start.Add(65 * time.Minute))
	require.False(t, svc.Joinable(session))
}

func TestGoLiveAndEnd(t *testing.T) {
	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	clock := &testClock{now: start.Add(-5 * time.Minute)}
	svc := newSessionService(t, clock)
	id := scheduleAt(t, svc, "teacher-1", start, 0)

	live, err := svc.GoLive(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, string(lifecycle.StatusLive), live.Status)
	require.NotNil(t, live.LiveSince)

	_, err = svc.GoLive(context.Background(), id)
	require.ErrorIs(t, err, apperrors.ErrLifecycle)

	clock.Set(start.Add(30 * time.Minute))
	ended, changed, err := svc.End(context.Background(), id)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, string(lifecycle.StatusEnded), ended.Status)

	again, changed, err := svc.End(context.Background(), id)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, string(lifecycle.StatusEnded), again.Status)

	_, _, err = svc.Cancel(context.Background(), id)
	require.ErrorIs(t, err, apperrors.ErrLifecycle)
}

func TestConcurrentEndTakesEffectOnce(t *testing.T) {
	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	clock := &testClock{now: start}
	svc := newSessionService(t, clock)
	id := scheduleAt(t, svc, "teacher-1", start, 0)
	_, err := svc.GoLive(context.Background(), id)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan bool, 4)
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := svc.End(context.Background(), id)
			errs <- err
			results <- changed
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	changedCount := 0
	for changed := range results {
		if changed {
			changedCount++
		}
	}
	require.Equal(t, 1, changedCount)
}

func TestGoLiveRejectsPastWindow(t *testing.T) {
	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	clock := &testClock{now: start.Add(2 * time.Hour)}
	svc := newSessionService(t, clock)
	id := scheduleAt(t, svc, "teacher-1", start, 0)

	_, err := svc.GoLive(context.Background(), id)
	require.ErrorIs(t, err, apperrors.ErrNotStartable)
}

func TestGoLiveEnforcesDailyLimit(t *testing.T) {
	day := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := &testClock{now: day}
	svc := newSessionService(t, clock)

	first := scheduleAt(t, svc, "teacher-1", day, 1)
	second := scheduleAt(t, svc, "teacher-1", day.Add(30*time.Minute), 1)
	other := scheduleAt(t, svc, "teacher-2", day, 1)

	_, err := svc.GoLive(context.Background(), first)
	require.NoError(t, err)

	_, err = svc.GoLive(context.Background(), second)
	require.ErrorIs(t, err, apperrors.ErrDailyLimit)

	_, err = svc.GoLive(context.Background(), other)
	require.NoError(t, err)

	count, err := svc.LiveSessionsOn(context.Background(), "teacher-1", day)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = svc.LiveSessionsOn(context.Background(), "teacher-1", day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestCancelScheduledSession(t *testing.T) {
	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	svc := newSessionService(t, &testClock{now: start.Add(-time.Hour)})
	id := scheduleAt(t, svc, "teacher-1", start, 0)

	cancelled, changed, err := svc.Cancel(context.Background(), id)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, string(lifecycle.StatusCancelled), cancelled.Status)

	_, changed, err = svc.Cancel(context.Background(), id)
	require.NoError(t, err)
	require.False(t, changed)

	_, err = svc.GoLive(context.Background(), id)
	require.ErrorIs(t, err, apperrors.ErrLifecycle)
}

func TestExpireOverdue(t *testing.T) {
	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	clock := &testClock{now: start}
	svc := newSessionService(t, clock)

	live := scheduleAt(t, svc, "teacher-1", start, 0)
	_, err := svc.GoLive(context.Background(), live)
	require.NoError(t, err)
	scheduled := scheduleAt(t, svc, "teacher-2", start, 0)
	later := scheduleAt(t, svc, "teacher-3", start.Add(3*time.Hour), 0)
	unscheduled, err := svc.Schedule(context.Background(), ScheduleSessionParams{OwnerID: "teacher-4"})
	require.NoError(t, err)

	clock.Set(start.Add(61 * time.Minute))
	closed, err := svc.ExpireOverdue(context.Background())
	require.NoError(t, err)
	require.Len(t, closed, 2)

	statuses := map[string]string{}
	for _, id := range []string{live, scheduled, later, unscheduled.ID} {
		session, err := svc.Get(context.Background(), id)
		require.NoError(t, err)
		statuses[id] = session.Status
	}
	require.Equal(t, string(lifecycle.StatusEnded), statuses[live])
	require.Equal(t, string(lifecycle.StatusCancelled), statuses[scheduled])
	require.Equal(t, string(lifecycle.StatusScheduled), statuses[later])
	require.Equal(t, string(lifecycle.StatusScheduled), statuses[unscheduled.ID])

	closed, err = svc.ExpireOverdue(context.Background())
	require.NoError(t, err)
	require.Empty(t, closed)
}

func TestSnapshotReportsPhase(t *testing.T) {
	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	clock := &testClock{now: start.Add(-10 * time.Minute)}
	svc := newSessionService(t, clock)
	id := scheduleAt(t, svc, "teacher-1", start, 0)

	_, snap, err := svc.Snapshot(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, lifecycle.PhasePrep, snap.Phase)
}
