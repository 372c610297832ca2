package roomclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/liveclass/internal/handlers/testutil"
	"github.com/charlesng35/liveclass/internal/lifecycle"
	"github.com/charlesng35/liveclass/internal/moderation"
	"github.com/charlesng35/liveclass/internal/roomclient"
	"github.com/charlesng35/liveclass/internal/roster"
	apperrors "github.com/charlesng35/liveclass/pkg/errors"
)

func newServer(t *testing.T) (*testutil.Env, *httptest.Server) {
	t.Helper()
	env := testutil.NewEnv(t)
	srv := httptest.NewServer(env.Router)
	t.Cleanup(srv.Close)
	return env, srv
}

func TestClientSessionLifecycle(t *testing.T) {
	env, srv := newServer(t)
	ctx := context.Background()

	teacher := roomclient.New(srv.URL+"/", env.Token("teacher-1", "teacher", "Ms. Kim"))
	student := roomclient.New(srv.URL, env.Token("student-1", "student", "Ada"))

	start := env.Clock.Now().Add(5 * time.Minute)
	limit := 2
	created, err := teacher.Schedule(ctx, roomclient.ScheduleRequest{
		Title:             "Algebra",
		ScheduledStart:    &start,
		MaxSessionsPerDay: &limit,
	})
	require.NoError(t, err)
	require.Equal(t, "teacher-1", created.OwnerID)

	fetched, err := student.Session(ctx, created.ID)
	require.NoError(t, err)
	session := fetched.Classroom()
	require.Equal(t, lifecycle.StatusScheduled, session.Status)
	require.Equal(t, 2, session.MaxSessionsPerDay)
	require.True(t, session.Schedule.Start.Equal(start))

	creds, err := student.StartSession(ctx, created.ID)
	require.NoError(t, err)
	require.NotEmpty(t, creds.Token)
	require.Contains(t, creds.URL, "/api/rooms/"+created.ID+"/ws")

	err = student.GoLive(ctx, created.ID)
	require.True(t, errors.Is(err, apperrors.ErrForbidden), "got %v", err)

	require.NoError(t, teacher.GoLive(ctx, created.ID))

	count, err := teacher.LiveSessionsOn(ctx, "teacher-1", env.Clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, teacher.RemoveParticipant(ctx, created.ID, "student-1"))
	require.NoError(t, teacher.EndSession(ctx, created.ID))
	require.NoError(t, teacher.EndSession(ctx, created.ID))

	_, err = student.StartSession(ctx, created.ID)
	require.True(t, errors.Is(err, apperrors.ErrNotStartable), "got %v", err)
}

func TestClientMapsNotFound(t *testing.T) {
	env, srv := newServer(t)
	client := roomclient.New(srv.URL, env.Token("student-1", "student", "Ada"))

	_, err := client.Session(context.Background(), "missing")
	require.True(t, errors.Is(err, apperrors.ErrSessionNotFound), "got %v", err)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, http.StatusNotFound, appErr.StatusCode)
}

func TestClientReportsViolations(t *testing.T) {
	env, srv := newServer(t)
	ctx := context.Background()
	teacher := roomclient.New(srv.URL, env.Token("teacher-1", "teacher", "Ms. Kim"))
	student := roomclient.New(srv.URL, env.Token("student-1", "student", "Ada"))

	start := env.Clock.Now().Add(5 * time.Minute)
	created, err := teacher.Schedule(ctx, roomclient.ScheduleRequest{Title: "Algebra", ScheduledStart: &start})
	require.NoError(t, err)

	report := moderation.ViolationReport{
		SessionID:       created.ID,
		ParticipantID:   "spoofed",
		OffendingText:   "email me at ada@example.com",
		MatchedPatterns: []string{"email"},
		Severity:        moderation.SeverityHigh,
		OccurredAt:      env.Clock.Now(),
	}
	require.NoError(t, student.ReportViolation(ctx, report))
	require.NoError(t, student.ReportViolation(ctx, report))

	records, err := env.Violations.List(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "student-1", records[0].ParticipantID)
}

func TestClientTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := roomclient.New(url, "token", roomclient.WithHTTPClient(&http.Client{Timeout: time.Second}))
	err := client.GoLive(context.Background(), "s1")
	require.True(t, errors.Is(err, apperrors.ErrTransport), "got %v", err)
}

func TestClientRejectsNonEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	t.Cleanup(srv.Close)

	client := roomclient.New(srv.URL, "token")
	err := client.EndSession(context.Background(), "s1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "upstream down")
}

func TestIdentityFromJoinToken(t *testing.T) {
	env, srv := newServer(t)
	ctx := context.Background()
	teacher := roomclient.New(srv.URL, env.Token("teacher-1", "teacher", "Ms. Kim"))

	start := env.Clock.Now().Add(5 * time.Minute)
	created, err := teacher.Schedule(ctx, roomclient.ScheduleRequest{Title: "Algebra", ScheduledStart: &start})
	require.NoError(t, err)

	creds, err := teacher.StartSession(ctx, created.ID)
	require.NoError(t, err)

	self, err := roomclient.Identity(creds.Token)
	require.NoError(t, err)
	require.Equal(t, "teacher-1", self.ID)
	require.Equal(t, "Ms. Kim", self.DisplayName)
	require.Equal(t, roster.RoleTeacher, self.Role)

	_, err = roomclient.Identity("not-a-token")
	require.Error(t, err)
}
