package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/liveclass/internal/handlers"
	"github.com/charlesng35/liveclass/internal/handlers/testutil"
	"github.com/charlesng35/liveclass/internal/realtime"
)

func joinRoom(t *testing.T, env *testutil.Env, srv *httptest.Server, sessionID, token string) *realtime.Client {
	t.Helper()

	w := env.Request(http.MethodPost, "/api/sessions/"+sessionID+"/start", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var creds handlers.JoinCredentials
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &creds)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/rooms/" + sessionID + "/ws?token=" + creds.Token
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := realtime.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return client
}

func TestRoomRequiresJoinToken(t *testing.T) {
	env := testutil.NewEnv(t)
	owner := env.Token("teacher-1", "teacher", "Ms. Kim")
	created := scheduleIn(env, owner, 5*time.Minute, nil)

	w := env.Request(http.MethodGet, "/api/rooms/"+created.Session.ID+"/ws", nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// An API token is not a join token.
	w = env.Request(http.MethodGet, "/api/rooms/"+created.Session.ID+"/ws?token="+owner, nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoomAttendanceAndEnd(t *testing.T) {
	env := testutil.NewEnv(t)
	srv := httptest.NewServer(env.Router)
	t.Cleanup(srv.Close)

	owner := env.Token("teacher-1", "teacher", "Ms. Kim")
	student := env.Token("student-1", "student", "Ada")
	created := scheduleIn(env, owner, 5*time.Minute, nil)
	sessionID := created.Session.ID

	teacherClient := joinRoom(t, env, srv, sessionID, owner)
	studentClient := joinRoom(t, env, srv, sessionID, student)

	require.Eventually(t, func() bool {
		return len(env.Hub.Participants(sessionID)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		records, err := env.Attendance.List(context.Background(), sessionID, false)
		return err == nil && len(records) == 2
	}, 2*time.Second, 10*time.Millisecond)

	w := env.Request(http.MethodDelete, "/api/sessions/"+sessionID+"/participants/student-1", nil, owner)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	select {
	case <-studentClient.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("kicked client was not disconnected")
	}
	require.Equal(t, "removed by the teacher", studentClient.CloseReason())

	w = env.Request(http.MethodPost, "/api/sessions/"+sessionID+"/end", nil, owner)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	select {
	case <-teacherClient.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("room was not closed")
	}
	require.Equal(t, "the teacher ended the session", teacherClient.CloseReason())

	require.Eventually(t, func() bool {
		records, err := env.Attendance.List(context.Background(), sessionID, false)
		if err != nil {
			return false
		}
		for _, r := range records {
			if r.LeftAt == nil {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}
