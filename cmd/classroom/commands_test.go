package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/liveclass/internal/chat"
	"github.com/charlesng35/liveclass/internal/classroom"
	"github.com/charlesng35/liveclass/internal/handraise"
	"github.com/charlesng35/liveclass/internal/leave"
	"github.com/charlesng35/liveclass/internal/mediaperm"
	"github.com/charlesng35/liveclass/internal/moderation"
	"github.com/charlesng35/liveclass/internal/roster"
	"github.com/charlesng35/liveclass/internal/signaling"
)

type fakeController struct {
	calls   []string
	blocked bool
	chat    []chat.Entry
}

func (f *fakeController) record(call string) error {
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeController) GoLive(context.Context) error        { return f.record("live") }
func (f *fakeController) EndSession(context.Context) error    { return f.record("end") }
func (f *fakeController) CancelSession(context.Context) error { return f.record("cancel") }
func (f *fakeController) RaiseHand(context.Context) error     { return f.record("raise") }
func (f *fakeController) LowerHand(context.Context) error     { return f.record("lower") }
func (f *fakeController) RequestLeave(context.Context) error  { return f.record("leave") }

func (f *fakeController) DismissHand(_ context.Context, id string) (bool, error) {
	return true, f.record("dismiss " + id)
}

func (f *fakeController) DismissAllHands(context.Context) (int, error) {
	return 3, f.record("dismiss all")
}

func (f *fakeController) RequestMedia(_ context.Context, device signaling.Device, desired bool) error {
	if desired {
		return f.record("media " + string(device) + " on")
	}
	return f.record("media " + string(device) + " off")
}

func (f *fakeController) RespondMedia(_ context.Context, id string, device signaling.Device, approve bool) error {
	if approve {
		return f.record("approve " + id + " " + string(device))
	}
	return f.record("deny " + id + " " + string(device))
}

func (f *fakeController) Mute(_ context.Context, id string, device signaling.Device) error {
	return f.record("mute " + id + " " + string(device))
}

func (f *fakeController) RespondLeave(_ context.Context, id string, approve bool) error {
	if approve {
		return f.record("let go " + id)
	}
	return f.record("keep " + id)
}

func (f *fakeController) SendChat(_ context.Context, text string) (chat.Outcome, error) {
	_ = f.record("chat " + text)
	if f.blocked {
		return chat.Outcome{Blocked: true, Moderation: moderation.Result{Detected: true, MatchedPatterns: []string{"email"}}}, nil
	}
	return chat.Outcome{}, nil
}

func (f *fakeController) Kick(_ context.Context, id string) error { return f.record("kick " + id) }

func (f *fakeController) Roster() []roster.Participant {
	return []roster.Participant{{ID: "student-1", DisplayName: "Ada", Role: roster.RoleStudent, MicOn: true}}
}

func (f *fakeController) Hands() []handraise.Entry {
	return []handraise.Entry{{ParticipantID: "student-1", DisplayName: "Ada", RaisedAt: time.Date(2026, 3, 2, 14, 5, 0, 0, time.UTC)}}
}

func (f *fakeController) PendingMedia() []mediaperm.Entry {
	return []mediaperm.Entry{{ParticipantID: "student-1", DisplayName: "Ada", Device: signaling.DeviceMic, Desired: true}}
}

func (f *fakeController) PendingLeave() []leave.Entry { return nil }

func (f *fakeController) Chat() []chat.Entry { return f.chat }

func TestConsoleDispatchesCommands(t *testing.T) {
	ctrl := &fakeController{}
	var out bytes.Buffer
	cons := &console{ctrl: ctrl, out: &out}
	ctx := context.Background()

	for _, line := range []string{
		"hello class",
		"/raise",
		"/lower",
		"/dismiss student-1",
		"/dismiss all",
		"/mic on",
		"/camera off",
		"/approve-media student-1 mic",
		"/deny-media student-1 Camera",
		"/mute student-1 camera",
		"/leave",
		"/approve-leave student-1",
		"/deny-leave student-2",
		"/live",
		"/end",
		"/cancel",
		"/kick student-3",
		"   ",
	} {
		require.NoError(t, cons.handle(ctx, line), line)
	}

	require.Equal(t, []string{
		"chat hello class",
		"raise",
		"lower",
		"dismiss student-1",
		"dismiss all",
		"media mic on",
		"media camera off",
		"approve student-1 mic",
		"deny student-1 camera",
		"mute student-1 camera",
		"leave",
		"let go student-1",
		"keep student-2",
		"live",
		"end",
		"cancel",
		"kick student-3",
	}, ctrl.calls)
	require.Contains(t, out.String(), "dismissed 3 hands")
}

func TestConsoleRejectsBadInput(t *testing.T) {
	ctrl := &fakeController{}
	cons := &console{ctrl: ctrl, out: &bytes.Buffer{}}
	ctx := context.Background()

	for _, line := range []string{"/mic maybe", "/kick", "/mute student-1 speaker", "/approve-media student-1", "/dance"} {
		require.Error(t, cons.handle(ctx, line), line)
	}
	require.Empty(t, ctrl.calls)
	require.ErrorIs(t, cons.handle(ctx, "/quit"), errQuit)
}

func TestConsoleListings(t *testing.T) {
	ctrl := &fakeController{blocked: true}
	var out bytes.Buffer
	cons := &console{ctrl: ctrl, out: &out}
	ctx := context.Background()

	require.NoError(t, cons.handle(ctx, "/who"))
	require.NoError(t, cons.handle(ctx, "/hands"))
	require.NoError(t, cons.handle(ctx, "/media"))
	require.NoError(t, cons.handle(ctx, "mail me at ada@example.com"))

	text := out.String()
	require.Contains(t, text, "Ada (student-1) student mic=true camera=false")
	require.Contains(t, text, "1. Ada (student-1)")
	require.Contains(t, text, "Ada (student-1) wants mic on")
	require.Contains(t, text, "message blocked (email)")
}

func TestConsolePrintsEventsAndNewChat(t *testing.T) {
	ctrl := &fakeController{}
	var out bytes.Buffer
	cons := &console{ctrl: ctrl, out: &out}
	at := time.Date(2026, 3, 2, 14, 5, 0, 0, time.UTC)

	ctrl.chat = []chat.Entry{{SenderDisplayName: "Ada", Text: "hi", SentAt: at}}
	cons.printEvent(classroom.Event{Kind: classroom.EventStateChanged, Component: classroom.ComponentChat})
	ctrl.chat = append(ctrl.chat, chat.Entry{SenderDisplayName: "Ms. Kim", Text: "welcome", SentAt: at})
	cons.printEvent(classroom.Event{Kind: classroom.EventStateChanged, Component: classroom.ComponentChat})
	cons.printEvent(classroom.Event{Kind: classroom.EventLifecycleWarning, Remaining: 5 * time.Minute})
	cons.printEvent(classroom.Event{Kind: classroom.EventMediaApplied, Device: signaling.DeviceMic})

	text := out.String()
	require.Equal(t, 1, strings.Count(text, "Ada: hi"))
	require.Contains(t, text, "Ms. Kim: welcome")
	require.Contains(t, text, "5m0s left")
	require.Contains(t, text, "your mic is now off")
}

func TestParseFlagsRequiresSessionAndToken(t *testing.T) {
	t.Setenv("LIVECLASS_TOKEN", "")

	_, err := parseFlags([]string{"-token", "abc"})
	require.Error(t, err)

	_, err = parseFlags([]string{"-session", "s1"})
	require.Error(t, err)

	opts, err := parseFlags([]string{"-session", "s1", "-token", "abc", "-server", "https://class.example.com"})
	require.NoError(t, err)
	require.Equal(t, "s1", opts.sessionID)
	require.Equal(t, "https://class.example.com", opts.server)
}
