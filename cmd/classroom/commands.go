package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charlesng35/liveclass/internal/chat"
	"github.com/charlesng35/liveclass/internal/classroom"
	"github.com/charlesng35/liveclass/internal/handraise"
	"github.com/charlesng35/liveclass/internal/leave"
	"github.com/charlesng35/liveclass/internal/mediaperm"
	"github.com/charlesng35/liveclass/internal/roster"
	"github.com/charlesng35/liveclass/internal/signaling"
)

// controller is the part of classroom.Controller the console drives.
type controller interface {
	GoLive(ctx context.Context) error
	EndSession(ctx context.Context) error
	CancelSession(ctx context.Context) error
	RaiseHand(ctx context.Context) error
	LowerHand(ctx context.Context) error
	DismissHand(ctx context.Context, participantID string) (bool, error)
	DismissAllHands(ctx context.Context) (int, error)
	RequestMedia(ctx context.Context, device signaling.Device, desired bool) error
	RespondMedia(ctx context.Context, participantID string, device signaling.Device, approve bool) error
	Mute(ctx context.Context, participantID string, device signaling.Device) error
	RequestLeave(ctx context.Context) error
	RespondLeave(ctx context.Context, participantID string, approve bool) error
	SendChat(ctx context.Context, text string) (chat.Outcome, error)
	Kick(ctx context.Context, participantID string) error

	Roster() []roster.Participant
	Hands() []handraise.Entry
	PendingMedia() []mediaperm.Entry
	PendingLeave() []leave.Entry
	Chat() []chat.Entry
}

// errQuit asks the console loop to stop.
var errQuit = errors.New("quit")

const helpText = `commands:
  <text>                         send a chat message
  /raise, /lower                 raise or lower your hand
  /hands                         list raised hands
  /dismiss <id>|all              dismiss a raised hand (teacher)
  /mic on|off, /camera on|off    ask the teacher to change a device
  /media                         list pending media requests
  /approve-media <id> <device>   approve a media request (teacher)
  /deny-media <id> <device>      deny a media request (teacher)
  /mute <id> <device>            turn a participant's device off (teacher)
  /leave                         ask to leave
  /leaves                        list pending leave requests
  /approve-leave <id>            approve a leave request (teacher)
  /deny-leave <id>               deny a leave request (teacher)
  /who                           list participants
  /live, /end, /cancel           session lifecycle (teacher)
  /kick <id>                     remove a participant (teacher)
  /quit                          disconnect`

// console turns input lines into controller operations.
type console struct {
	ctrl     controller
	out      io.Writer
	chatSeen int
}

func (c *console) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		outcome, err := c.ctrl.SendChat(ctx, line)
		if err != nil {
			return err
		}
		if outcome.Blocked {
			c.printf("message blocked (%s)", strings.Join(outcome.Moderation.MatchedPatterns, ", "))
		}
		return nil
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/help":
		c.printf("%s", helpText)
	case "/quit":
		return errQuit
	case "/raise":
		return c.ctrl.RaiseHand(ctx)
	case "/lower":
		return c.ctrl.LowerHand(ctx)
	case "/hands":
		for i, h := range c.ctrl.Hands() {
			c.printf("%d. %s (%s) since %s", i+1, h.DisplayName, h.ParticipantID, h.RaisedAt.Format(time.Kitchen))
		}
	case "/dismiss":
		if len(args) != 1 {
			return usage("/dismiss <id>|all")
		}
		if args[0] == "all" {
			n, err := c.ctrl.DismissAllHands(ctx)
			if err == nil {
				c.printf("dismissed %d hands", n)
			}
			return err
		}
		_, err := c.ctrl.DismissHand(ctx, args[0])
		return err
	case "/mic", "/camera":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return usage(cmd + " on|off")
		}
		return c.ctrl.RequestMedia(ctx, signaling.Device(strings.TrimPrefix(cmd, "/")), args[0] == "on")
	case "/media":
		for _, e := range c.ctrl.PendingMedia() {
			state := "off"
			if e.Desired {
				state = "on"
			}
			c.printf("%s (%s) wants %s %s", e.DisplayName, e.ParticipantID, e.Device, state)
		}
	case "/approve-media", "/deny-media":
		if len(args) != 2 {
			return usage(cmd + " <id> <device>")
		}
		device, err := parseDevice(args[1])
		if err != nil {
			return err
		}
		return c.ctrl.RespondMedia(ctx, args[0], device, cmd == "/approve-media")
	case "/mute":
		if len(args) != 2 {
			return usage("/mute <id> <device>")
		}
		device, err := parseDevice(args[1])
		if err != nil {
			return err
		}
		return c.ctrl.Mute(ctx, args[0], device)
	case "/leave":
		return c.ctrl.RequestLeave(ctx)
	case "/leaves":
		for _, e := range c.ctrl.PendingLeave() {
			c.printf("%s (%s) asked to leave at %s", e.DisplayName, e.ParticipantID, e.RequestedAt.Format(time.Kitchen))
		}
	case "/approve-leave", "/deny-leave":
		if len(args) != 1 {
			return usage(cmd + " <id>")
		}
		return c.ctrl.RespondLeave(ctx, args[0], cmd == "/approve-leave")
	case "/who":
		for _, p := range c.ctrl.Roster() {
			c.printf("%s (%s) %s mic=%t camera=%t", p.DisplayName, p.ID, p.Role, p.MicOn, p.CameraOn)
		}
	case "/live":
		return c.ctrl.GoLive(ctx)
	case "/end":
		return c.ctrl.EndSession(ctx)
	case "/cancel":
		return c.ctrl.CancelSession(ctx)
	case "/kick":
		if len(args) != 1 {
			return usage("/kick <id>")
		}
		return c.ctrl.Kick(ctx, args[0])
	default:
		return fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return nil
}

func (c *console) printEvent(evt classroom.Event) {
	switch evt.Kind {
	case classroom.EventStatusChanged:
		c.printf("* session is now %s", evt.Status)
	case classroom.EventNotice:
		c.printf("* %s", evt.Message)
	case classroom.EventLifecycleWarning:
		c.printf("* %s left in this session", evt.Remaining.Round(time.Second))
	case classroom.EventLifecycleExpired:
		c.printf("* session time is over")
	case classroom.EventMediaApplied:
		state := "off"
		if evt.Enabled {
			state = "on"
		}
		c.printf("* your %s is now %s", evt.Device, state)
	case classroom.EventLeaveApproved:
		c.printf("* the teacher let you leave")
	case classroom.EventLeaveDenied:
		c.printf("* %s", evt.Message)
	case classroom.EventStateChanged:
		if evt.Component == classroom.ComponentChat {
			c.printNewChat()
			return
		}
		if evt.Component == classroom.ComponentHands || evt.Component == classroom.ComponentLeave || evt.Component == classroom.ComponentMedia {
			c.printf("* %s updated", evt.Component)
		}
	}
}

// printNewChat prints history entries appended since the last call.
func (c *console) printNewChat() {
	entries := c.ctrl.Chat()
	if c.chatSeen > len(entries) {
		c.chatSeen = 0
	}
	for _, entry := range entries[c.chatSeen:] {
		c.printf("[%s] %s: %s", entry.SentAt.Format(time.Kitchen), entry.SenderDisplayName, entry.Text)
	}
	c.chatSeen = len(entries)
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

func parseDevice(raw string) (signaling.Device, error) {
	switch signaling.Device(strings.ToLower(raw)) {
	case signaling.DeviceMic:
		return signaling.DeviceMic, nil
	case signaling.DeviceCamera:
		return signaling.DeviceCamera, nil
	default:
		return "", fmt.Errorf("unknown device %q, expected mic or camera", raw)
	}
}

func usage(text string) error {
	return fmt.Errorf("usage: %s", text)
}
