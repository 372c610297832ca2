package classroom

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/chat"
	"github.com/charlesng35/liveclass/internal/lifecycle"
	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/internal/policy"
	"github.com/charlesng35/liveclass/internal/roster"
	"github.com/charlesng35/liveclass/internal/signaling"
	apperrors "github.com/charlesng35/liveclass/pkg/errors"
)

var errSessionOver = apperrors.ErrLifecycle.WithMessage("Session has already finished")

func (c *Controller) authorize(ctx context.Context, action policy.Action) error {
	return c.policy.Authorize(ctx, policy.Input{
		Action:  action,
		Role:    c.self.Role,
		IsOwner: c.isOwner(),
	})
}

// active rejects signaling once the session is terminal.
func (c *Controller) active() error {
	if c.engine.Status().Terminal() {
		return errSessionOver
	}
	return nil
}

// GoLive moves a scheduled session live after checking the owner's daily session limit.
func (c *Controller) GoLive(ctx context.Context) error {
	if err := c.authorize(ctx, policy.ActionGoLive); err != nil {
		return err
	}
	from := c.engine.Status()
	if err := lifecycle.Transition(from, lifecycle.StatusLive); err != nil {
		return err
	}

	now := c.clock()
	if c.session.MaxSessionsPerDay > 0 && c.scheduler != nil {
		count, err := c.scheduler.LiveSessionsOn(ctx, c.session.OwnerID, now)
		if err != nil {
			return apperrors.ErrTransport.WithInternal(err)
		}
		if count >= c.session.MaxSessionsPerDay {
			return apperrors.ErrDailyLimit
		}
	}
	if c.rooms != nil {
		if err := c.rooms.GoLive(ctx, c.session.ID); err != nil {
			return c.transportFailure("Could not take the session live", err)
		}
	}
	if err := c.engine.GoLive(now); err != nil {
		return err
	}

	monitoring.RecordLifecycleTransition(string(from), string(lifecycle.StatusLive))
	c.log.Info("session is live", zap.String("participant_id", c.self.ID))
	c.emit(Event{Kind: EventStatusChanged, Status: lifecycle.StatusLive, At: now})
	return nil
}

// StartStudentSession obtains room credentials for sessionID. A scheduled session must be
// inside its start window; a live session can be joined until it expires.
func (c *Controller) StartStudentSession(ctx context.Context, sessionID string) (Credentials, error) {
	if err := c.authorize(ctx, policy.ActionStartSession); err != nil {
		return Credentials{}, err
	}
	if sessionID != c.session.ID {
		return Credentials{}, apperrors.ErrSessionNotFound
	}

	now := c.clock()
	joinable := c.engine.CanStart(now) || (c.engine.Status() == lifecycle.StatusLive && !c.engine.Expired())
	if !joinable {
		return Credentials{}, apperrors.ErrNotStartable
	}
	if c.rooms == nil {
		return Credentials{}, apperrors.ErrTransport.WithMessage("No room service configured")
	}

	creds, err := c.rooms.StartSession(ctx, sessionID)
	if err != nil {
		return Credentials{}, c.transportFailure("Could not join the session room", err)
	}
	return creds, nil
}

// EndSession ends the session for everyone. Repeated or concurrent calls are no-ops after
// the first.
func (c *Controller) EndSession(ctx context.Context) error {
	if err := c.authorize(ctx, policy.ActionEndSession); err != nil {
		return err
	}
	return c.terminate(ctx, "ended_by_teacher")
}

// CancelSession cancels a session that never went live.
func (c *Controller) CancelSession(ctx context.Context) error {
	if err := c.authorize(ctx, policy.ActionCancelSession); err != nil {
		return err
	}
	changed, err := c.engine.Cancel()
	if err != nil || !changed {
		return err
	}
	monitoring.RecordLifecycleTransition(string(lifecycle.StatusScheduled), string(lifecycle.StatusCancelled))
	c.emit(Event{Kind: EventStatusChanged, Status: lifecycle.StatusCancelled})
	if c.rooms != nil {
		if err := c.rooms.EndSession(ctx, c.session.ID); err != nil {
			return c.transportFailure("Could not close the session room", err)
		}
	}
	return nil
}

func (c *Controller) terminate(ctx context.Context, reason string) error {
	from := c.engine.Status()
	now := c.clock()
	elapsed := c.engine.Elapsed(now)

	to, changed := c.engine.Close()
	if !changed {
		return nil
	}

	monitoring.RecordLifecycleTransition(string(from), string(to))
	if from == lifecycle.StatusLive {
		monitoring.RecordSessionClosed(elapsed)
	}
	c.log.Info("session closed", zap.String("status", string(to)), zap.String("reason", reason))
	c.emit(Event{Kind: EventStatusChanged, Status: to, Message: reason, At: now})

	if !c.isOwner() || c.self.Role != roster.RoleTeacher || c.rooms == nil {
		return nil
	}
	if err := c.rooms.EndSession(ctx, c.session.ID); err != nil {
		return c.transportFailure("Could not close the session room", err)
	}
	return nil
}

// RaiseHand raises the local participant's hand.
func (c *Controller) RaiseHand(ctx context.Context) error {
	if err := c.guard(ctx, policy.ActionRaiseHand); err != nil {
		return err
	}
	return c.sendFailure(c.hands.Raise(ctx, c.self.DisplayName))
}

// LowerHand lowers the local participant's hand.
func (c *Controller) LowerHand(ctx context.Context) error {
	if err := c.guard(ctx, policy.ActionLowerHand); err != nil {
		return err
	}
	return c.sendFailure(c.hands.Lower(ctx, c.self.DisplayName))
}

// DismissHand clears one raised hand locally.
func (c *Controller) DismissHand(ctx context.Context, participantID string) (bool, error) {
	if err := c.guard(ctx, policy.ActionDismissHand); err != nil {
		return false, err
	}
	return c.hands.Dismiss(participantID), nil
}

// DismissAllHands clears every raised hand locally.
func (c *Controller) DismissAllHands(ctx context.Context) (int, error) {
	if err := c.guard(ctx, policy.ActionDismissHand); err != nil {
		return 0, err
	}
	return c.hands.DismissAll(), nil
}

// RequestMedia asks the teacher to turn a local device on or off.
func (c *Controller) RequestMedia(ctx context.Context, device signaling.Device, desired bool) error {
	if err := c.guard(ctx, policy.ActionRequestMedia); err != nil {
		return err
	}
	return c.sendFailure(c.media.Request(ctx, c.self.DisplayName, device, desired))
}

// RespondMedia approves or denies a pending media request.
func (c *Controller) RespondMedia(ctx context.Context, participantID string, device signaling.Device, approve bool) error {
	if err := c.guard(ctx, policy.ActionRespondMedia); err != nil {
		return err
	}
	if !approve {
		return c.media.Deny(participantID, device)
	}
	return c.sendFailure(c.media.Approve(ctx, participantID, device))
}

// Mute asks a participant's client to turn a device off.
func (c *Controller) Mute(ctx context.Context, participantID string, device signaling.Device) error {
	if err := c.guard(ctx, policy.ActionMute); err != nil {
		return err
	}
	return c.sendFailure(c.media.Mute(ctx, participantID, device))
}

// RequestLeave asks the teacher for permission to leave.
func (c *Controller) RequestLeave(ctx context.Context) error {
	if err := c.guard(ctx, policy.ActionRequestLeave); err != nil {
		return err
	}
	return c.sendFailure(c.leave.Request(ctx, c.self.DisplayName))
}

// RespondLeave approves or denies a pending leave request.
func (c *Controller) RespondLeave(ctx context.Context, participantID string, approve bool) error {
	if err := c.guard(ctx, policy.ActionRespondLeave); err != nil {
		return err
	}
	if approve {
		return c.sendFailure(c.leave.Approve(ctx, participantID))
	}
	return c.sendFailure(c.leave.Deny(ctx, participantID))
}

// SendChat moderates and sends a chat message. A blocked message is reported in the
// outcome, not as an error.
func (c *Controller) SendChat(ctx context.Context, text string) (chat.Outcome, error) {
	if err := c.guard(ctx, policy.ActionChat); err != nil {
		return chat.Outcome{}, err
	}
	outcome, err := c.chat.Send(ctx, text)
	if err != nil {
		return outcome, c.sendFailure(err)
	}
	if outcome.Blocked {
		if notice, ok := c.chat.Notice(); ok {
			c.emit(Event{Kind: EventNotice, Message: notice.Message})
		}
	}
	return outcome, nil
}

// Kick removes a participant from the room. Kicking someone who already left is a no-op.
func (c *Controller) Kick(ctx context.Context, participantID string) error {
	if err := c.guard(ctx, policy.ActionKick); err != nil {
		return err
	}
	if c.rooms != nil {
		if err := c.rooms.RemoveParticipant(ctx, c.session.ID, participantID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return c.transportFailure("Could not remove the participant", err)
		}
	}
	c.roster.Leave(participantID)
	return nil
}

func (c *Controller) guard(ctx context.Context, action policy.Action) error {
	if err := c.authorize(ctx, action); err != nil {
		return err
	}
	return c.active()
}

// sendFailure surfaces a failed signal as a soft notice. Non-transport errors pass through.
func (c *Controller) sendFailure(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperrors.ErrTransport) {
		c.emit(Event{Kind: EventNotice, Message: "Message could not be delivered. Please try again."})
	}
	return err
}

func (c *Controller) transportFailure(message string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && !errors.Is(err, apperrors.ErrTransport) {
		return err
	}
	c.log.Warn(message, zap.Error(err))
	c.emit(Event{Kind: EventNotice, Message: message + "."})
	return apperrors.ErrTransport.WithMessage(message).WithInternal(err)
}
