package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/liveclass/internal/lifecycle"
	"github.com/charlesng35/liveclass/internal/models"
	"github.com/charlesng35/liveclass/internal/monitoring"
	apperrors "github.com/charlesng35/liveclass/pkg/errors"
	"github.com/charlesng35/liveclass/pkg/logger"
)

// ScheduleSessionParams describes a session a teacher wants to hold.
type ScheduleSessionParams struct {
	OwnerID           string
	Title             string
	ScheduledStart    *time.Time
	DurationMinutes   int
	PrepBufferMinutes int
	MaxSessionsPerDay int
}

// ClassSessionService persists class sessions and enforces the lifecycle status machine
// on every write.
type ClassSessionService struct {
	db               *gorm.DB
	timeNow          func() time.Time
	warningThreshold time.Duration
	log              *zap.Logger
}

// ClassSessionOption customises the service.
type ClassSessionOption func(*ClassSessionService)

// WithClassSessionClock overrides the clock used for lifecycle checks (test helper).
func WithClassSessionClock(clock func() time.Time) ClassSessionOption {
	return func(s *ClassSessionService) {
		if clock != nil {
			s.timeNow = clock
		}
	}
}

// WithWarningThreshold sets the threshold used by lifecycle snapshots.
func WithWarningThreshold(d time.Duration) ClassSessionOption {
	return func(s *ClassSessionService) {
		if d > 0 {
			s.warningThreshold = d
		}
	}
}

// NewClassSessionService constructs the service.
func NewClassSessionService(db *gorm.DB, opts ...ClassSessionOption) (*ClassSessionService, error) {
	if db == nil {
		return nil, errors.New("class session service: db is required")
	}
	svc := &ClassSessionService{
		db:               db,
		timeNow:          time.Now,
		warningThreshold: lifecycle.DefaultWarningThreshold,
		log:              logger.WithModule("class_sessions"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Now returns the service clock.
func (s *ClassSessionService) Now() time.Time {
	return s.timeNow()
}

// Schedule stores a new session in the scheduled state.
func (s *ClassSessionService) Schedule(ctx context.Context, params ScheduleSessionParams) (*models.ClassSession, error) {
	ctx = ensureContext(ctx)

	ownerID := trimmed(params.OwnerID)
	if ownerID == "" {
		return nil, apperrors.NewBadRequest("owner id is required")
	}
	if params.DurationMinutes < 0 || params.PrepBufferMinutes < 0 || params.MaxSessionsPerDay < 0 {
		return nil, apperrors.NewBadRequest("durations and limits must not be negative")
	}

	var start *time.Time
	if params.ScheduledStart != nil && !params.ScheduledStart.IsZero() {
		utc := params.ScheduledStart.UTC()
		start = &utc
	}

	session := models.ClassSession{
		OwnerID:           ownerID,
		Title:             trimmed(params.Title),
		ScheduledStart:    start,
		DurationMinutes:   params.DurationMinutes,
		PrepBufferMinutes: params.PrepBufferMinutes,
		MaxSessionsPerDay: params.MaxSessionsPerDay,
		Status:            string(lifecycle.StatusScheduled),
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, fmt.Errorf("class session service: create: %w", err)
	}
	return &session, nil
}

// Get loads a session by id.
func (s *ClassSessionService) Get(ctx context.Context, id string) (*models.ClassSession, error) {
	return s.load(s.db.WithContext(ensureContext(ctx)), id)
}

func (s *ClassSessionService) load(tx *gorm.DB, id string) (*models.ClassSession, error) {
	id = trimmed(id)
	if id == "" {
		return nil, apperrors.ErrSessionNotFound
	}
	var session models.ClassSession
	if err := tx.Take(&session, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("class session service: load %s: %w", id, err)
	}
	return &session, nil
}

// Engine builds a lifecycle engine reflecting the persisted state of session.
func (s *ClassSessionService) Engine(session *models.ClassSession) *lifecycle.Engine {
	var start time.Time
	if session.ScheduledStart != nil {
		start = *session.ScheduledStart
	}
	opts := []lifecycle.Option{
		lifecycle.WithStatus(lifecycle.ParseStatus(session.Status)),
		lifecycle.WithWarningThreshold(s.warningThreshold),
	}
	if session.LiveSince != nil {
		opts = append(opts, lifecycle.WithLiveSince(*session.LiveSince))
	}
	return lifecycle.NewEngine(lifecycle.NewSchedule(start, session.DurationMinutes, session.PrepBufferMinutes), opts...)
}

// Snapshot returns the session with its lifecycle view at the current time.
func (s *ClassSessionService) Snapshot(ctx context.Context, id string) (*models.ClassSession, lifecycle.Snapshot, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, lifecycle.Snapshot{}, err
	}
	return session, s.Engine(session).Snapshot(s.timeNow()), nil
}

// Joinable reports whether participants may enter the room now: inside the start window
// while scheduled, or any time before the end while live.
func (s *ClassSessionService) Joinable(session *models.ClassSession) bool {
	now := s.timeNow()
	engine := s.Engine(session)
	if engine.CanStart(now) {
		return true
	}
	if engine.Status() != lifecycle.StatusLive {
		return false
	}
	remaining, countdown := engine.Remaining(now)
	return !countdown || remaining > 0
}

// GoLive moves a scheduled session live, enforcing the owner's daily limit.
func (s *ClassSessionService) GoLive(ctx context.Context, id string) (*models.ClassSession, error) {
	ctx = ensureContext(ctx)
	now := s.timeNow().UTC()

	var updated *models.ClassSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.load(tx, id)
		if err != nil {
			return err
		}
		if err := s.Engine(session).GoLive(now); err != nil {
			return err
		}

		if session.MaxSessionsPerDay > 0 {
			count, err := s.countLiveOn(tx, session.OwnerID, now)
			if err != nil {
				return err
			}
			if count >= session.MaxSessionsPerDay {
				return apperrors.ErrDailyLimit
			}
		}

		result := tx.Model(&models.ClassSession{}).
			Where("id = ? AND status = ?", session.ID, string(lifecycle.StatusScheduled)).
			Updates(map[string]any{"status": string(lifecycle.StatusLive), "live_since": now})
		if result.Error != nil {
			return fmt.Errorf("class session service: go live: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperrors.ErrLifecycle.WithMessage("session changed state concurrently")
		}
		session.Status = string(lifecycle.StatusLive)
		session.LiveSince = &now
		updated = session
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.RecordLifecycleTransition(string(lifecycle.StatusScheduled), string(lifecycle.StatusLive))
	s.log.Info("session live", zap.String("session_id", updated.ID), zap.String("owner_id", updated.OwnerID))
	return updated, nil
}

// End terminates a session: live sessions end, scheduled ones are cancelled. Ending a
// terminal session is a no-op reported through changed=false.
func (s *ClassSessionService) End(ctx context.Context, id string) (session *models.ClassSession, changed bool, err error) {
	ctx = ensureContext(ctx)
	session, err = s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return s.close(ctx, session)
}

// Cancel cancels a session that never went live. Cancelling twice is a no-op.
func (s *ClassSessionService) Cancel(ctx context.Context, id string) (*models.ClassSession, bool, error) {
	ctx = ensureContext(ctx)
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	from := lifecycle.ParseStatus(session.Status)
	if from == lifecycle.StatusCancelled {
		return session, false, nil
	}
	if err := lifecycle.Transition(from, lifecycle.StatusCancelled); err != nil {
		return nil, false, err
	}
	return s.close(ctx, session)
}

func (s *ClassSessionService) close(ctx context.Context, session *models.ClassSession) (*models.ClassSession, bool, error) {
	from := lifecycle.ParseStatus(session.Status)
	to, ok := lifecycle.Closing(from)
	if !ok {
		return session, false, nil
	}

	now := s.timeNow().UTC()
	result := s.db.WithContext(ctx).Model(&models.ClassSession{}).
		Where("id = ? AND status = ?", session.ID, string(from)).
		Updates(map[string]any{"status": string(to), "closed_at": now})
	if result.Error != nil {
		return nil, false, fmt.Errorf("class session service: close: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Someone else closed it first.
		current, err := s.Get(ctx, session.ID)
		if err != nil {
			return nil, false, err
		}
		return current, false, nil
	}

	session.Status = string(to)
	session.ClosedAt = &now
	monitoring.RecordLifecycleTransition(string(from), string(to))
	if from == lifecycle.StatusLive && session.LiveSince != nil {
		monitoring.RecordSessionClosed(now.Sub(*session.LiveSince))
	}
	s.log.Info("session closed",
		zap.String("session_id", session.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return session, true, nil
}

// LiveSessionsOn counts the owner's sessions that went live on the calendar day of day.
func (s *ClassSessionService) LiveSessionsOn(ctx context.Context, ownerID string, day time.Time) (int, error) {
	return s.countLiveOn(s.db.WithContext(ensureContext(ctx)), ownerID, day)
}

func (s *ClassSessionService) countLiveOn(tx *gorm.DB, ownerID string, day time.Time) (int, error) {
	from, to := dayBounds(day)
	var count int64
	if err := tx.Model(&models.ClassSession{}).
		Where("owner_id = ? AND live_since >= ? AND live_since < ?", trimmed(ownerID), from.UTC(), to.UTC()).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("class session service: count live sessions: %w", err)
	}
	return int(count), nil
}

// ExpireOverdue closes every open session whose scheduled end has passed and returns the
// sessions it closed.
func (s *ClassSessionService) ExpireOverdue(ctx context.Context) ([]models.ClassSession, error) {
	ctx = ensureContext(ctx)
	now := s.timeNow().UTC()

	var open []models.ClassSession
	if err := s.db.WithContext(ctx).
		Where("status IN ? AND scheduled_start IS NOT NULL AND scheduled_start < ? AND duration_minutes > 0",
			[]string{string(lifecycle.StatusScheduled), string(lifecycle.StatusLive)}, now).
		Find(&open).Error; err != nil {
		return nil, fmt.Errorf("class session service: list open sessions: %w", err)
	}

	var closed []models.ClassSession
	for i := range open {
		end := open[i].EndsAt()
		if end == nil || now.Before(*end) {
			continue
		}
		session, changed, err := s.close(ctx, &open[i])
		if err != nil {
			return closed, err
		}
		if changed {
			closed = append(closed, *session)
		}
	}
	return closed, nil
}
