package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/liveclass/internal/models"
	"github.com/charlesng35/liveclass/internal/monitoring"
	"github.com/charlesng35/liveclass/pkg/logger"
)

const (
	defaultViolationRetention  = 90 * 24 * time.Hour
	defaultAttendanceRetention = 365 * 24 * time.Hour
	defaultExpireSpec          = "@every 1m"
	defaultRetentionSpec       = "@daily"

	jobExpire    = "session_expiry"
	jobRetention = "retention"

	// CloseReasonExpired is sent to participants of rooms closed by the expiry sweep.
	CloseReasonExpired = "session time is over"
)

// SessionExpirer closes sessions whose scheduled end has passed.
type SessionExpirer interface {
	ExpireOverdue(ctx context.Context) ([]models.ClassSession, error)
}

// RoomCloser disconnects everyone still in a session's room.
type RoomCloser interface {
	CloseRoom(sessionID, reason string) bool
}

// Pruner deletes records older than a cutoff.
type Pruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AttendanceCloser closes open attendance records when a room shuts down.
type AttendanceCloser interface {
	CloseSession(ctx context.Context, sessionID string, at time.Time) error
}

// Cleaner coordinates background maintenance: closing overdue sessions and their rooms,
// and pruning old audit and attendance data.
type Cleaner struct {
	sessions   SessionExpirer
	rooms      RoomCloser
	attendance AttendanceCloser
	violations Pruner
	history    Pruner
	counters   Pruner
	cron       *cron.Cron
	now        func() time.Time
	log        *zap.Logger

	violationRetention  time.Duration
	attendanceRetention time.Duration
	expireSchedule      string
	retentionSchedule   string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for retention cutoffs.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithRooms closes the rooms of expired sessions.
func WithRooms(rooms RoomCloser) Option {
	return func(cleaner *Cleaner) {
		cleaner.rooms = rooms
	}
}

// WithAttendance wires attendance closing on expiry and attendance retention.
func WithAttendance(attendance interface {
	AttendanceCloser
	Pruner
}) Option {
	return func(cleaner *Cleaner) {
		if attendance != nil {
			cleaner.attendance = attendance
			cleaner.history = attendance
		}
	}
}

// WithRateCounters prunes rate limit counters whose window has closed.
func WithRateCounters(counters Pruner) Option {
	return func(cleaner *Cleaner) {
		cleaner.counters = counters
	}
}

// WithViolationRetention adjusts how long violation reports are kept.
func WithViolationRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.violationRetention = d
		}
	}
}

// WithAttendanceRetention adjusts how long closed attendance records are kept.
func WithAttendanceRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.attendanceRetention = d
		}
	}
}

// WithExpireSchedule overrides the cron expression for the expiry sweep.
func WithExpireSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.expireSchedule = spec
		}
	}
}

// WithRetentionSchedule overrides the cron expression for retention enforcement.
func WithRetentionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.retentionSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency results in
// the corresponding job being skipped.
func NewCleaner(sessions SessionExpirer, violations Pruner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sessions:            sessions,
		violations:          violations,
		now:                 time.Now,
		violationRetention:  defaultViolationRetention,
		attendanceRetention: defaultAttendanceRetention,
		expireSchedule:      defaultExpireSpec,
		retentionSchedule:   defaultRetentionSpec,
		log:                 logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	enabled := false

	if c.sessions != nil {
		if _, err := c.cron.AddFunc(c.expireSchedule, func() {
			_ = c.ExpireSessions(context.Background())
		}); err != nil {
			return err
		}
		enabled = true
	}

	if c.violations != nil || c.history != nil || c.counters != nil {
		if _, err := c.cron.AddFunc(c.retentionSchedule, func() {
			_ = c.EnforceRetention(context.Background())
		}); err != nil {
			return err
		}
		enabled = true
	}

	if enabled {
		c.cron.Start()
	}
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured jobs sequentially. Primarily used in tests and during
// start-up to catch sessions that expired while the server was down.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return multierr.Combine(
		c.ExpireSessions(ctx),
		c.EnforceRetention(ctx),
	)
}

// ExpireSessions closes overdue sessions and shuts their rooms.
func (c *Cleaner) ExpireSessions(ctx context.Context) error {
	if c.sessions == nil {
		return nil
	}
	started := time.Now()

	closed, err := c.sessions.ExpireOverdue(ctx)
	var errs error
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	for _, session := range closed {
		if c.rooms != nil && c.rooms.CloseRoom(session.ID, CloseReasonExpired) {
			c.log.Info("closed room of expired session", zap.String("session_id", session.ID))
		}
		if c.attendance != nil {
			if err := c.attendance.CloseSession(ctx, session.ID, c.now()); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}

	c.record(jobExpire, errs, started)
	return errs
}

// EnforceRetention prunes violation reports and attendance history past retention, and
// expired rate limit counters.
func (c *Cleaner) EnforceRetention(ctx context.Context) error {
	if c.violations == nil && c.history == nil && c.counters == nil {
		return nil
	}
	started := time.Now()
	now := c.now()

	var errs error
	if c.violations != nil && c.violationRetention > 0 {
		removed, err := c.violations.PruneOlderThan(ctx, now.Add(-c.violationRetention))
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if removed > 0 {
			c.log.Info("pruned violation reports", zap.Int64("removed", removed))
		}
	}
	if c.history != nil && c.attendanceRetention > 0 {
		removed, err := c.history.PruneOlderThan(ctx, now.Add(-c.attendanceRetention))
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if removed > 0 {
			c.log.Info("pruned attendance records", zap.Int64("removed", removed))
		}
	}
	if c.counters != nil {
		if _, err := c.counters.PruneOlderThan(ctx, now); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	c.record(jobRetention, errs, started)
	return errs
}

func (c *Cleaner) record(job string, err error, started time.Time) {
	duration := time.Since(started)
	if err != nil {
		c.log.Warn("maintenance job failed", zap.String("job", job), zap.Error(err))
		monitoring.RecordMaintenanceRun(job, "failure", err.Error(), duration)
		return
	}
	monitoring.RecordMaintenanceRun(job, "success", "", duration)
}
