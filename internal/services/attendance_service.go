package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/liveclass/internal/models"
)

// AttendanceEntry is one join observed by the room relay.
type AttendanceEntry struct {
	SessionID     string
	ParticipantID string
	DisplayName   string
	Role          string
	Hidden        bool
	At            time.Time
}

// AttendanceService records who was in a class room and when.
type AttendanceService struct {
	db      *gorm.DB
	timeNow func() time.Time
}

// AttendanceOption customises an AttendanceService.
type AttendanceOption func(*AttendanceService)

// WithAttendanceClock overrides the clock used for entries without a timestamp.
func WithAttendanceClock(clock func() time.Time) AttendanceOption {
	return func(s *AttendanceService) {
		if clock != nil {
			s.timeNow = clock
		}
	}
}

// NewAttendanceService constructs the service.
func NewAttendanceService(db *gorm.DB, opts ...AttendanceOption) (*AttendanceService, error) {
	if db == nil {
		return nil, errors.New("attendance service: db is required")
	}
	s := &AttendanceService{db: db, timeNow: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RecordJoin opens an attendance record. A participant already present keeps its open record.
func (s *AttendanceService) RecordJoin(ctx context.Context, entry AttendanceEntry) error {
	ctx = ensureContext(ctx)
	if trimmed(entry.SessionID) == "" || trimmed(entry.ParticipantID) == "" {
		return errors.New("attendance service: session and participant are required")
	}
	at := entry.At
	if at.IsZero() {
		at = s.timeNow()
	}

	var open int64
	if err := s.db.WithContext(ctx).Model(&models.AttendanceRecord{}).
		Where("session_id = ? AND participant_id = ? AND left_at IS NULL", entry.SessionID, entry.ParticipantID).
		Count(&open).Error; err != nil {
		return fmt.Errorf("attendance service: lookup: %w", err)
	}
	if open > 0 {
		return nil
	}

	record := models.AttendanceRecord{
		SessionID:     trimmed(entry.SessionID),
		ParticipantID: trimmed(entry.ParticipantID),
		DisplayName:   trimmed(entry.DisplayName),
		Role:          trimmed(entry.Role),
		Hidden:        entry.Hidden,
		JoinedAt:      at.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("attendance service: create: %w", err)
	}
	return nil
}

// RecordLeave closes the participant's open record. Leaving without an open record is a no-op.
func (s *AttendanceService) RecordLeave(ctx context.Context, sessionID, participantID string, at time.Time) error {
	ctx = ensureContext(ctx)
	if at.IsZero() {
		at = s.timeNow()
	}
	if err := s.db.WithContext(ctx).Model(&models.AttendanceRecord{}).
		Where("session_id = ? AND participant_id = ? AND left_at IS NULL", trimmed(sessionID), trimmed(participantID)).
		Update("left_at", at.UTC()).Error; err != nil {
		return fmt.Errorf("attendance service: close: %w", err)
	}
	return nil
}

// CloseSession closes every open record of a session, used when the room shuts down.
func (s *AttendanceService) CloseSession(ctx context.Context, sessionID string, at time.Time) error {
	ctx = ensureContext(ctx)
	if at.IsZero() {
		at = s.timeNow()
	}
	if err := s.db.WithContext(ctx).Model(&models.AttendanceRecord{}).
		Where("session_id = ? AND left_at IS NULL", trimmed(sessionID)).
		Update("left_at", at.UTC()).Error; err != nil {
		return fmt.Errorf("attendance service: close session: %w", err)
	}
	return nil
}

// List returns the session's records ordered by join time. Hidden participants are included
// only when withHidden is set.
func (s *AttendanceService) List(ctx context.Context, sessionID string, withHidden bool) ([]models.AttendanceRecord, error) {
	query := s.db.WithContext(ensureContext(ctx)).Where("session_id = ?", trimmed(sessionID))
	if !withHidden {
		query = query.Where("hidden = ?", false)
	}
	var records []models.AttendanceRecord
	if err := query.Order("joined_at ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("attendance service: list: %w", err)
	}
	return records, nil
}

// PruneOlderThan deletes closed records that ended before cutoff.
func (s *AttendanceService) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ensureContext(ctx)).
		Where("left_at IS NOT NULL AND left_at < ?", cutoff.UTC()).
		Delete(&models.AttendanceRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("attendance service: prune: %w", result.Error)
	}
	return result.RowsAffected, nil
}
