package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/liveclass/internal/models"
	"github.com/charlesng35/liveclass/internal/moderation"
	"github.com/charlesng35/liveclass/pkg/crypto"
	apperrors "github.com/charlesng35/liveclass/pkg/errors"
)

// ViolationService stores moderation violation reports for audit.
type ViolationService struct {
	db *gorm.DB
}

// NewViolationService constructs the service.
func NewViolationService(db *gorm.DB) (*ViolationService, error) {
	if db == nil {
		return nil, errors.New("violation service: db is required")
	}
	return &ViolationService{db: db}, nil
}

// Fingerprint identifies a report so client retries and duplicate deliveries collapse.
func Fingerprint(report moderation.ViolationReport) string {
	return crypto.Digest(
		report.SessionID,
		report.ParticipantID,
		report.OccurredAt.UTC().Format(time.RFC3339Nano),
		report.OffendingText,
	)
}

// Record stores report. created is false when an identical report was already stored.
func (s *ViolationService) Record(ctx context.Context, report moderation.ViolationReport) (*models.ViolationRecord, bool, error) {
	ctx = ensureContext(ctx)
	if trimmed(report.SessionID) == "" || trimmed(report.ParticipantID) == "" {
		return nil, false, apperrors.NewBadRequest("session_id and participant_id are required")
	}
	if trimmed(report.OffendingText) == "" {
		return nil, false, apperrors.NewBadRequest("offending_text is required")
	}
	if report.OccurredAt.IsZero() {
		return nil, false, apperrors.NewBadRequest("occurred_at is required")
	}

	record := models.ViolationRecord{
		SessionID:       trimmed(report.SessionID),
		ParticipantID:   trimmed(report.ParticipantID),
		DisplayName:     trimmed(report.DisplayName),
		Role:            trimmed(report.Role),
		OffendingText:   report.OffendingText,
		MatchedPatterns: report.MatchedPatterns,
		Severity:        report.Severity.String(),
		OccurredAt:      report.OccurredAt.UTC(),
		Fingerprint:     Fingerprint(report),
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "fingerprint"}}, DoNothing: true}).
		Create(&record)
	if result.Error != nil && !isDuplicateKey(result.Error) {
		return nil, false, fmt.Errorf("violation service: create: %w", result.Error)
	}
	if result.Error == nil && result.RowsAffected > 0 {
		return &record, true, nil
	}

	var existing models.ViolationRecord
	if err := s.db.WithContext(ctx).Take(&existing, "fingerprint = ?", record.Fingerprint).Error; err != nil {
		return nil, false, fmt.Errorf("violation service: load duplicate: %w", err)
	}
	return &existing, false, nil
}

// List returns the session's violations, newest first.
func (s *ViolationService) List(ctx context.Context, sessionID string) ([]models.ViolationRecord, error) {
	var records []models.ViolationRecord
	if err := s.db.WithContext(ensureContext(ctx)).
		Where("session_id = ?", trimmed(sessionID)).
		Order("occurred_at DESC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("violation service: list: %w", err)
	}
	return records, nil
}

// PruneOlderThan deletes violations that occurred before cutoff.
func (s *ViolationService) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ensureContext(ctx)).
		Where("occurred_at < ?", cutoff.UTC()).
		Delete(&models.ViolationRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("violation service: prune: %w", result.Error)
	}
	return result.RowsAffected, nil
}
