package models

import (
	"time"

	"gorm.io/datatypes"
)

// ViolationRecord is an audited contact-sharing attempt blocked on a client.
type ViolationRecord struct {
	BaseModel

	SessionID       string                      `gorm:"type:uuid;not null;index" json:"session_id"`
	ParticipantID   string                      `gorm:"type:varchar(128);not null;index" json:"participant_id"`
	DisplayName     string                      `gorm:"type:varchar(255)" json:"display_name"`
	Role            string                      `gorm:"type:varchar(16)" json:"role"`
	OffendingText   string                      `gorm:"type:text;not null" json:"offending_text"`
	MatchedPatterns datatypes.JSONSlice[string] `gorm:"type:json" json:"matched_patterns"`
	Severity        string                      `gorm:"type:varchar(16);not null;index" json:"severity"`
	OccurredAt      time.Time                   `gorm:"not null;index" json:"occurred_at"`
	Fingerprint     string                      `gorm:"type:varchar(64);not null;uniqueIndex" json:"-"`
}
